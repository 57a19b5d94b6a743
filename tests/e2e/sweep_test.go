package e2e_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gpusweep/internal/config"
	"gpusweep/internal/control"
	"gpusweep/internal/journal"
	"gpusweep/internal/provisioning"
	"gpusweep/internal/sweep"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// CreateCall records a call to Provisioner.Create
type CreateCall struct {
	Zone  string
	Name  string
	Disks []provisioning.BootDisk
	Opts  provisioning.CreateOptions
}

// DeleteCall records a call to Provisioner.Delete
type DeleteCall struct {
	Zone string
	Name string
}

// MockProvisioner implements provisioning.Provisioner with per-zone failures
type MockProvisioner struct {
	mu          sync.Mutex
	IP          string
	CreateErrs  map[string]error
	CreateCalls []CreateCall
	DeleteCalls []DeleteCall
}

func NewMockProvisioner(ip string) *MockProvisioner {
	return &MockProvisioner{
		IP:         ip,
		CreateErrs: make(map[string]error),
	}
}

func (m *MockProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	return fmt.Sprintf("https://compute.example.com/projects/%s/global/images/%s-v20250601", project, family), nil
}

func (m *MockProvisioner) Create(ctx context.Context, zone, name string, disks []provisioning.BootDisk, opts provisioning.CreateOptions) (*provisioning.InstanceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.CreateErrs[zone]; err != nil {
		return nil, err
	}

	m.CreateCalls = append(m.CreateCalls, CreateCall{Zone: zone, Name: name, Disks: disks, Opts: opts})
	return &provisioning.InstanceInfo{
		ID:     "mock-instance-" + name,
		IP:     m.IP,
		Name:   name,
		Zone:   zone,
		Status: "RUNNING",
	}, nil
}

func (m *MockProvisioner) Delete(ctx context.Context, zone, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{Zone: zone, Name: name})
	return nil
}

// CommandCall records a call to Runner.Run
type CommandCall struct {
	Host    string
	Command string
}

// MockRunner implements control.Runner with call tracking
type MockRunner struct {
	mu       sync.Mutex
	Config   control.Config
	Commands []CommandCall
}

func (m *MockRunner) Run(ctx context.Context, host, command string) error {
	m.mu.Lock()
	m.Commands = append(m.Commands, CommandCall{Host: host, Command: command})
	m.mu.Unlock()

	// Reboots drop the connection on the real thing
	if command == "sudo reboot now" {
		return errors.New("remote command exited without exit status")
	}
	return nil
}

func (m *MockRunner) Collect(host, remotePath, localPath string) error {
	return nil
}

func testConfig(regions ...string) *config.Config {
	return &config.Config{
		Provider:        config.ProviderConfig{Type: config.ProviderGCP},
		SourceProject:   "ubuntu-os-cloud",
		SourceFamily:    "ubuntu-2204-lts",
		Regions:         regions,
		MachineType:     "g2-standard-4",
		DiskSizeGB:      20,
		SSHUser:         "Dell",
		SSHKeyPath:      "id_rsa",
		CooldownSeconds: 30,
	}
}

var _ = Describe("Region Sweep E2E", func() {
	var (
		provisioner *MockProvisioner
		runner      *MockRunner
		jrnl        *journal.MemoryJournal
		sleeps      []time.Duration
		ctx         context.Context
	)

	newSweeper := func(cfg *config.Config) *sweep.Sweeper {
		s := sweep.New(cfg, provisioner, jrnl)
		s.RunnerFactory = func(c control.Config) (control.Runner, error) {
			runner.Config = c
			return runner, nil
		}
		s.Sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
		s.NewRunID = func() string { return "e2e-run" }
		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		provisioner = NewMockProvisioner("203.0.113.5")
		runner = &MockRunner{}
		jrnl = journal.NewMemoryJournal()
		sleeps = nil
	})

	Context("Successful Region", func() {
		It("should run the full setup sequence and tear the instance down", func() {
			s := newSweeper(testConfig("us-west1-a"))
			Expect(s.Run(ctx)).To(Succeed())

			// Instance spec
			Expect(provisioner.CreateCalls).To(HaveLen(1))
			create := provisioner.CreateCalls[0]
			Expect(create.Zone).To(Equal("us-west1-a"))
			Expect(create.Name).To(Equal("vm-us-west1-a"))
			Expect(create.Opts.MachineType).To(Equal("g2-standard-4"))
			Expect(create.Opts.ExternalAccess).To(BeTrue())
			Expect(create.Disks).To(HaveLen(1))
			Expect(create.Disks[0].Boot).To(BeTrue())
			Expect(create.Disks[0].AutoDelete).To(BeTrue())
			Expect(create.Disks[0].SizeGB).To(Equal(int64(20)))
			Expect(create.Disks[0].Type).To(Equal("zones/us-west1-a/diskTypes/pd-standard"))
			Expect(create.Disks[0].SourceImage).To(ContainSubstring("ubuntu-2204-lts"))

			// SSH identity
			Expect(runner.Config.User).To(Equal("Dell"))
			Expect(runner.Config.PrivateKeyPath).To(Equal("id_rsa"))

			// Exactly the fourteen setup commands, in order, against the new IP
			expected := sweep.DefaultSetupCommands()
			Expect(runner.Commands).To(HaveLen(14))
			for i, call := range runner.Commands {
				Expect(call.Host).To(Equal("203.0.113.5"))
				Expect(call.Command).To(Equal(expected[i]))
			}

			// One delete, then the cooldown
			Expect(provisioner.DeleteCalls).To(Equal([]DeleteCall{{Zone: "us-west1-a", Name: "vm-us-west1-a"}}))
			Expect(sleeps).To(Equal([]time.Duration{30 * time.Second}))

			entries, err := jrnl.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Outcome).To(Equal(journal.OutcomeCreated))
			Expect(entries[0].CommandsRun).To(Equal(14))
			Expect(entries[1].Outcome).To(Equal(journal.OutcomeDeleted))
		})

		It("should not stop when a setup command fails", func() {
			// The mock runner fails both reboot commands; the sequence and the
			// teardown must still run to completion
			s := newSweeper(testConfig("us-west1-a"))
			Expect(s.Run(ctx)).To(Succeed())

			Expect(runner.Commands).To(HaveLen(14))
			Expect(provisioner.DeleteCalls).To(HaveLen(1))
		})
	})

	Context("Region Without Capacity", func() {
		It("should skip a forbidden region without touching it further", func() {
			provisioner.CreateErrs["us-west1-a"] = &provisioning.Error{
				Kind:    provisioning.KindForbidden,
				Op:      "instance creation",
				Code:    "403",
				Message: "quota exceeded",
			}

			s := newSweeper(testConfig("us-west1-a", "us-central1-a"))
			Expect(s.Run(ctx)).To(Succeed())

			// Nothing ran against the skipped region
			Expect(provisioner.CreateCalls).To(HaveLen(1))
			Expect(provisioner.CreateCalls[0].Zone).To(Equal("us-central1-a"))
			Expect(provisioner.DeleteCalls).To(HaveLen(1))
			Expect(provisioner.DeleteCalls[0].Name).To(Equal("vm-us-central1-a"))
			Expect(runner.Commands).To(HaveLen(14))

			entries, err := jrnl.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries[0].Outcome).To(Equal(journal.OutcomeSkipped))
			Expect(entries[0].Region).To(Equal("us-west1-a"))
			Expect(entries[0].Detail).To(Equal("forbidden"))
		})

		It("should skip every classified failure kind", func() {
			provisioner.CreateErrs["a-1"] = &provisioning.Error{Kind: provisioning.KindBadRequest, Op: "instance creation"}
			provisioner.CreateErrs["b-1"] = &provisioning.Error{Kind: provisioning.KindUnavailable, Op: "instance creation"}
			provisioner.CreateErrs["c-1"] = &provisioning.Error{Kind: provisioning.KindConflict, Op: "instance creation"}

			s := newSweeper(testConfig("a-1", "b-1", "c-1", "d-1"))
			Expect(s.Run(ctx)).To(Succeed())

			Expect(provisioner.CreateCalls).To(HaveLen(1))
			Expect(provisioner.CreateCalls[0].Zone).To(Equal("d-1"))
			Expect(sleeps).To(HaveLen(1))
		})
	})

	Context("Unclassified Failure", func() {
		It("should abort the run and leave later regions untouched", func() {
			provisioner.CreateErrs["us-west1-a"] = errors.New("connection reset by peer")

			s := newSweeper(testConfig("us-west1-a", "us-central1-a", "europe-west4-a"))
			Expect(s.Run(ctx)).To(HaveOccurred())

			Expect(provisioner.CreateCalls).To(BeEmpty())
			Expect(provisioner.DeleteCalls).To(BeEmpty())
			Expect(runner.Commands).To(BeEmpty())
			Expect(sleeps).To(BeEmpty())

			entries, err := jrnl.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal(journal.OutcomeFailed))
		})
	})

	Context("Multiple Regions", func() {
		It("should cool down after each successful region", func() {
			s := newSweeper(testConfig("us-west1-a", "us-central1-a", "europe-west4-a"))
			Expect(s.Run(ctx)).To(Succeed())

			Expect(provisioner.CreateCalls).To(HaveLen(3))
			Expect(provisioner.DeleteCalls).To(HaveLen(3))
			Expect(runner.Commands).To(HaveLen(42))
			Expect(sleeps).To(HaveLen(3))

			names := []string{}
			for _, call := range provisioner.CreateCalls {
				names = append(names, call.Name)
			}
			Expect(names).To(Equal([]string{"vm-us-west1-a", "vm-us-central1-a", "vm-europe-west4-a"}))
		})
	})
})
