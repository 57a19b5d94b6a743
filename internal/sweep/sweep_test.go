package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gpusweep/internal/config"
	"gpusweep/internal/control"
	"gpusweep/internal/journal"
	"gpusweep/internal/provisioning"
)

type fakeProvisioner struct {
	createErr map[string]error // region → error
	created   []string
	deleted   []string
}

func (f *fakeProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	return fmt.Sprintf("projects/%s/global/images/%s-v20250601", project, family), nil
}

func (f *fakeProvisioner) Create(ctx context.Context, zone, name string, disks []provisioning.BootDisk, opts provisioning.CreateOptions) (*provisioning.InstanceInfo, error) {
	if err := f.createErr[zone]; err != nil {
		return nil, err
	}
	f.created = append(f.created, name)
	return &provisioning.InstanceInfo{
		ID:     "id-" + name,
		IP:     "198.51.100.10",
		Name:   name,
		Zone:   zone,
		Status: "RUNNING",
	}, nil
}

func (f *fakeProvisioner) Delete(ctx context.Context, zone, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeRunner struct {
	commands []string
	hosts    []string
}

func (f *fakeRunner) Run(ctx context.Context, host, command string) error {
	f.hosts = append(f.hosts, host)
	f.commands = append(f.commands, command)
	// Reboots always kill the session; the sweep must shrug this off
	if command == "sudo reboot now" {
		return errors.New("wait: remote command exited without exit status")
	}
	return nil
}

func (f *fakeRunner) Collect(host, remotePath, localPath string) error {
	return nil
}

func newTestSweeper(cfg *config.Config, p provisioning.Provisioner, j journal.Journal, r control.Runner) (*Sweeper, *int) {
	s := New(cfg, p, j)
	s.RunnerFactory = func(control.Config) (control.Runner, error) { return r, nil }
	sleeps := 0
	s.Sleep = func(time.Duration) { sleeps++ }
	s.NewRunID = func() string { return "test-run" }
	return s, &sleeps
}

func testConfig(regions ...string) *config.Config {
	return &config.Config{
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

func TestInstanceName(t *testing.T) {
	if got := InstanceName("us-west1-a"); got != "vm-us-west1-a" {
		t.Errorf("InstanceName() = %q, want vm-us-west1-a", got)
	}
	// Pure function: same input, same output
	if InstanceName("us-west1-a") != InstanceName("us-west1-a") {
		t.Error("InstanceName is not deterministic")
	}
}

func TestDefaultSetupCommands(t *testing.T) {
	commands := DefaultSetupCommands()
	if len(commands) != 14 {
		t.Fatalf("DefaultSetupCommands() has %d commands, want 14", len(commands))
	}
	if commands[0] != "echo 'works'" {
		t.Errorf("first command = %q", commands[0])
	}
	if commands[13] != "nvcc --version" {
		t.Errorf("last command = %q", commands[13])
	}

	reboots := 0
	for _, c := range commands {
		if c == "sudo reboot now" {
			reboots++
		}
	}
	if reboots != 2 {
		t.Errorf("expected 2 reboots in the sequence, got %d", reboots)
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs(DefaultSetupCommands())
	want := "https://developer.download.nvidia.com/compute/cuda/repos/ubuntu2204/x86_64/cuda-keyring_1.1-1_all.deb"
	if len(urls) != 1 || urls[0] != want {
		t.Errorf("ExtractURLs() = %v, want [%s]", urls, want)
	}

	dup := ExtractURLs([]string{"wget http://a/x", "curl http://a/x http://b/y"})
	if len(dup) != 2 || dup[0] != "http://a/x" || dup[1] != "http://b/y" {
		t.Errorf("ExtractURLs() dedup = %v", dup)
	}

	if got := ExtractURLs([]string{"sudo apt update"}); len(got) != 0 {
		t.Errorf("ExtractURLs() = %v, want none", got)
	}
}

func TestRunSuccessfulRegion(t *testing.T) {
	p := &fakeProvisioner{}
	r := &fakeRunner{}
	j := journal.NewMemoryJournal()
	s, sleeps := newTestSweeper(testConfig("us-west1-a"), p, j, r)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(p.created) != 1 || p.created[0] != "vm-us-west1-a" {
		t.Errorf("created = %v", p.created)
	}
	if len(p.deleted) != 1 || p.deleted[0] != "vm-us-west1-a" {
		t.Errorf("deleted = %v", p.deleted)
	}
	if len(r.commands) != 14 {
		t.Errorf("ran %d commands, want 14", len(r.commands))
	}
	for _, host := range r.hosts {
		if host != "198.51.100.10" {
			t.Errorf("command targeted %q", host)
		}
	}
	if *sleeps != 1 {
		t.Errorf("cooldown slept %d times, want 1", *sleeps)
	}

	entries, _ := j.List(context.Background())
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want created+deleted", len(entries))
	}
	if entries[0].Outcome != journal.OutcomeCreated || entries[0].CommandsRun != 14 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Outcome != journal.OutcomeDeleted {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestRunSkipsClassifiedFailures(t *testing.T) {
	kinds := []provisioning.Kind{
		provisioning.KindForbidden,
		provisioning.KindBadRequest,
		provisioning.KindUnavailable,
		provisioning.KindConflict,
	}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			p := &fakeProvisioner{createErr: map[string]error{
				"us-west1-a": &provisioning.Error{Kind: kind, Op: "instance creation", Message: "nope"},
			}}
			r := &fakeRunner{}
			j := journal.NewMemoryJournal()
			s, sleeps := newTestSweeper(testConfig("us-west1-a", "us-central1-a"), p, j, r)

			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			// Skipped region: no commands, no delete; next region proceeds
			if len(p.created) != 1 || p.created[0] != "vm-us-central1-a" {
				t.Errorf("created = %v", p.created)
			}
			if len(p.deleted) != 1 || p.deleted[0] != "vm-us-central1-a" {
				t.Errorf("deleted = %v", p.deleted)
			}
			if len(r.commands) != 14 {
				t.Errorf("ran %d commands, want 14 (second region only)", len(r.commands))
			}
			if *sleeps != 1 {
				t.Errorf("cooldown slept %d times, want 1 (skips do not cool down)", *sleeps)
			}

			entries, _ := j.List(context.Background())
			if entries[0].Outcome != journal.OutcomeSkipped || entries[0].Detail != kind.String() {
				t.Errorf("skip entry = %+v", entries[0])
			}
		})
	}
}

func TestRunAbortsOnUnclassifiedFailure(t *testing.T) {
	p := &fakeProvisioner{createErr: map[string]error{
		"us-west1-a": errors.New("connection reset by peer"),
	}}
	r := &fakeRunner{}
	j := journal.NewMemoryJournal()
	s, _ := newTestSweeper(testConfig("us-west1-a", "us-central1-a"), p, j, r)

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() expected error for unclassified failure")
	}

	// No further regions attempted
	if len(p.created) != 0 {
		t.Errorf("created = %v, want none", p.created)
	}
	if len(p.deleted) != 0 {
		t.Errorf("deleted = %v, want none", p.deleted)
	}
	if len(r.commands) != 0 {
		t.Errorf("ran %d commands, want 0", len(r.commands))
	}

	entries, _ := j.List(context.Background())
	if len(entries) != 1 || entries[0].Outcome != journal.OutcomeFailed {
		t.Errorf("journal = %+v", entries)
	}
}

func TestRunCustomSetupCommands(t *testing.T) {
	cfg := testConfig("us-west1-a")
	cfg.SetupCommands = []string{"uptime"}

	p := &fakeProvisioner{}
	r := &fakeRunner{}
	s, _ := newTestSweeper(cfg, p, journal.NewMemoryJournal(), r)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(r.commands) != 1 || r.commands[0] != "uptime" {
		t.Errorf("commands = %v", r.commands)
	}
}
