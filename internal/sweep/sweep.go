package sweep

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gpusweep/internal/config"
	"gpusweep/internal/control"
	"gpusweep/internal/journal"
	"gpusweep/internal/logging"
	"gpusweep/internal/provisioning"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceName derives the deterministic per-region instance name
func InstanceName(region string) string {
	return "vm-" + region
}

// Sweeper drives one create → configure → destroy cycle per region,
// sequentially, tolerating classified per-region failures without aborting
// the whole run.
type Sweeper struct {
	cfg         *config.Config
	provisioner provisioning.Provisioner
	journal     journal.Journal

	// RunnerFactory builds the remote command runner; replaced in tests
	RunnerFactory func(control.Config) (control.Runner, error)

	// Sleep implements the cooldown pause; replaced in tests
	Sleep func(time.Duration)

	// NewRunID generates the journal run identifier; replaced in tests
	NewRunID func() string
}

// New creates a Sweeper over the given provisioner and journal
func New(cfg *config.Config, provisioner provisioning.Provisioner, jrnl journal.Journal) *Sweeper {
	return &Sweeper{
		cfg:           cfg,
		provisioner:   provisioner,
		journal:       jrnl,
		RunnerFactory: control.NewRunner,
		Sleep:         time.Sleep,
		NewRunID:      uuid.NewString,
	}
}

// setupCommands returns the configured command sequence or the default one
func (s *Sweeper) setupCommands() []string {
	if len(s.cfg.SetupCommands) > 0 {
		return s.cfg.SetupCommands
	}
	return DefaultSetupCommands()
}

// Run executes the sweep over every configured region in order. Classified
// provider failures skip the region; anything else aborts the run.
func (s *Sweeper) Run(ctx context.Context) error {
	runID := s.NewRunID()

	logging.Logger().Info("starting sweep",
		zap.String("run_id", runID),
		zap.Strings("regions", logging.TruncateSlice(s.cfg.Regions, 20)))

	if s.cfg.Preflight {
		s.Preflight(ctx)
	}

	runner, err := s.RunnerFactory(control.Config{
		User:           s.cfg.SSHUser,
		PrivateKeyPath: s.cfg.SSHKeyPath,
		CommandTimeout: time.Duration(s.cfg.CommandTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	for _, region := range s.cfg.Regions {
		if err := s.sweepRegion(ctx, runID, runner, region); err != nil {
			return err
		}
	}

	logging.Logger().Info("sweep finished", zap.String("run_id", runID))
	return nil
}

// sweepRegion processes a single region end to end. A nil return means the
// loop may continue, whether the region was configured or skipped.
func (s *Sweeper) sweepRegion(ctx context.Context, runID string, runner control.Runner, region string) error {
	name := InstanceName(region)

	image, err := s.provisioner.ResolveImage(ctx, s.cfg.SourceProject, s.cfg.SourceFamily)
	if err != nil {
		// Image resolution failure is never region-specific; abort
		return fmt.Errorf("failed to resolve boot image: %w", err)
	}

	diskType := fmt.Sprintf("zones/%s/diskTypes/pd-standard", region)
	disks := []provisioning.BootDisk{
		provisioning.DiskFromImage(diskType, s.cfg.DiskSizeGB, true, image, true),
	}

	instance, err := s.provisioner.Create(ctx, region, name, disks, provisioning.CreateOptions{
		MachineType:    s.cfg.MachineType,
		ExternalAccess: true,
	})
	if err != nil {
		return s.handleCreateError(ctx, runID, region, name, err)
	}

	logging.Logger().Info("GPU instance created",
		zap.String("region", region),
		zap.String("name", instance.Name),
		zap.String("ip", instance.IP),
		zap.String("status", instance.Status))

	commandsRun := s.configure(ctx, runner, instance.IP)
	s.collectArtifacts(runner, instance.IP, name)

	s.record(ctx, journal.Entry{
		RunID:       runID,
		Region:      region,
		Instance:    name,
		Outcome:     journal.OutcomeCreated,
		CommandsRun: commandsRun,
		Time:        time.Now(),
	})

	if err := s.provisioner.Delete(ctx, region, name); err != nil {
		s.record(ctx, journal.Entry{
			RunID:    runID,
			Region:   region,
			Instance: name,
			Outcome:  journal.OutcomeFailed,
			Detail:   err.Error(),
			Time:     time.Now(),
		})
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}

	logging.Logger().Info("instance deleted", zap.String("name", name), zap.String("region", region))
	s.record(ctx, journal.Entry{
		RunID:    runID,
		Region:   region,
		Instance: name,
		Outcome:  journal.OutcomeDeleted,
		Time:     time.Now(),
	})

	if s.cfg.CooldownSeconds > 0 {
		s.Sleep(time.Duration(s.cfg.CooldownSeconds) * time.Second)
	}
	return nil
}

// handleCreateError recovers the four classified kinds at the region
// boundary and lets everything else abort the run
func (s *Sweeper) handleCreateError(ctx context.Context, runID, region, name string, err error) error {
	kind := provisioning.KindOf(err)

	if !kind.Recoverable() {
		s.record(ctx, journal.Entry{
			RunID:    runID,
			Region:   region,
			Instance: name,
			Outcome:  journal.OutcomeFailed,
			Detail:   err.Error(),
			Time:     time.Now(),
		})
		return fmt.Errorf("failed to create instance %s: %w", name, err)
	}

	var diagnostic string
	switch kind {
	case provisioning.KindForbidden:
		diagnostic = "a GPU instance already exists in this region, delete it first"
	case provisioning.KindBadRequest:
		diagnostic = fmt.Sprintf("the GPU is not offered in region %s, try another region", region)
	case provisioning.KindUnavailable:
		diagnostic = fmt.Sprintf("region %s does not have the resources to fulfill the request", region)
	case provisioning.KindConflict:
		diagnostic = fmt.Sprintf("a VM instance with this GPU already exists in %s", region)
	}

	logging.Logger().Warn("skipping region",
		zap.String("region", region),
		zap.String("kind", kind.String()),
		zap.String("diagnostic", diagnostic),
		zap.Error(err))

	s.record(ctx, journal.Entry{
		RunID:    runID,
		Region:   region,
		Instance: name,
		Outcome:  journal.OutcomeSkipped,
		Detail:   kind.String(),
		Time:     time.Now(),
	})
	return nil
}

// configure runs the setup sequence against the instance. Command failures
// are logged and the sequence continues regardless; reboots in particular
// always fail from the session's point of view.
func (s *Sweeper) configure(ctx context.Context, runner control.Runner, host string) int {
	commands := s.setupCommands()

	logging.Logger().Info("starting instance setup",
		zap.String("host", host),
		zap.Int("command_count", len(commands)))

	for i, command := range commands {
		logging.Logger().Debug("executing setup command",
			zap.Int("step", i+1),
			zap.Int("total", len(commands)),
			zap.String("command", logging.Truncate(command)))

		if err := runner.Run(ctx, host, command); err != nil {
			logging.Logger().Warn("setup command failed, continuing",
				zap.Int("step", i+1),
				zap.String("command", logging.Truncate(command)),
				zap.Error(err))
		}
	}

	return len(commands)
}

// collectArtifacts copies the configured remote paths into the artifacts
// directory, best effort
func (s *Sweeper) collectArtifacts(runner control.Runner, host, name string) {
	for _, remotePath := range s.cfg.CollectPaths {
		localPath := filepath.Join(s.cfg.ArtifactsDir, name, filepath.Base(remotePath))
		if err := runner.Collect(host, remotePath, localPath); err != nil {
			logging.Logger().Warn("failed to collect artifact",
				zap.String("remote_path", remotePath),
				zap.String("host", host),
				zap.Error(err))
		}
	}
}

// record writes a journal entry, logging instead of failing on error
func (s *Sweeper) record(ctx context.Context, entry journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		logging.Logger().Warn("failed to record journal entry",
			zap.String("region", entry.Region),
			zap.String("outcome", entry.Outcome),
			zap.Error(err))
	}
}
