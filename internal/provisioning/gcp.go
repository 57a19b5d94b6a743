package provisioning

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gpusweep/internal/logging"

	"go.uber.org/zap"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

const (
	// DefaultMachineType is used when CreateOptions leaves MachineType empty
	DefaultMachineType = "g2-standard-4"

	// DefaultNetworkLink is the auto-created per-project network
	DefaultNetworkLink = "global/networks/default"

	// DefaultOperationTimeout bounds the wait for a zone operation
	DefaultOperationTimeout = 300 * time.Second

	operationPollInterval = 5 * time.Second
)

var machineTypePattern = regexp.MustCompile(`^zones/[a-z\d\-]+/machineTypes/[a-z\d\-]+$`)

// NormalizeMachineType qualifies a bare machine type name with the zone.
// Already-qualified values pass through unchanged.
func NormalizeMachineType(zone, machineType string) string {
	if machineTypePattern.MatchString(machineType) {
		return machineType
	}
	return fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType)
}

// GCPProvisioner implements the Provisioner interface for Google Cloud
type GCPProvisioner struct {
	service   *compute.Service
	projectID string

	// Default GPU attached to every instance unless CreateOptions carries an
	// explicit accelerator list. Attachment is unconditional on purpose.
	DefaultAcceleratorType  string
	DefaultAcceleratorCount int64

	// OperationTimeout bounds create/delete operation waits
	OperationTimeout time.Duration

	// WaitForDelete blocks Delete until the operation reaches a terminal
	// state. Off by default: teardown is submitted and left to the provider.
	WaitForDelete bool
}

// NewGCPProvisioner creates a new instance of GCPProvisioner
func NewGCPProvisioner(ctx context.Context, projectID string, credentialsFile string) (*GCPProvisioner, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	return &GCPProvisioner{
		service:                 service,
		projectID:               projectID,
		DefaultAcceleratorType:  "nvidia-l4",
		DefaultAcceleratorCount: 1,
		OperationTimeout:        DefaultOperationTimeout,
	}, nil
}

// ResolveImage returns the self link of the newest image in the family
func (p *GCPProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	image, err := p.service.Images.GetFromFamily(project, family).Context(ctx).Do()
	if err != nil {
		return "", wrapGoogleAPI("image lookup", err)
	}
	return image.SelfLink, nil
}

// acceleratorTypeURL qualifies a bare accelerator type name for a zone
func (p *GCPProvisioner) acceleratorTypeURL(zone, acceleratorType string) string {
	if strings.Contains(acceleratorType, "/") {
		return acceleratorType
	}
	return fmt.Sprintf("projects/%s/zones/%s/acceleratorTypes/%s", p.projectID, zone, acceleratorType)
}

// buildInstance assembles the instance resource from disks and options
func (p *GCPProvisioner) buildInstance(zone, name string, disks []BootDisk, opts CreateOptions) *compute.Instance {
	networkLink := opts.NetworkLink
	if networkLink == "" {
		networkLink = DefaultNetworkLink
	}

	networkInterface := &compute.NetworkInterface{
		Network: networkLink,
	}
	if opts.SubnetworkLink != "" {
		networkInterface.Subnetwork = opts.SubnetworkLink
	}
	if opts.InternalIP != "" {
		networkInterface.NetworkIP = opts.InternalIP
	}
	if opts.ExternalAccess {
		access := &compute.AccessConfig{
			Type:        "ONE_TO_ONE_NAT",
			Name:        "External NAT",
			NetworkTier: "PREMIUM",
		}
		if opts.ExternalIPv4 != "" {
			access.NatIP = opts.ExternalIPv4
		}
		networkInterface.AccessConfigs = []*compute.AccessConfig{access}
	}

	attached := make([]*compute.AttachedDisk, 0, len(disks))
	for _, d := range disks {
		attached = append(attached, &compute.AttachedDisk{
			AutoDelete: d.AutoDelete,
			Boot:       d.Boot,
			Type:       "PERSISTENT",
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: d.SourceImage,
				DiskSizeGb:  d.SizeGB,
				DiskType:    d.Type,
			},
		})
	}

	machineType := opts.MachineType
	if machineType == "" {
		machineType = DefaultMachineType
	}

	instance := &compute.Instance{
		Name:              name,
		MachineType:       NormalizeMachineType(zone, machineType),
		Disks:             attached,
		NetworkInterfaces: []*compute.NetworkInterface{networkInterface},
		// GPU attachment is unconditional unless the caller overrides it
		GuestAccelerators: []*compute.AcceleratorConfig{
			{
				AcceleratorType:  p.acceleratorTypeURL(zone, p.DefaultAcceleratorType),
				AcceleratorCount: p.DefaultAcceleratorCount,
			},
		},
		Scheduling: &compute.Scheduling{
			AutomaticRestart:  boolPtr(true),
			OnHostMaintenance: "TERMINATE",
		},
	}

	if len(opts.Accelerators) > 0 {
		accelerators := make([]*compute.AcceleratorConfig, 0, len(opts.Accelerators))
		for _, a := range opts.Accelerators {
			accelerators = append(accelerators, &compute.AcceleratorConfig{
				AcceleratorType:  p.acceleratorTypeURL(zone, a.Type),
				AcceleratorCount: a.Count,
			})
		}
		instance.GuestAccelerators = accelerators
		instance.Scheduling.OnHostMaintenance = "TERMINATE"
	}

	if opts.Preemptible {
		// Preemptible replaces the scheduling policy wholesale
		instance.Scheduling = &compute.Scheduling{Preemptible: true}
	}

	if opts.Spot {
		// Spot layers on top of whatever scheduling is already set
		instance.Scheduling.ProvisioningModel = "SPOT"
		action := opts.TerminationAction
		if action == "" {
			action = "STOP"
		}
		instance.Scheduling.InstanceTerminationAction = action
	}

	if opts.CustomHostname != "" {
		instance.Hostname = opts.CustomHostname
	}
	if opts.DeleteProtection {
		instance.DeletionProtection = true
	}

	return instance
}

// Create submits the insert request, waits for the operation to complete and
// fetches the materialized instance. The create response alone is not
// trusted: a second Get round trip returns the assigned addresses.
func (p *GCPProvisioner) Create(ctx context.Context, zone, name string, disks []BootDisk, opts CreateOptions) (*InstanceInfo, error) {
	instance := p.buildInstance(zone, name, disks, opts)

	logging.Logger().Info("creating instance",
		zap.String("name", name),
		zap.String("zone", zone),
		zap.String("machine_type", instance.MachineType))

	op, err := p.service.Instances.Insert(p.projectID, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, wrapGoogleAPI("instance creation", err)
	}

	if err := p.waitZoneOperation(ctx, zone, op.Name, "instance creation"); err != nil {
		return nil, err
	}

	created, err := p.service.Instances.Get(p.projectID, zone, name).Context(ctx).Do()
	if err != nil {
		return nil, wrapGoogleAPI("instance fetch", err)
	}

	ip := ""
	if len(created.NetworkInterfaces) > 0 && len(created.NetworkInterfaces[0].AccessConfigs) > 0 {
		ip = created.NetworkInterfaces[0].AccessConfigs[0].NatIP
	}

	return &InstanceInfo{
		ID:     fmt.Sprintf("%d", created.Id),
		IP:     ip,
		Name:   created.Name,
		Zone:   zone,
		Status: created.Status,
	}, nil
}

// Delete submits the instance deletion request
func (p *GCPProvisioner) Delete(ctx context.Context, zone, name string) error {
	op, err := p.service.Instances.Delete(p.projectID, zone, name).Context(ctx).Do()
	if err != nil {
		return wrapGoogleAPI("instance deletion", err)
	}

	if !p.WaitForDelete {
		logging.Logger().Info("instance deletion submitted",
			zap.String("name", name),
			zap.String("zone", zone),
			zap.String("operation", op.Name))
		return nil
	}

	return p.waitZoneOperation(ctx, zone, op.Name, "instance deletion")
}

// waitZoneOperation polls the operation until it reaches a terminal state.
// Terminal errors come back classified; warnings are logged and not raised.
func (p *GCPProvisioner) waitZoneOperation(ctx context.Context, zone, opName, verboseName string) error {
	timeout := p.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		op, err := p.service.ZoneOperations.Get(p.projectID, zone, opName).Context(ctx).Do()
		if err != nil {
			return wrapGoogleAPI(verboseName, err)
		}

		if op.Status == "DONE" {
			for _, warning := range op.Warnings {
				logging.Logger().Warn("operation warning",
					zap.String("operation", verboseName),
					zap.String("code", warning.Code),
					zap.String("message", warning.Message))
			}

			if op.Error != nil {
				code := ""
				message := ""
				if len(op.Error.Errors) > 0 {
					code = op.Error.Errors[0].Code
					message = op.Error.Errors[0].Message
				}
				logging.Logger().Error("operation failed",
					zap.String("operation", verboseName),
					zap.String("operation_id", op.Name),
					zap.String("code", code),
					zap.String("message", message))
				return &Error{
					Kind:    classifyStatus(int(op.HttpErrorStatusCode)),
					Op:      verboseName,
					Code:    code,
					Message: message,
				}
			}
			return nil
		}

		if time.Now().After(deadline) {
			return &Error{
				Kind:    KindOther,
				Op:      verboseName,
				Message: fmt.Sprintf("timeout after %v waiting for operation %s", timeout, opName),
			}
		}

		select {
		case <-ctx.Done():
			return &Error{Kind: KindOther, Op: verboseName, Message: ctx.Err().Error(), Err: ctx.Err()}
		case <-time.After(operationPollInterval):
		}
	}
}

func boolPtr(b bool) *bool {
	return &b
}
