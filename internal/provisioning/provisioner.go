package provisioning

import "context"

// BootDisk describes a boot disk to attach to a new VM
type BootDisk struct {
	Type        string // provider disk type, e.g. "zones/us-west1-a/diskTypes/pd-standard"
	SizeGB      int64
	Boot        bool
	SourceImage string
	AutoDelete  bool
}

// DiskFromImage builds a BootDisk backed by the given source image.
// Pure construction: flags pass through unchanged, no I/O.
func DiskFromImage(diskType string, sizeGB int64, boot bool, sourceImage string, autoDelete bool) BootDisk {
	return BootDisk{
		Type:        diskType,
		SizeGB:      sizeGB,
		Boot:        boot,
		SourceImage: sourceImage,
		AutoDelete:  autoDelete,
	}
}

// AcceleratorSpec describes a GPU attachment
type AcceleratorSpec struct {
	Type  string // bare type ("nvidia-l4") or fully qualified accelerator type URL
	Count int64
}

// CreateOptions carries the recognized instance creation options.
// Zero values select the documented defaults.
type CreateOptions struct {
	MachineType    string // default "g2-standard-4"
	NetworkLink    string // default "global/networks/default"
	SubnetworkLink string
	InternalIP     string
	ExternalAccess bool
	ExternalIPv4   string // only meaningful when ExternalAccess is set

	// Accelerators overrides the provisioner's default GPU attachment.
	// Leaving it empty still attaches the configured default accelerator.
	Accelerators []AcceleratorSpec

	// Preemptible discards any prior scheduling configuration before setting
	// the flag. Spot layers a provisioning model and termination action on
	// top of whatever scheduling is already present.
	Preemptible       bool
	Spot              bool
	TerminationAction string // "STOP" or "DELETE", default "STOP"

	CustomHostname   string
	DeleteProtection bool
}

// InstanceInfo contains information about the created VM
type InstanceInfo struct {
	ID     string
	IP     string
	Name   string
	Zone   string
	Status string
}

// Provisioner defines the interface for managing virtual machines
type Provisioner interface {
	// ResolveImage returns a reference to the newest image in a family
	ResolveImage(ctx context.Context, project, family string) (string, error)

	// Create submits an instance creation request, waits for it to reach a
	// terminal state and returns the materialized instance
	Create(ctx context.Context, zone, name string, disks []BootDisk, opts CreateOptions) (*InstanceInfo, error)

	// Delete submits an instance deletion request. Whether it waits for the
	// deletion to complete is a provisioner configuration choice.
	Delete(ctx context.Context, zone, name string) error
}
