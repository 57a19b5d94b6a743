package provisioning

import (
	"context"
	"fmt"

	"github.com/yandex-cloud/go-genproto/yandex/cloud/compute/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/vpc/v1"
	ycsdk "github.com/yandex-cloud/go-sdk"
)

// gpuPlatformResources is the smallest shape the GPU platform accepts.
// Yandex couples cores/memory to the GPU count on gpu-standard platforms.
const (
	ycGPUPlatform = "gpu-standard-v3"
	ycGPUCores    = 8
	ycGPUMemoryGB = 48
)

// YcProvisioner implements the Provisioner interface for Yandex Cloud
type YcProvisioner struct {
	sdk      *ycsdk.SDK
	folderID string

	// DefaultAcceleratorCount is the GPU count when options carry none
	DefaultAcceleratorCount int64

	// WaitForDelete blocks Delete until the operation completes
	WaitForDelete bool
}

// NewYcProvisioner creates a new instance of YcProvisioner
func NewYcProvisioner(iamToken, folderID string) (*YcProvisioner, error) {
	ctx := context.Background()

	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: ycsdk.NewIAMTokenCredentials(iamToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SDK: %w", err)
	}

	return &YcProvisioner{
		sdk:                     sdk,
		folderID:                folderID,
		DefaultAcceleratorCount: 1,
	}, nil
}

// ResolveImage returns the ID of the newest image in the family
func (p *YcProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	image, err := p.sdk.Compute().Image().GetLatestByFamily(ctx, &compute.GetImageLatestByFamilyRequest{
		FolderId: project,
		Family:   family,
	})
	if err != nil {
		return "", wrapGRPC("image lookup", err)
	}
	return image.Id, nil
}

// Create creates a new GPU VM in Yandex Cloud and waits for the operation
func (p *YcProvisioner) Create(ctx context.Context, zone, name string, disks []BootDisk, opts CreateOptions) (*InstanceInfo, error) {
	if len(disks) == 0 {
		return nil, &Error{Kind: KindBadRequest, Op: "instance creation", Message: "a boot disk is required"}
	}
	boot := disks[0]

	subnetID := p.findSubnet(ctx, zone)
	if subnetID == "" {
		return nil, &Error{Kind: KindBadRequest, Op: "instance creation",
			Message: fmt.Sprintf("no subnet found in zone %s", zone)}
	}

	gpus := p.DefaultAcceleratorCount
	if len(opts.Accelerators) > 0 {
		gpus = opts.Accelerators[0].Count
	}

	platform := opts.MachineType
	if platform == "" {
		platform = ycGPUPlatform
	}

	request := &compute.CreateInstanceRequest{
		FolderId:   p.folderID,
		Name:       name,
		ZoneId:     zone,
		PlatformId: platform,
		ResourcesSpec: &compute.ResourcesSpec{
			Cores:  ycGPUCores * gpus,
			Memory: ycGPUMemoryGB * gpus * 1024 * 1024 * 1024,
			Gpus:   gpus,
		},
		BootDiskSpec: &compute.AttachedDiskSpec{
			AutoDelete: boot.AutoDelete,
			Disk: &compute.AttachedDiskSpec_DiskSpec_{
				DiskSpec: &compute.AttachedDiskSpec_DiskSpec{
					TypeId: "network-ssd",
					Size:   boot.SizeGB * 1024 * 1024 * 1024,
					Source: &compute.AttachedDiskSpec_DiskSpec_ImageId{
						ImageId: boot.SourceImage,
					},
				},
			},
		},
		NetworkInterfaceSpecs: []*compute.NetworkInterfaceSpec{
			{
				SubnetId: subnetID,
				PrimaryV4AddressSpec: &compute.PrimaryAddressSpec{
					OneToOneNatSpec: &compute.OneToOneNatSpec{
						IpVersion: compute.IpVersion_IPV4,
					},
				},
			},
		},
		SchedulingPolicy: &compute.SchedulingPolicy{
			Preemptible: opts.Preemptible || opts.Spot,
		},
	}
	if opts.CustomHostname != "" {
		request.Hostname = opts.CustomHostname
	}

	pop, err := p.sdk.Compute().Instance().Create(ctx, request)
	if err != nil {
		return nil, wrapGRPC("instance creation", err)
	}

	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return nil, wrapGRPC("instance creation", err)
	}
	if err := op.Wait(ctx); err != nil {
		return nil, wrapGRPC("instance creation", err)
	}

	resp, err := op.Response()
	if err != nil {
		return nil, wrapGRPC("instance creation", err)
	}
	instance := resp.(*compute.Instance)

	ip := ""
	if len(instance.NetworkInterfaces) > 0 {
		if nat := instance.NetworkInterfaces[0].PrimaryV4Address.OneToOneNat; nat != nil {
			ip = nat.Address
		}
	}

	return &InstanceInfo{
		ID:     instance.Id,
		IP:     ip,
		Name:   instance.Name,
		Zone:   instance.ZoneId,
		Status: instance.Status.String(),
	}, nil
}

// Delete deletes the named VM in the zone
func (p *YcProvisioner) Delete(ctx context.Context, zone, name string) error {
	instanceID, err := p.findInstanceID(ctx, zone, name)
	if err != nil {
		return err
	}

	pop, err := p.sdk.Compute().Instance().Delete(ctx, &compute.DeleteInstanceRequest{
		InstanceId: instanceID,
	})
	if err != nil {
		return wrapGRPC("instance deletion", err)
	}

	if !p.WaitForDelete {
		return nil
	}

	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return wrapGRPC("instance deletion", err)
	}
	if err := op.Wait(ctx); err != nil {
		return wrapGRPC("instance deletion", err)
	}
	return nil
}

// findInstanceID resolves an instance name within the folder and zone
func (p *YcProvisioner) findInstanceID(ctx context.Context, zone, name string) (string, error) {
	resp, err := p.sdk.Compute().Instance().List(ctx, &compute.ListInstancesRequest{
		FolderId: p.folderID,
		Filter:   fmt.Sprintf("name=%q", name),
	})
	if err != nil {
		return "", wrapGRPC("instance lookup", err)
	}
	for _, instance := range resp.Instances {
		if instance.ZoneId == zone {
			return instance.Id, nil
		}
	}
	return "", &Error{Kind: KindOther, Op: "instance lookup",
		Message: fmt.Sprintf("no instance named %q in %s", name, zone)}
}

// findSubnet finds a subnet in the specified zone
func (p *YcProvisioner) findSubnet(ctx context.Context, zone string) string {
	resp, err := p.sdk.VPC().Subnet().List(ctx, &vpc.ListSubnetsRequest{
		FolderId: p.folderID,
		PageSize: 100,
	})
	if err != nil {
		return ""
	}

	for _, subnet := range resp.Subnets {
		if subnet.ZoneId == zone {
			return subnet.Id
		}
	}

	return ""
}
