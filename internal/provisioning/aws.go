package provisioning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWSProvisioner implements the Provisioner interface for AWS.
// Image families map to AMI name patterns; machine types are EC2 GPU
// instance types (g4dn.xlarge and friends).
type AWSProvisioner struct {
	client *ec2.Client

	// WaitForDelete blocks Delete until the instance leaves the running state
	WaitForDelete bool
}

// NewAWSProvisioner creates a new instance of AWSProvisioner
func NewAWSProvisioner(ctx context.Context, region, accessKey, secretKey string) (*AWSProvisioner, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSProvisioner{
		client: ec2.NewFromConfig(cfg),
	}, nil
}

// ResolveImage returns the newest AMI owned by project whose name matches
// the family prefix, the EC2 analog of an image family lookup
func (p *AWSProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	output, err := p.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{project},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{family + "*"}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", wrapAWS("image lookup", err)
	}
	if len(output.Images) == 0 {
		return "", &Error{Kind: KindBadRequest, Op: "image lookup",
			Message: fmt.Sprintf("no AMI matching %q owned by %s", family, project)}
	}

	images := output.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

// Create launches an EC2 instance and waits for it to be running
func (p *AWSProvisioner) Create(ctx context.Context, zone, name string, disks []BootDisk, opts CreateOptions) (*InstanceInfo, error) {
	if len(disks) == 0 {
		return nil, &Error{Kind: KindBadRequest, Op: "instance creation", Message: "a boot disk is required"}
	}
	boot := disks[0]

	instanceType := opts.MachineType
	if instanceType == "" {
		instanceType = "g4dn.xlarge"
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(boot.SourceImage),
		InstanceType: types.InstanceType(instanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		Placement:    &types.Placement{AvailabilityZone: aws.String(zone)},
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &types.EbsBlockDevice{
					VolumeSize:          aws.Int32(int32(boot.SizeGB)),
					DeleteOnTermination: aws.Bool(boot.AutoDelete),
				},
			},
		},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
				},
			},
		},
	}

	if opts.Spot || opts.Preemptible {
		behavior := types.InstanceInterruptionBehaviorStop
		if opts.TerminationAction == "DELETE" {
			behavior = types.InstanceInterruptionBehaviorTerminate
		}
		input.InstanceMarketOptions = &types.InstanceMarketOptionsRequest{
			MarketType: types.MarketTypeSpot,
			SpotOptions: &types.SpotMarketOptions{
				InstanceInterruptionBehavior: behavior,
			},
		}
	}

	output, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, wrapAWS("instance creation", err)
	}

	instanceID := output.Instances[0].InstanceId

	// Wait for instance to be running
	for i := 0; i < 60; i++ {
		desc, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{*instanceID},
		})
		if err != nil {
			return nil, wrapAWS("instance fetch", err)
		}

		inst := desc.Reservations[0].Instances[0]
		if inst.State.Name == types.InstanceStateNameRunning {
			return &InstanceInfo{
				ID:     aws.ToString(inst.InstanceId),
				IP:     aws.ToString(inst.PublicIpAddress),
				Name:   name,
				Zone:   aws.ToString(inst.Placement.AvailabilityZone),
				Status: string(inst.State.Name),
			}, nil
		}
		time.Sleep(5 * time.Second)
	}

	return nil, &Error{Kind: KindOther, Op: "instance creation",
		Message: "timed out waiting for instance to be running"}
}

// Delete terminates the instance carrying the Name tag in the given zone
func (p *AWSProvisioner) Delete(ctx context.Context, zone, name string) error {
	desc, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{name}},
			{Name: aws.String("availability-zone"), Values: []string{zone}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return wrapAWS("instance deletion", err)
	}

	var ids []string
	for _, r := range desc.Reservations {
		for _, inst := range r.Instances {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	if len(ids) == 0 {
		return &Error{Kind: KindOther, Op: "instance deletion",
			Message: fmt.Sprintf("no instance named %q in %s", name, zone)}
	}

	if _, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil {
		return wrapAWS("instance deletion", err)
	}

	if !p.WaitForDelete {
		return nil
	}

	waiter := ec2.NewInstanceTerminatedWaiter(p.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, 5*time.Minute); err != nil {
		return wrapAWS("instance deletion", err)
	}
	return nil
}
