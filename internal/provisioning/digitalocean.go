package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/godo"
)

// DOProvisioner implements the Provisioner interface for DigitalOcean.
// Image families map to image slugs; machine types are droplet size slugs
// (GPU droplets carry their accelerator in the size, e.g. "gpu-h100x1-80gb").
type DOProvisioner struct {
	client *godo.Client

	// WaitForDelete has no effect: droplet deletion is synchronous
	WaitForDelete bool
}

// NewDOProvisioner creates a new instance of DOProvisioner
func NewDOProvisioner(token string) (*DOProvisioner, error) {
	return &DOProvisioner{
		client: godo.NewFromToken(token),
	}, nil
}

// ResolveImage verifies the image slug exists and returns it
func (p *DOProvisioner) ResolveImage(ctx context.Context, project, family string) (string, error) {
	image, _, err := p.client.Images.GetBySlug(ctx, family)
	if err != nil {
		return "", wrapGodo("image lookup", err)
	}
	return image.Slug, nil
}

// Create creates a new droplet and waits for it to be active
func (p *DOProvisioner) Create(ctx context.Context, zone, name string, disks []BootDisk, opts CreateOptions) (*InstanceInfo, error) {
	if len(disks) == 0 {
		return nil, &Error{Kind: KindBadRequest, Op: "droplet creation", Message: "a boot disk is required"}
	}

	size := opts.MachineType
	if size == "" {
		size = "gpu-h100x1-80gb"
	}

	createRequest := &godo.DropletCreateRequest{
		Name:   name,
		Region: zone,
		Size:   size,
		Image: godo.DropletCreateImage{
			Slug: disks[0].SourceImage,
		},
	}

	droplet, _, err := p.client.Droplets.Create(ctx, createRequest)
	if err != nil {
		return nil, wrapGodo("droplet creation", err)
	}

	// Wait for droplet to be active
	for i := 0; i < 60; i++ {
		d, _, err := p.client.Droplets.Get(ctx, droplet.ID)
		if err != nil {
			return nil, wrapGodo("droplet fetch", err)
		}

		if d.Status == "active" {
			ip, _ := d.PublicIPv4()
			return &InstanceInfo{
				ID:     fmt.Sprintf("%d", d.ID),
				IP:     ip,
				Name:   d.Name,
				Zone:   d.Region.Slug,
				Status: d.Status,
			}, nil
		}

		time.Sleep(5 * time.Second)
	}

	return nil, &Error{Kind: KindOther, Op: "droplet creation",
		Message: "timed out waiting for droplet to be active"}
}

// Delete removes the droplet with the given name in the region
func (p *DOProvisioner) Delete(ctx context.Context, zone, name string) error {
	droplets, _, err := p.client.Droplets.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return wrapGodo("droplet deletion", err)
	}

	for _, d := range droplets {
		if d.Name != name || d.Region == nil || d.Region.Slug != zone {
			continue
		}
		if _, err := p.client.Droplets.Delete(ctx, d.ID); err != nil {
			return wrapGodo("droplet deletion", err)
		}
		return nil
	}

	return &Error{Kind: KindOther, Op: "droplet deletion",
		Message: fmt.Sprintf("no droplet named %q in %s", name, zone)}
}
