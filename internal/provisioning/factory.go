package provisioning

import (
	"context"
	"fmt"

	"gpusweep/internal/config"
)

// NewProvisioner creates a provisioner based on config type (factory pattern).
// This implements the discriminated union dispatch.
func NewProvisioner(ctx context.Context, cfg *config.Config) (Provisioner, error) {
	waitForDelete := cfg.WaitForDelete

	switch cfg.Provider.Type {
	case config.ProviderGCP:
		if cfg.Provider.GCP == nil {
			return nil, fmt.Errorf("gcp config is nil")
		}
		p, err := NewGCPProvisioner(ctx, cfg.Provider.GCP.ProjectID, cfg.Provider.GCP.CredentialsPath)
		if err != nil {
			return nil, err
		}
		p.DefaultAcceleratorType = cfg.AcceleratorType
		p.DefaultAcceleratorCount = cfg.AcceleratorCount
		p.WaitForDelete = waitForDelete
		return p, nil

	case config.ProviderAWS:
		if cfg.Provider.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		p, err := NewAWSProvisioner(ctx, cfg.Provider.AWS.Region, cfg.Provider.AWS.AccessKeyID, cfg.Provider.AWS.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		p.WaitForDelete = waitForDelete
		return p, nil

	case config.ProviderDigitalOcean:
		if cfg.Provider.DigitalOcean == nil {
			return nil, fmt.Errorf("digitalocean config is nil")
		}
		return NewDOProvisioner(cfg.Provider.DigitalOcean.Token)

	case config.ProviderYandexCloud:
		if cfg.Provider.YandexCloud == nil {
			return nil, fmt.Errorf("yandex_cloud config is nil")
		}
		p, err := NewYcProvisioner(cfg.Provider.YandexCloud.IAMToken, cfg.Provider.YandexCloud.FolderID)
		if err != nil {
			return nil, err
		}
		p.DefaultAcceleratorCount = cfg.AcceleratorCount
		p.WaitForDelete = waitForDelete
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported provisioner type: %s", cfg.Provider.Type)
	}
}
