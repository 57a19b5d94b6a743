package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Provider type identifiers for the provisioner factory dispatch
const (
	ProviderGCP          = "gcp"
	ProviderAWS          = "aws"
	ProviderDigitalOcean = "digitalocean"
	ProviderYandexCloud  = "yandex_cloud"
)

// GCPConfig holds Google Cloud connection parameters
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsPath string `yaml:"credentials_path"`
}

// AWSConfig holds AWS connection parameters
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DigitalOceanConfig holds DigitalOcean connection parameters
type DigitalOceanConfig struct {
	Token string `yaml:"token"`
}

// YandexCloudConfig holds Yandex Cloud connection parameters
type YandexCloudConfig struct {
	IAMToken string `yaml:"iam_token"`
	FolderID string `yaml:"folder_id"`
}

// ProviderConfig is a discriminated union selecting the compute provider
type ProviderConfig struct {
	Type         string              `yaml:"type"`
	GCP          *GCPConfig          `yaml:"gcp,omitempty"`
	AWS          *AWSConfig          `yaml:"aws,omitempty"`
	DigitalOcean *DigitalOceanConfig `yaml:"digitalocean,omitempty"`
	YandexCloud  *YandexCloudConfig  `yaml:"yandex_cloud,omitempty"`
}

// Config contains application configuration
type Config struct {
	Provider ProviderConfig `yaml:"provider"`

	// Boot image lookup
	SourceProject string `yaml:"source_project"`
	SourceFamily  string `yaml:"source_family"`

	// Target regions, processed strictly in order
	Regions []string `yaml:"regions"`

	// Instance shape
	MachineType      string `yaml:"machine_type"`
	DiskSizeGB       int64  `yaml:"disk_size_gb"`
	AcceleratorType  string `yaml:"accelerator_type"`
	AcceleratorCount int64  `yaml:"accelerator_count"`

	// Remote configuration over SSH
	SSHUser               string   `yaml:"ssh_user"`
	SSHKeyPath            string   `yaml:"ssh_key_path"`
	SetupCommands         []string `yaml:"setup_commands"`
	CommandTimeoutSeconds int      `yaml:"command_timeout_seconds"` // 0 = unbounded
	CollectPaths          []string `yaml:"collect_paths"`
	ArtifactsDir          string   `yaml:"artifacts_dir"`

	// Sequencing behavior
	CooldownSeconds int  `yaml:"cooldown_seconds"`
	WaitForDelete   bool `yaml:"wait_for_delete"`
	Preflight       bool `yaml:"preflight"`

	// Journal storage; empty endpoints fall back to in-memory
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// Load loads configuration from YAML file
func Load() (*Config, error) {
	config := &Config{
		Provider:         ProviderConfig{Type: ProviderGCP},
		SourceProject:    "ubuntu-os-cloud",
		SourceFamily:     "ubuntu-2204-lts",
		MachineType:      "g2-standard-4",
		DiskSizeGB:       20,
		AcceleratorType:  "nvidia-l4",
		AcceleratorCount: 1,
		SSHUser:          "Dell",
		SSHKeyPath:       "id_rsa",
		CooldownSeconds:  30,
		ArtifactsDir:     "artifacts",
	}

	// Try to load from YAML file first
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "gpusweep.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	expand(config)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// expand runs os.ExpandEnv over every user-supplied string field
func expand(config *Config) {
	config.SourceProject = os.ExpandEnv(config.SourceProject)
	config.SourceFamily = os.ExpandEnv(config.SourceFamily)
	config.SSHUser = os.ExpandEnv(config.SSHUser)
	config.SSHKeyPath = os.ExpandEnv(config.SSHKeyPath)
	config.ArtifactsDir = os.ExpandEnv(config.ArtifactsDir)

	for i, cmd := range config.SetupCommands {
		config.SetupCommands[i] = os.ExpandEnv(cmd)
	}

	if gcp := config.Provider.GCP; gcp != nil {
		gcp.ProjectID = os.ExpandEnv(gcp.ProjectID)
		gcp.CredentialsPath = os.ExpandEnv(gcp.CredentialsPath)
	}
	if aws := config.Provider.AWS; aws != nil {
		aws.Region = os.ExpandEnv(aws.Region)
		aws.AccessKeyID = os.ExpandEnv(aws.AccessKeyID)
		aws.SecretAccessKey = os.ExpandEnv(aws.SecretAccessKey)
	}
	if do := config.Provider.DigitalOcean; do != nil {
		do.Token = os.ExpandEnv(do.Token)
	}
	if yc := config.Provider.YandexCloud; yc != nil {
		yc.IAMToken = os.ExpandEnv(yc.IAMToken)
		yc.FolderID = os.ExpandEnv(yc.FolderID)
	}
}

// applyEnvOverrides lets ambient credentials win over file contents
func applyEnvOverrides(config *Config) {
	if project := os.Getenv("GCP_PROJECT_ID"); project != "" {
		if config.Provider.GCP == nil {
			config.Provider.GCP = &GCPConfig{}
		}
		config.Provider.GCP.ProjectID = project
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.Provider.GCP != nil {
		config.Provider.GCP.CredentialsPath = creds
	}
	if token := os.Getenv("DO_TOKEN"); token != "" {
		if config.Provider.DigitalOcean == nil {
			config.Provider.DigitalOcean = &DigitalOceanConfig{}
		}
		config.Provider.DigitalOcean.Token = token
	}
	if token := os.Getenv("YC_TOKEN"); token != "" {
		if config.Provider.YandexCloud == nil {
			config.Provider.YandexCloud = &YandexCloudConfig{}
		}
		config.Provider.YandexCloud.IAMToken = token
	}
	if folderID := os.Getenv("YC_FOLDER_ID"); folderID != "" && config.Provider.YandexCloud != nil {
		config.Provider.YandexCloud.FolderID = folderID
	}
}

// Validate checks required parameters
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region is required (set regions in config file)")
	}
	if c.DiskSizeGB <= 0 {
		return fmt.Errorf("disk_size_gb must be positive, got %d", c.DiskSizeGB)
	}

	switch c.Provider.Type {
	case ProviderGCP:
		if c.Provider.GCP == nil || c.Provider.GCP.ProjectID == "" {
			return fmt.Errorf("GCP project ID is required (set provider.gcp.project_id or GCP_PROJECT_ID environment variable)")
		}
	case ProviderAWS:
		if c.Provider.AWS == nil || c.Provider.AWS.Region == "" {
			return fmt.Errorf("AWS region is required (set provider.aws.region)")
		}
	case ProviderDigitalOcean:
		if c.Provider.DigitalOcean == nil || c.Provider.DigitalOcean.Token == "" {
			return fmt.Errorf("DigitalOcean token is required (set provider.digitalocean.token or DO_TOKEN environment variable)")
		}
	case ProviderYandexCloud:
		if c.Provider.YandexCloud == nil || c.Provider.YandexCloud.IAMToken == "" {
			return fmt.Errorf("IAM token is required (set provider.yandex_cloud.iam_token or YC_TOKEN environment variable)")
		}
		if c.Provider.YandexCloud.FolderID == "" {
			return fmt.Errorf("Folder ID is required (set provider.yandex_cloud.folder_id or YC_FOLDER_ID environment variable)")
		}
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Provider.Type)
	}

	return nil
}
