package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ec2crypt/ec2crypt/pkg/migrate"
)

// RunConfig is the full configuration for one encryption run. Populated from
// flags, optionally overlaid from a YAML file, then validated. There is no
// ambient state: the run config is passed explicitly into the scheduler and
// the provider constructor.
type RunConfig struct {
	Profile      string   `yaml:"profile"`
	Region       string   `yaml:"region"`
	Key          string   `yaml:"key"`
	InstanceIDs  []string `yaml:"instance_ids"`
	AllInstances bool     `yaml:"all_instances"`
	Concurrency  int      `yaml:"concurrency"`

	// Per-stage wait bounds, duration strings ("30m").
	SnapshotTimeout string `yaml:"snapshot_timeout"`
	VolumeTimeout   string `yaml:"volume_timeout"`
	InstanceTimeout string `yaml:"instance_timeout"`
}

// LoadFile overlays settings from a YAML file onto c. File values only fill
// fields the flags left empty, so flags win.
func (c *RunConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file RunConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if c.Profile == "" {
		c.Profile = file.Profile
	}
	if c.Region == "" {
		c.Region = file.Region
	}
	if c.Key == "" {
		c.Key = file.Key
	}
	if len(c.InstanceIDs) == 0 {
		c.InstanceIDs = file.InstanceIDs
	}
	if !c.AllInstances {
		c.AllInstances = file.AllInstances
	}
	if c.Concurrency == 0 {
		c.Concurrency = file.Concurrency
	}
	if c.SnapshotTimeout == "" {
		c.SnapshotTimeout = file.SnapshotTimeout
	}
	if c.VolumeTimeout == "" {
		c.VolumeTimeout = file.VolumeTimeout
	}
	if c.InstanceTimeout == "" {
		c.InstanceTimeout = file.InstanceTimeout
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (c *RunConfig) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = migrate.DefaultConcurrency
	}
	if c.SnapshotTimeout == "" {
		c.SnapshotTimeout = "30m"
	}
	if c.VolumeTimeout == "" {
		c.VolumeTimeout = "10m"
	}
	if c.InstanceTimeout == "" {
		c.InstanceTimeout = "10m"
	}
}

// Validate checks the configuration is complete and consistent.
func (c *RunConfig) Validate() error {
	if c.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if len(c.InstanceIDs) == 0 && !c.AllInstances {
		return fmt.Errorf("specify instance ids or all instances")
	}
	if len(c.InstanceIDs) > 0 && c.AllInstances {
		return fmt.Errorf("instance ids and all instances are mutually exclusive")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	for _, field := range []struct{ name, value string }{
		{"snapshot_timeout", c.SnapshotTimeout},
		{"volume_timeout", c.VolumeTimeout},
		{"instance_timeout", c.InstanceTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}
	return nil
}

// Timeouts resolves the duration strings into the engine's stage bounds.
// Call after Validate.
func (c *RunConfig) Timeouts() (migrate.Timeouts, error) {
	var t migrate.Timeouts
	var err error
	if c.SnapshotTimeout != "" {
		if t.Snapshot, err = time.ParseDuration(c.SnapshotTimeout); err != nil {
			return t, fmt.Errorf("invalid snapshot_timeout: %w", err)
		}
	}
	if c.VolumeTimeout != "" {
		if t.Volume, err = time.ParseDuration(c.VolumeTimeout); err != nil {
			return t, fmt.Errorf("invalid volume_timeout: %w", err)
		}
	}
	if c.InstanceTimeout != "" {
		if t.Instance, err = time.ParseDuration(c.InstanceTimeout); err != nil {
			return t, fmt.Errorf("invalid instance_timeout: %w", err)
		}
	}
	return t, nil
}
