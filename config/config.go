package config

import (
	"fmt"
	"runtime"
	"time"

	units "github.com/docker/go-units"
	coretypes "github.com/projecteru2/core/types"
)

// Config holds global Sparklane configuration.
type Config struct {
	// RootDir is the base directory for persistent data (registry, locks).
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir holds per-instance runtime files: boot config, API socket,
	// console log, PID file.
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir is where the server's own rotated logs go when Log.Filename is empty.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`

	// ImagesDir holds one root image per instance, named {id}.img.
	ImagesDir string `json:"images_dir" mapstructure:"images_dir"`
	// BaseImage is the shared, read-only template copied for every instance.
	BaseImage string `json:"base_image" mapstructure:"base_image"`
	// KernelPath is the guest kernel shared by all instances.
	KernelPath string `json:"kernel_path" mapstructure:"kernel_path"`
	// MountPrefix is joined with the instance ID to form the mount directory.
	MountPrefix string `json:"mount_prefix" mapstructure:"mount_prefix"`
	// BootArgs is the guest kernel command line.
	BootArgs string `json:"boot_args" mapstructure:"boot_args"`
	// FirecrackerBinary is the hypervisor executable name or path.
	FirecrackerBinary string `json:"firecracker_binary" mapstructure:"firecracker_binary"`

	// AppPort is the port user applications listen on inside the guest.
	AppPort uint64 `json:"app_port" mapstructure:"app_port"`
	// ListenAddr is the HTTP frontend address.
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
	// MaxUploadSize bounds a deploy request body, e.g. "64MiB".
	MaxUploadSize string `json:"max_upload_size" mapstructure:"max_upload_size"`
	// MaxBundleSize bounds the decompressed size of an uploaded archive.
	MaxBundleSize string `json:"max_bundle_size" mapstructure:"max_bundle_size"`
	// PoolSize caps concurrent provisioning pipelines.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
	// AllocatorAttempts is how many subdomain candidates are sampled before
	// giving up.
	AllocatorAttempts int `json:"allocator_attempts" mapstructure:"allocator_attempts"`
	// StopTimeoutSeconds is how long teardown waits for a guest to power
	// off after Ctrl+Alt+Del before escalating to signals.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`
	// DrainTimeoutSeconds bounds how long shutdown waits for running
	// provisions before closing the registry.
	DrainTimeoutSeconds int `json:"drain_timeout_seconds" mapstructure:"drain_timeout_seconds"`

	// NATSURL enables lifecycle event publishing when non-empty.
	NATSURL     string `json:"nats_url" mapstructure:"nats_url"`
	NATSSubject string `json:"nats_subject" mapstructure:"nats_subject"`
	// Trace exports pipeline spans to stdout.
	Trace bool `json:"trace" mapstructure:"trace"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:             "/var/lib/sparklane",
		RunDir:              "/tmp/sparklane",
		LogDir:              "/var/log/sparklane",
		ImagesDir:           "/mnt/vm-images",
		BaseImage:           "/mnt/sparklane/base.img",
		KernelPath:          "/mnt/vmlinux",
		MountPrefix:         "/mnt/vm-usercode-",
		BootArgs:            "console=ttyS0 reboot=k panic=1 pci=off",
		FirecrackerBinary:   "firecracker",
		AppPort:             8080,
		ListenAddr:          "0.0.0.0:8096",
		MaxUploadSize:       "64MiB",
		MaxBundleSize:       "256MiB",
		PoolSize:            runtime.NumCPU(),
		AllocatorAttempts:   11,
		StopTimeoutSeconds:  30,
		DrainTimeoutSeconds: 300,
		NATSSubject:         "sparklane.instances",
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Normalize fills zero values left by a partial config file.
func (c *Config) Normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.AllocatorAttempts <= 0 {
		c.AllocatorAttempts = 11 //nolint:mnd
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = 30 //nolint:mnd
	}
	if c.DrainTimeoutSeconds <= 0 {
		c.DrainTimeoutSeconds = 300 //nolint:mnd
	}
	if c.AppPort == 0 {
		c.AppPort = 8080 //nolint:mnd
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "64MiB"
	}
	if c.MaxBundleSize == "" {
		c.MaxBundleSize = "256MiB"
	}
	if c.NATSSubject == "" {
		c.NATSSubject = "sparklane.instances"
	}
}

// DrainTimeout is DrainTimeoutSeconds as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// UploadLimit parses MaxUploadSize into bytes.
func (c *Config) UploadLimit() (int64, error) {
	return parseSize("max_upload_size", c.MaxUploadSize)
}

// BundleLimit parses MaxBundleSize into bytes.
func (c *Config) BundleLimit() (int64, error) {
	return parseSize("max_bundle_size", c.MaxBundleSize)
}

func parseSize(field, v string) (int64, error) {
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, v)
	}
	return n, nil
}
