package config

import (
	"path/filepath"

	"github.com/sparklane/sparklane/utils"
)

// tapPrefixLen is how many leading characters of the instance ID name its
// tap device. "tap" + 8 stays well inside IFNAMSIZ.
const tapPrefixLen = 8

// EnsureDirs creates all static directories the provisioning pipeline needs.
// Per-instance runtime directories are created on demand via EnsureInstanceDirs.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.RegistryDir(),
		c.LockDir(),
		c.RunDir,
		c.ImagesDir,
	)
}

// EnsureInstanceDirs creates the per-instance runtime directory.
func (c *Config) EnsureInstanceDirs(id string) error {
	return utils.EnsureDirs(c.InstanceRunDir(id))
}

// RegistryDir is the on-disk location of the instance registry.
func (c *Config) RegistryDir() string { return filepath.Join(c.RootDir, "registry") }

// LockDir holds per-instance provisioning locks and the GC lock.
func (c *Config) LockDir() string { return filepath.Join(c.RootDir, "locks") }

func (c *Config) InstanceLock(id string) string { return filepath.Join(c.LockDir(), id+".lock") }
func (c *Config) GCLock() string                { return filepath.Join(c.LockDir(), "gc.lock") }

// InstanceImagePath is the per-instance root disk copied from BaseImage.
func (c *Config) InstanceImagePath(id string) string {
	return filepath.Join(c.ImagesDir, id+".img")
}

// MountDir is where the instance image is loop-mounted on the host.
func (c *Config) MountDir(id string) string { return c.MountPrefix + id }

// AppDir is the application root inside the mounted image (/app in the guest).
func (c *Config) AppDir(id string) string { return filepath.Join(c.MountDir(id), "app") }

// InitScriptPath is the generated boot script, one level above AppDir.
func (c *Config) InitScriptPath(id string) string {
	return filepath.Join(c.MountDir(id), "init.sh")
}

// InitLinkPath is the /init symlink the guest kernel executes.
func (c *Config) InitLinkPath(id string) string { return filepath.Join(c.MountDir(id), "init") }

func (c *Config) InstanceRunDir(id string) string { return filepath.Join(c.RunDir, id) }

func (c *Config) SocketPath(id string) string {
	return filepath.Join(c.InstanceRunDir(id), "firecracker.sock")
}
func (c *Config) ConsoleLog(id string) string {
	return filepath.Join(c.InstanceRunDir(id), "console.log")
}
func (c *Config) PIDFile(id string) string { return filepath.Join(c.InstanceRunDir(id), "fc.pid") }

// ProcessLog captures the hypervisor's own stdout and stderr.
func (c *Config) ProcessLog(id string) string {
	return filepath.Join(c.InstanceRunDir(id), "firecracker.log")
}

// BootConfigPath returns the path for the saved hypervisor config file.
func (c *Config) BootConfigPath(id string) string {
	return filepath.Join(c.InstanceRunDir(id), "vm.json")
}

// TapName derives the host tap device name from a fixed-length ID prefix.
// Callers must keep IDs unique in their first tapPrefixLen characters.
func (c *Config) TapName(id string) string {
	if len(id) > tapPrefixLen {
		id = id[:tapPrefixLen]
	}
	return "tap" + id
}
