// Package firecracker runs one Firecracker process per instance, configured
// entirely from a --config-file written ahead of launch.
package firecracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/config"
	"github.com/sparklane/sparklane/hypervisor"
	"github.com/sparklane/sparklane/utils"
)

const (
	typ = "firecracker"

	shutdownPollInterval = 500 * time.Millisecond
	terminateGracePeriod = 5 * time.Second
)

// compile-time interface check.
var _ hypervisor.Hypervisor = (*Firecracker)(nil)

// Firecracker implements hypervisor.Hypervisor.
type Firecracker struct {
	conf *config.Config
}

// New creates a Firecracker backend.
func New(conf *config.Config) *Firecracker {
	return &Firecracker{conf: conf}
}

func (fc *Firecracker) Type() string { return typ }

// Configure writes the boot config to the instance's run directory.
func (fc *Firecracker) Configure(ctx context.Context, spec *hypervisor.VMSpec) error {
	if err := fc.conf.EnsureInstanceDirs(spec.ID); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	cfg := fc.bootConfig(spec)
	path := fc.conf.BootConfigPath(spec.ID)
	if err := utils.AtomicWriteJSON(path, cfg, 0o600); err != nil {
		return fmt.Errorf("write boot config %s: %w", path, err)
	}
	log.WithFunc("firecracker.Configure").Infof(ctx, "boot config for %s written to %s", spec.ID, path)
	return nil
}

func (fc *Firecracker) bootConfig(spec *hypervisor.VMSpec) *bootConfig {
	return &bootConfig{
		BootSource: bootSource{
			KernelImagePath: fc.conf.KernelPath,
			BootArgs:        fc.conf.BootArgs,
		},
		Drives: []drive{{
			DriveID:      rootDriveID,
			PathOnHost:   spec.RootDrive,
			IsRootDevice: true,
			IsReadOnly:   false,
		}},
		NetworkInterfaces: []netIface{{
			IfaceID:     guestIfaceID,
			HostDevName: spec.TapName,
			GuestMAC:    spec.MAC,
		}},
		ConsoleCfg: consoleFile{File: fc.conf.ConsoleLog(spec.ID)},
	}
}

// Launch runs `firecracker --api-sock <sock> --config-file <vm.json>` and
// waits for it to exit. The guest powers off at the end of its init
// script, so a zero exit means the script ran to completion.
func (fc *Firecracker) Launch(ctx context.Context, id string, onStart func(pid int)) error {
	logger := log.WithFunc("firecracker.Launch")
	socketPath := fc.conf.SocketPath(id)
	pidFile := fc.conf.PIDFile(id)

	// Clean up stale socket from any previous run; firecracker refuses to
	// bind over it.
	if err := utils.RemoveIfExists(socketPath); err != nil {
		return fmt.Errorf("%w: remove stale socket: %w", hypervisor.ErrLaunchFailed, err)
	}

	// The log only aids debugging; a VM still boots without it.
	logFile, err := os.Create(fc.conf.ProcessLog(id)) //nolint:gosec
	if err != nil {
		logger.Warnf(ctx, "create process log for %s: %v", id, err)
		logFile = nil
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	cmd := exec.CommandContext(ctx, fc.conf.FirecrackerBinary, //nolint:gosec
		"--api-sock", socketPath,
		"--config-file", fc.conf.BootConfigPath(id),
	)
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: exec %s: %w", hypervisor.ErrLaunchFailed, fc.conf.FirecrackerBinary, err)
	}
	pid := cmd.Process.Pid
	if err := utils.WritePIDFile(pidFile, pid); err != nil {
		logger.Warnf(ctx, "write PID file for %s: %v", id, err)
	}
	if onStart != nil {
		onStart(pid)
	}
	logger.Infof(ctx, "firecracker %d started for %s", pid, id)

	err = cmd.Wait()
	_ = os.Remove(pidFile)
	_ = os.Remove(socketPath)
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("%w: %s exited with code %d", hypervisor.ErrLaunchFailed, id, ee.ExitCode())
		}
		return fmt.Errorf("%w: wait %s: %w", hypervisor.ErrLaunchFailed, id, err)
	}
	logger.Infof(ctx, "firecracker for %s exited cleanly", id)
	return nil
}

// Stop sends Ctrl+Alt+Del over the control socket, waits up to the
// configured timeout for the process to exit, then falls back to
// SIGTERM/SIGKILL. The PID is checked against the binary name before any
// signal so a reused PID is never touched.
func (fc *Firecracker) Stop(ctx context.Context, id string) error {
	logger := log.WithFunc("firecracker.Stop")
	pidFile := fc.conf.PIDFile(id)
	socketPath := fc.conf.SocketPath(id)
	defer func() {
		_ = os.Remove(pidFile)
		_ = os.Remove(socketPath)
	}()

	pid, _ := utils.ReadPIDFile(pidFile)
	if !utils.IsProcessAlive(pid) || !utils.VerifyProcess(pid, filepath.Base(fc.conf.FirecrackerBinary)) {
		return nil
	}

	if err := hypervisor.PutJSON(ctx, socketPath, "/actions", action{ActionType: "SendCtrlAltDel"}); err != nil {
		logger.Warnf(ctx, "SendCtrlAltDel %s: %v, falling back to signals", id, err)
		return utils.TerminateProcess(ctx, pid, terminateGracePeriod)
	}

	timeout := time.Duration(fc.conf.StopTimeoutSeconds) * time.Second
	if err := utils.WaitFor(ctx, timeout, shutdownPollInterval, func() (bool, error) {
		return !utils.IsProcessAlive(pid), nil
	}); err == nil {
		return nil
	}
	logger.Warnf(ctx, "VM %s did not power off within %s, falling back to signals", id, timeout)
	return utils.TerminateProcess(ctx, pid, terminateGracePeriod)
}
