package firecracker

// The boot config field names and nesting are fixed by the hypervisor's
// --config-file contract.

type bootConfig struct {
	BootSource        bootSource  `json:"boot-source"`
	Drives            []drive     `json:"drives"`
	NetworkInterfaces []netIface  `json:"network-interfaces"`
	ConsoleCfg        consoleFile `json:"console-cfg"`
}

type bootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args"`
}

type drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

type netIface struct {
	IfaceID     string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMAC    string `json:"guest_mac"`
}

type consoleFile struct {
	File string `json:"file"`
}

type action struct {
	ActionType string `json:"action_type"`
}

const (
	rootDriveID  = "rootfs"
	guestIfaceID = "eth0"
)
