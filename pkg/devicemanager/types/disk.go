package types

const (
	// NVMe controller model strings for the two generations of the
	// direct-attached local disk product.
	NvmeDirectDiskModel   = "Microsoft NVMe Direct Disk"
	NvmeDirectDiskModelV2 = "Microsoft NVMe Direct Disk v2"

	// Stable symlink for the SCSI resource disk.
	ResourceDiskLink = "/dev/disk/azure/resource"

	// cloud-init's udev aliases for the resource disk. An untagged fstab
	// entry with one of these sources marks the hand-off case.
	CloudInitResourceLink     = "/dev/disk/cloud/azure_resource"
	CloudInitResourcePartLink = "/dev/disk/cloud/azure_resource-part1"

	// Label the platform puts on a factory-formatted resource disk partition.
	TemporaryStorageLabel = "Temporary Storage"

	// DiskType is a whole-disk type as reported by lsblk
	DiskType = "disk"
	// PartType is a partition type
	PartType = "part"
)

// BusKind classifies how a candidate disk is attached.
type BusKind string

const (
	BusLocalNvme    BusKind = "local-nvme"
	BusScsiResource BusKind = "scsi-resource"
)

// PartitionInfo describes one partition of a candidate disk.
type PartitionInfo struct {
	// Path is the partition device path
	Path string `json:"path"`
	// Filesystem currently on the partition, empty if none
	Filesystem string `json:"filesystem"`
	// Label of the filesystem, empty if none
	Label string `json:"label"`
	// MountPoint where the partition is live-mounted, empty if not mounted
	MountPoint string `json:"mountPoint"`
}

// DiskCandidate is the immutable per-run snapshot of one candidate disk.
// Discovered fresh every run and never persisted.
type DiskCandidate struct {
	// Path is the device path, e.g. /dev/nvme0n1
	Path string `json:"path"`
	// Bus tells local NVMe apart from the SCSI resource disk
	Bus BusKind `json:"bus"`
	// Model is the hardware model string reported by the controller
	Model string `json:"model"`
	// Filesystem directly on the whole device, empty if none
	Filesystem string `json:"filesystem"`
	// Label of the whole-device filesystem, empty if none
	Label string `json:"label"`
	// MountPoint where the whole device is live-mounted, empty if not
	MountPoint string `json:"mountPoint"`
	// Partitions on the device, natural order
	Partitions []PartitionInfo `json:"partitions"`
}

// PartitionCount is the number of partitions carried by the disk.
func (d *DiskCandidate) PartitionCount() int {
	return len(d.Partitions)
}
