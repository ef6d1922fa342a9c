package setup

import (
	"fmt"
	"time"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/catalog"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/partition"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/raid"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/sysdunit"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// Outcome is the externally observed result: one summary line on stdout.
// The exit code is derived from the error returned next to it.
type Outcome struct {
	Summary string
}

// Pipeline is the provisioning state machine. Every collaborator is a field
// so the whole machine runs against fakes in tests.
type Pipeline struct {
	Config   *configuration.Config
	Executor exec.Executor
	Mounter  *mounttab.Mounter
	Catalog  *catalog.Catalog
	Table    *fstab.Table
	Units    *sysdunit.Manager
	Prober   *partition.Prober
	Guard    *ConflictGuard
	Raid     *raid.Manager

	LoadMounts       func() (*mounttab.Snapshot, error)
	ValidatorFactory func(mounts *mounttab.Snapshot) *Validator
}

// NewPipeline wires the production collaborators.
func NewPipeline(cfg *configuration.Config) *Pipeline {
	executor := &exec.CommandExecutor{}
	return &Pipeline{
		Config:     cfg,
		Executor:   executor,
		Mounter:    mounttab.NewMounter(),
		Catalog:    catalog.NewCatalog(executor),
		Table:      fstab.NewTable(fstab.DefaultPath),
		Units:      sysdunit.NewManager(executor),
		Prober:     partition.NewProber(executor),
		Guard:      NewConflictGuard(),
		Raid:       raid.NewManager(executor),
		LoadMounts: mounttab.LoadSnapshot,
		ValidatorFactory: func(mounts *mounttab.Snapshot) *Validator {
			return NewValidator(executor, mounts)
		},
	}
}

// Run executes one pass of the state machine. It is strictly ordered and
// single-threaded; idempotence across re-runs is the interruption-safety
// mechanism, not in-run rollback.
func (p *Pipeline) Run() (*Outcome, error) {
	cfg := p.Config

	if err := p.Guard.Check(cfg.ManageScsiResourceDisk); err != nil {
		return nil, err
	}

	entries, err := p.Table.Load()
	if err != nil {
		return nil, err
	}
	mounts, err := p.LoadMounts()
	if err != nil {
		return nil, err
	}

	inspection, err := InspectTarget(cfg.MountPoint, cfg.ManageScsiResourceDisk, entries, mounts)
	if err != nil {
		return nil, err
	}

	reconciler := NewReconciler(p.Executor, p.Mounter, p.Units, mounts)

	switch inspection.State {
	case TargetOwnedMounted:
		return &Outcome{Summary: fmt.Sprintf("Ephemeral storage already mounted at %s, ready for use", cfg.MountPoint)}, nil
	case TargetForeignCloudInit:
		return &Outcome{Summary: fmt.Sprintf("Resource disk at %s is managed by cloud-init, nothing to do", cfg.MountPoint)}, nil
	case TargetOwnedUnmounted:
		if err := reconciler.Reconcile(cfg); err != nil {
			return nil, err
		}
		return &Outcome{Summary: fmt.Sprintf("Mounted %s at %s with fs=%s", inspection.Entry.Source, cfg.MountPoint, inspection.Entry.FsType)}, nil
	}

	// The table may have been unwritable on an earlier run; an owned
	// filesystem is searched for by label before any discovery.
	if device, err := reconciler.MountByLabel(cfg); err != nil {
		return nil, err
	} else if device != "" {
		return &Outcome{Summary: fmt.Sprintf("Mounted %s at %s", device, cfg.MountPoint)}, nil
	}

	candidates, scratch, outcome, err := p.discover()
	if err != nil || outcome != nil {
		return outcome, err
	}

	if err := p.ValidatorFactory(mounts).Validate(candidates); err != nil {
		return nil, err
	}

	devices := make([]string, 0, len(candidates))
	for _, c := range candidates {
		devices = append(devices, c.Path)
	}

	sel, err := p.Raid.Plan(cfg.Aggregation, cfg.RaidName, cfg.ChunkSize, devices)
	if err != nil {
		return nil, err
	}

	settleTimeout := time.Duration(cfg.UdevSettleTimeoutSeconds) * time.Second
	if sel.Aggregated() {
		if err := p.Raid.Create(sel); err != nil {
			return nil, &OperationError{Device: sel.Device, Err: err}
		}
		if err := p.Prober.UdevSettle(settleTimeout); err != nil {
			return nil, err
		}
	}

	target, force := FormatTarget(sel, scratch)
	orchestrator := NewOrchestrator(p.Executor, p.Table)
	if err := orchestrator.Format(cfg, target, force); err != nil {
		return nil, err
	}
	if scratch != nil && target == scratch.Path {
		// whole-disk reformat invalidates the kernel's partition view
		p.Prober.Rescan(scratch.Path)
		if err := p.Prober.UdevSettle(settleTimeout); err != nil {
			return nil, err
		}
	}

	orchestrator.Persist(cfg)

	if err := reconciler.MountFresh(target, cfg.MountPoint, cfg.FsType); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Mounted %s at %s with fs=%s", target, cfg.MountPoint, cfg.FsType)
	if sel.Aggregated() {
		summary += fmt.Sprintf(" chunk=%s count=%d", sel.Chunk, len(sel.Members))
	}
	return &Outcome{Summary: summary}, nil
}

// discover runs the catalog and applies the candidate-class policy: local
// NVMe disks when present, otherwise the resource disk when its management
// is enabled. A non-nil Outcome is a benign "nothing to do" exit.
func (p *Pipeline) discover() ([]*types.DiskCandidate, *types.DiskCandidate, *Outcome, error) {
	locals, err := p.Catalog.LocalNvmeDisks()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(locals) > 0 {
		return locals, nil, nil, nil
	}

	if !p.Config.ManageScsiResourceDisk {
		return nil, nil, &Outcome{Summary: "No local NVMe disks detected, exiting without action"}, nil
	}

	scratch, err := p.Catalog.ResourceDisk()
	if err != nil {
		return nil, nil, nil, err
	}
	if scratch == nil {
		return nil, nil, &Outcome{Summary: "No local NVMe disks or SCSI resource disk detected, exiting without action"}, nil
	}

	log.Infof("no local NVMe disks, using SCSI resource disk %s", scratch.Path)
	return []*types.DiskCandidate{scratch}, scratch, nil, nil
}
