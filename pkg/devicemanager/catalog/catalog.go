/*
   Copyright @ 2024 The ephemeral-disk-setup authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

var (
	localDiskModels = []string{
		types.NvmeDirectDiskModel,
		types.NvmeDirectDiskModelV2,
	}
	nvmeNamespaceRegexp = regexp.MustCompile(`^nvme[0-9]+n[0-9]+$`)
	lsblkPairRegexp     = regexp.MustCompile(`([A-Z]+)="([^"]*)"`)
)

// Catalog enumerates candidate disks. Classification is strictly by
// controller model string and by well-known path existence; no ioctl-level
// identification happens here.
type Catalog struct {
	Executor     exec.Executor
	SysfsNvme    string
	ResourceLink string
}

func NewCatalog(executor exec.Executor) *Catalog {
	return &Catalog{
		Executor:     executor,
		SysfsNvme:    "/sys/class/nvme",
		ResourceLink: types.ResourceDiskLink,
	}
}

// LocalNvmeDisks returns every namespace of every controller whose model
// matches a known direct-attached local disk product, natural device order.
func (c *Catalog) LocalNvmeDisks() ([]*types.DiskCandidate, error) {
	controllers, err := os.ReadDir(c.SysfsNvme)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("no NVMe controllers: %s does not exist", c.SysfsNvme)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %v", c.SysfsNvme, err)
	}

	candidates := []*types.DiskCandidate{}
	for _, controller := range controllers {
		if !strings.HasPrefix(controller.Name(), "nvme") {
			continue
		}
		modelPath := filepath.Join(c.SysfsNvme, controller.Name(), "model")
		raw, err := os.ReadFile(modelPath)
		if err != nil {
			log.Debugf("skipping controller %s: %v", controller.Name(), err)
			continue
		}
		model := strings.TrimSpace(string(raw))
		if !utils.ContainsString(localDiskModels, model) {
			log.Debugf("controller %s model %q is not a local disk", controller.Name(), model)
			continue
		}

		namespaces, err := c.namespaceDevices(controller.Name())
		if err != nil {
			return nil, err
		}
		for _, ns := range namespaces {
			candidate := &types.DiskCandidate{
				Path:  "/dev/" + ns,
				Bus:   types.BusLocalNvme,
				Model: model,
			}
			if err := c.populate(candidate); err != nil {
				return nil, err
			}
			candidates = append(candidates, candidate)
		}
	}

	sortCandidates(candidates)
	log.Infof("discovered %d local NVMe disk(s)", len(candidates))
	return candidates, nil
}

// ResourceDisk resolves the SCSI resource disk through its stable symlink.
// Returns nil when the platform provided none.
func (c *Catalog) ResourceDisk() (*types.DiskCandidate, error) {
	resolved, err := filepath.EvalSymlinks(c.ResourceLink)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("no SCSI resource disk at %s", c.ResourceLink)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve %s: %v", c.ResourceLink, err)
	}

	candidate := &types.DiskCandidate{
		Path: resolved,
		Bus:  types.BusScsiResource,
	}
	if err := c.populate(candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

func (c *Catalog) namespaceDevices(controller string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.SysfsNvme, controller))
	if err != nil {
		return nil, fmt.Errorf("failed to scan controller %s: %v", controller, err)
	}
	devices := []string{}
	for _, entry := range entries {
		if nvmeNamespaceRegexp.MatchString(entry.Name()) {
			devices = append(devices, entry.Name())
		}
	}
	return utils.NaturalSort(devices), nil
}

// populate fills filesystem, label, mount and partition state from lsblk.
func (c *Catalog) populate(candidate *types.DiskCandidate) error {
	out, err := c.Executor.ExecuteCommandWithOutput("lsblk",
		"--pairs", "--paths", "--bytes",
		"--output", "NAME,FSTYPE,LABEL,MOUNTPOINT,TYPE,PKNAME",
		candidate.Path)
	if err != nil {
		return fmt.Errorf("lsblk failed for %s: %v", candidate.Path, err)
	}

	partitions := []types.PartitionInfo{}
	for _, line := range strings.Split(out, "\n") {
		props := parsePairs(line)
		if len(props) == 0 {
			continue
		}
		switch props["TYPE"] {
		case types.DiskType:
			candidate.Filesystem = props["FSTYPE"]
			candidate.Label = props["LABEL"]
			candidate.MountPoint = props["MOUNTPOINT"]
		case types.PartType:
			if props["PKNAME"] != candidate.Path {
				continue
			}
			partitions = append(partitions, types.PartitionInfo{
				Path:       props["NAME"],
				Filesystem: props["FSTYPE"],
				Label:      props["LABEL"],
				MountPoint: props["MOUNTPOINT"],
			})
		}
	}
	candidate.Partitions = partitions
	return nil
}

func parsePairs(line string) map[string]string {
	props := map[string]string{}
	for _, match := range lsblkPairRegexp.FindAllStringSubmatch(line, -1) {
		props[match[1]] = match[2]
	}
	return props
}

func sortCandidates(candidates []*types.DiskCandidate) {
	paths := make([]string, 0, len(candidates))
	byPath := map[string]*types.DiskCandidate{}
	for _, c := range candidates {
		paths = append(paths, c.Path)
		byPath[c.Path] = c
	}
	for i, p := range utils.NaturalSort(paths) {
		candidates[i] = byPath[p]
	}
}
