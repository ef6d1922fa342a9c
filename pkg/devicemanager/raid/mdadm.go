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

package raid

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const mdadmBinary = "mdadm"

// ErrMdadmMissing is returned when aggregation is explicitly requested but
// the assembler tool is not installed.
var ErrMdadmMissing = errors.New("mdadm is required for AGGREGATION=mdadm but is not installed")

// Selection is the planner's verdict: the device to format and, when
// aggregation was chosen, the ordered member set behind it. Computed, never
// persisted; the array metadata lives on the member disks themselves.
type Selection struct {
	// Device is the block device to format
	Device string
	// Members is the ordered member list; len > 1 means an array is built
	Members []string
	// Chunk is the stripe chunk size, e.g. 512K
	Chunk string
	// Name is the array name without the _0 suffix
	Name string
}

// Aggregated reports whether the selection requires array creation.
func (s *Selection) Aggregated() bool {
	return len(s.Members) > 1
}

type Manager struct {
	Executor exec.Executor
}

func NewManager(executor exec.Executor) *Manager {
	return &Manager{Executor: executor}
}

// Installed reports whether the assembler binary resolves on PATH.
func (m *Manager) Installed() bool {
	_, err := m.Executor.LookPath(mdadmBinary)
	return err == nil
}

// ArrayDevice is the deterministic device path for a configured array name.
func ArrayDevice(name string) string {
	return fmt.Sprintf("/dev/md/%s_0", name)
}

// Plan applies the aggregation decision table to the validated candidates.
// devices must already be in natural sort order. A nil selection with nil
// error means there is nothing to do.
func (m *Manager) Plan(mode, name, chunk string, devices []string) (*Selection, error) {
	switch len(devices) {
	case 0:
		return nil, nil
	case 1:
		return &Selection{Device: devices[0], Members: devices, Chunk: chunk, Name: name}, nil
	}

	switch mode {
	case configuration.AggregationNone:
		log.Warnf("aggregation is disabled, using %s only and ignoring %d other disk(s)", devices[0], len(devices)-1)
		return &Selection{Device: devices[0], Members: devices[:1], Chunk: chunk, Name: name}, nil
	case configuration.AggregationMdadm:
		if !m.Installed() {
			return nil, ErrMdadmMissing
		}
	case configuration.AggregationAuto:
		if !m.Installed() {
			log.Warnf("mdadm is not installed, downgrading aggregation to none and using %s only", devices[0])
			return &Selection{Device: devices[0], Members: devices[:1], Chunk: chunk, Name: name}, nil
		}
	}

	return &Selection{
		Device:  ArrayDevice(name),
		Members: utils.NaturalSort(devices),
		Chunk:   chunk,
		Name:    name,
	}, nil
}

// Create assembles the RAID-0 array for an aggregated selection. Metadata
// 1.2, no write-intent bitmap, never --force.
func (m *Manager) Create(sel *Selection) error {
	args := []string{
		"--create", sel.Device,
		"--run",
		"--level=0",
		"--metadata=1.2",
		"--bitmap=none",
		"--chunk=" + sel.Chunk,
		"--raid-devices=" + strconv.Itoa(len(sel.Members)),
	}
	args = append(args, sel.Members...)

	out, err := m.Executor.ExecuteCommandWithCombinedOutput(mdadmBinary, args...)
	if err != nil {
		return errors.Wrapf(err, "mdadm failed to create %s from %v: %s", sel.Device, sel.Members, out)
	}
	log.Infof("created array %s from %d member(s)", sel.Device, len(sel.Members))
	return nil
}
