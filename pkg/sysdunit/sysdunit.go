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

package sysdunit

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const systemctlBinary = "systemctl"

// UnitForPath derives the managed mount unit name from a mount point path,
// e.g. /mnt/scratch -> mnt-scratch.mount.
func UnitForPath(path string) string {
	return unit.UnitNamePathEscape(path) + ".mount"
}

// Manager drives the host process manager through its command-line control
// surface only.
type Manager struct {
	Executor     exec.Executor
	PollInterval time.Duration
}

func NewManager(executor exec.Executor) *Manager {
	return &Manager{Executor: executor, PollInterval: time.Second}
}

// Start asks the process manager to start the unit without blocking.
func (m *Manager) Start(unitName string) error {
	out, err := m.Executor.ExecuteCommandWithCombinedOutput(systemctlBinary, "start", "--no-block", unitName)
	if err != nil {
		return fmt.Errorf("systemctl start %s failed: %v: %s", unitName, err, out)
	}
	return nil
}

// ActiveState queries the unit's current activation state. The query command
// exits non-zero for every state but "active"; that is not an error here.
func (m *Manager) ActiveState(unitName string) string {
	out, _ := m.Executor.ExecuteCommandWithOutput(systemctlBinary, "is-active", unitName)
	state := strings.TrimSpace(out)
	if state == "" {
		state = "unknown"
	}
	return state
}

// WaitActive polls until the unit reaches the active state, bounded by
// timeout. A unit that settles in failed state ends the wait early.
func (m *Manager) WaitActive(unitName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state := m.ActiveState(unitName)
		switch state {
		case "active":
			return nil
		case "failed":
			return fmt.Errorf("unit %s entered failed state", unitName)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("unit %s did not become active within %s (state %s)", unitName, timeout, state)
		}
		log.Debugf("waiting for unit %s, state %s", unitName, state)
		time.Sleep(m.PollInterval)
	}
}
