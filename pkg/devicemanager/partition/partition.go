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

package partition

import (
	"fmt"
	"time"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// settleGrace is how long udevadm gets past its own deadline before the
// process is interrupted.
const settleGrace = 5 * time.Second

// Prober synchronizes the kernel partition-table view with the disk after
// array creation or reformatting. Rescan failures are tolerated; settle
// timeouts are surfaced to the caller.
type Prober struct {
	Executor exec.Executor
}

func NewProber(executor exec.Executor) *Prober {
	return &Prober{Executor: executor}
}

// Rescan asks the kernel to re-read the partition table of device.
func (p *Prober) Rescan(device string) {
	if _, err := p.Executor.ExecuteCommandWithOutput("blockdev", "--rereadpt", device); err != nil {
		// busy devices refuse a re-read; udev settle still runs
		log.Warnf("partition table rescan of %s failed: %v", device, err)
	}
}

// UdevSettle waits for the udev event queue to drain, bounded by timeout.
// udevadm enforces the deadline itself; the process is additionally bounded
// in case udevadm hangs before its own timer fires.
func (p *Prober) UdevSettle(timeout time.Duration) error {
	arg := fmt.Sprintf("--timeout=%d", int(timeout.Seconds()))
	if _, err := p.Executor.ExecuteCommandWithTimeout(timeout+settleGrace, "udevadm", "settle", arg); err != nil {
		return fmt.Errorf("udevadm settle did not complete within %s: %v", timeout, err)
	}
	return nil
}
