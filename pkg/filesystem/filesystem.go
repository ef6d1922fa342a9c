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

package filesystem

import (
	"fmt"
	"strings"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
)

const blkidCmd = "blkid"

// Filesystem formats one block device. force is only ever set for resource
// disk media already validated as safe to erase.
type Filesystem interface {
	Name() string
	Mkfs(device, label string, force bool) error
}

type factory func(executor exec.Executor) Filesystem

var fsTypeMap = map[string]factory{}

// New returns the formatter for fsType.
func New(fsType string, executor exec.Executor) (Filesystem, error) {
	f, ok := fsTypeMap[fsType]
	if !ok {
		return nil, fmt.Errorf("unsupported filesystem type %q", fsType)
	}
	return f(executor), nil
}

// DetectFilesystem returns the filesystem type on device, or "" when blkid
// finds none.
func DetectFilesystem(executor exec.Executor, device string) (string, error) {
	out, err := executor.ExecuteCommandWithOutput(blkidCmd, "-o", "value", "-s", "TYPE", device)
	if err != nil {
		// blkid exits 2 when the device carries no recognizable signature
		if code, ok := exec.ExitStatus(err); ok && code == 2 {
			return "", nil
		}
		return "", fmt.Errorf("blkid failed for %s: %v", device, err)
	}
	return out, nil
}

// FindDeviceByLabel returns the block device carrying a filesystem with the
// given label, or "" when no such device exists. Two devices carrying the
// label (a stale label on a replaced disk next to the live one) is an error;
// guessing which one to mount would be destructive.
func FindDeviceByLabel(executor exec.Executor, label string) (string, error) {
	out, err := executor.ExecuteCommandWithOutput(blkidCmd, "-o", "device", "-t", "LABEL="+label)
	if err != nil {
		if code, ok := exec.ExitStatus(err); ok && code == 2 {
			return "", nil
		}
		// lsblk-style tools exit non-zero with empty output on no match
		if out == "" {
			return "", nil
		}
		return "", fmt.Errorf("blkid label lookup failed for %q: %v", label, err)
	}

	devices := strings.Fields(out)
	switch len(devices) {
	case 0:
		return "", nil
	case 1:
		return devices[0], nil
	}
	return "", fmt.Errorf("label %q is ambiguous: found on %s", label, strings.Join(devices, ", "))
}
