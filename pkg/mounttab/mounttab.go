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

package mounttab

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// MountRecord is one live mount-table line.
type MountRecord struct {
	Source     string
	MountPoint string
	FsType     string
}

// Snapshot is the live mount table captured once per run and passed through
// the pipeline, so the state machine never re-queries the OS ad hoc.
type Snapshot struct {
	Records []MountRecord
}

// LoadSnapshot captures the current mount table from procfs.
func LoadSnapshot() (*Snapshot, error) {
	mounts, err := procfs.GetMounts()
	if err != nil {
		return nil, fmt.Errorf("failed to read mountinfo: %v", err)
	}
	s := &Snapshot{}
	for _, m := range mounts {
		s.Records = append(s.Records, MountRecord{
			Source:     m.Source,
			MountPoint: m.MountPoint,
			FsType:     m.FSType,
		})
	}
	return s, nil
}

// AtPath returns the mount record at path, or nil when nothing is mounted
// there. Symlinks in path are resolved.
func (s *Snapshot) AtPath(path string) *MountRecord {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	for i := range s.Records {
		if s.Records[i].MountPoint == resolved {
			return &s.Records[i]
		}
	}
	return nil
}

// ByDevice returns every mount whose source is the given block device,
// compared by device identity rather than by path so mounts through another
// name of the same device are caught.
func (s *Snapshot) ByDevice(device string) []MountRecord {
	var records []MountRecord
	for i := range s.Records {
		same, err := isSameDevice(device, s.Records[i].Source)
		if err != nil {
			continue
		}
		if same {
			records = append(records, s.Records[i])
		}
	}
	return records
}

// isSameDevice compares two device paths by rdev, tolerating paths that do
// not exist (virtual sources like tmpfs).
func isSameDevice(dev1, dev2 string) (bool, error) {
	if dev1 == dev2 {
		return true, nil
	}

	var st1, st2 unix.Stat_t
	if err := unix.Stat(dev1, &st1); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat failed for %s: %v", dev1, err)
	}
	if err := unix.Stat(dev2, &st2); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat failed for %s: %v", dev2, err)
	}
	if st1.Rdev == 0 || st2.Rdev == 0 {
		return false, nil
	}

	return st1.Rdev == st2.Rdev, nil
}
