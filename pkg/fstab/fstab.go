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

package fstab

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils"
)

// OwnershipTag marks a persistent-table entry as written by this tool. It is
// carried in the options field; mount(8) ignores x-* options.
const OwnershipTag = "x-azure-ephemeral-disk-setup"

const DefaultPath = "/etc/fstab"

// Entry is one persistent mount-table line.
type Entry struct {
	Source     string
	MountPoint string
	FsType     string
	Options    string
	Dump       int
	Pass       int
}

// Tagged reports whether the entry carries this tool's ownership tag.
func (e *Entry) Tagged() bool {
	return utils.ContainsString(strings.Split(e.Options, ","), OwnershipTag)
}

// Line renders the entry in fstab format.
func (e *Entry) Line() string {
	return fmt.Sprintf("%s %s %s %s %d %d", e.Source, e.MountPoint, e.FsType, e.Options, e.Dump, e.Pass)
}

// Table reads and rewrites the persistent mount table. Non-entry lines
// (comments, blanks) are preserved verbatim on rewrite.
type Table struct {
	Path string
}

func NewTable(path string) *Table {
	return &Table{Path: path}
}

// Load parses all entries. A missing table reads as empty.
func (t *Table) Load() ([]Entry, error) {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %v", t.Path, err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if e, ok := parseLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// FindByMountPoint returns the first entry for the mount point, or nil.
func FindByMountPoint(entries []Entry, mountPoint string) *Entry {
	for i := range entries {
		if entries[i].MountPoint == mountPoint {
			return &entries[i]
		}
	}
	return nil
}

// Replace removes every tagged entry and appends entry, keeping all other
// lines untouched. At most one tagged entry exists afterwards.
func (t *Table) Replace(entry Entry) error {
	var kept []string
	data, err := os.ReadFile(t.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %v", t.Path, err)
	}
	if err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if e, ok := parseLine(line); ok && e.Tagged() {
				continue
			}
			kept = append(kept, line)
		}
	}

	kept = append(kept, entry.Line())
	content := strings.Join(kept, "\n") + "\n"

	if err := os.WriteFile(t.Path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", t.Path, err)
	}
	return nil
}

func parseLine(line string) (Entry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 4 {
		return Entry{}, false
	}
	e := Entry{
		Source:     fields[0],
		MountPoint: fields[1],
		FsType:     fields[2],
		Options:    fields[3],
	}
	if len(fields) > 4 {
		e.Dump, _ = strconv.Atoi(fields[4])
	}
	if len(fields) > 5 {
		e.Pass, _ = strconv.Atoi(fields[5])
	}
	return e, true
}
