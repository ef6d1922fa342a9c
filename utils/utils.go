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

package utils

import (
	"regexp"
	"sort"
	"strconv"
)

var naturalChunks = regexp.MustCompile(`([0-9]+|[^0-9]+)`)

func ContainsString(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

// NaturalSort orders device names version-aware, so nvme2n1 sorts before
// nvme10n1. Member order of an array and candidate order both rely on it.
func NaturalSort(devices []string) []string {
	sorted := make([]string, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool {
		return naturalLess(sorted[i], sorted[j])
	})
	return sorted
}

func naturalLess(a, b string) bool {
	ca := naturalChunks.FindAllString(a, -1)
	cb := naturalChunks.FindAllString(b, -1)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if ca[i] == cb[i] {
			continue
		}
		na, errA := strconv.Atoi(ca[i])
		nb, errB := strconv.Atoi(cb[i])
		if errA == nil && errB == nil {
			return na < nb
		}
		return ca[i] < cb[i]
	}
	return len(ca) < len(cb)
}
