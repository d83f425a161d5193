// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"fmt"
	"sort"
	"strings"
)

// Range defines a generic bytes range within a flash address space.
type Range struct {
	Offset uint64
	Length uint64
}

func (r Range) String() string {
	return fmt.Sprintf(`{"Offset":"0x%x", "Length":"0x%x"}`, r.Offset, r.Length)
}

// End returns the first offset after the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Intersect returns True if ranges "r" and "cmp" has at least
// one byte with the same offset.
func (r Range) Intersect(cmp Range) bool {
	if r.Length == 0 || cmp.Length == 0 {
		return false
	}
	if r.End() <= cmp.Offset {
		return false
	}
	if r.Offset >= cmp.End() {
		return false
	}
	return true
}

// Contains returns true if "inner" lies entirely inside "r". An empty
// "inner" is contained if its offset is within [r.Offset, r.End()].
func (r Range) Contains(inner Range) bool {
	if inner.Offset < r.Offset {
		return false
	}
	// overflow of inner.End() is treated as out of range
	if inner.End() < inner.Offset {
		return false
	}
	return inner.End() <= r.End()
}

// Ranges is a helper to manipulate multiple `Range`-s at once
type Ranges []Range

func (s Ranges) String() string {
	r := make([]string, 0, len(s))
	for _, oneRange := range s {
		r = append(r, oneRange.String())
	}
	return `[` + strings.Join(r, `, `) + `]`
}

// Sort sorts the slice by field Offset
func (s Ranges) Sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Offset < s[j].Offset
	})
}

// Overlaps returns the pairs of indexes of ranges which intersect each other.
func (s Ranges) Overlaps() [][2]int {
	var result [][2]int
	for i := range s {
		for j := i + 1; j < len(s); j++ {
			if s[i].Intersect(s[j]) {
				result = append(result, [2]int{i, j})
			}
		}
	}
	return result
}
