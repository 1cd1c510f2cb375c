// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/rpc"
)

// findInserts derives the insert-before moves that transform old into
// new. Both must hold the same set of names. The result is empty iff
// the orders are already equal, and minimal for pure reorderings.
func findInserts(old, new []string) ([]rpc.Insert, error) {
	if len(old) != len(new) {
		return nil, capsuled.ErrSchema.New("names mismatch")
	}
	seen := make(map[string]bool, len(old))
	for _, name := range old {
		seen[name] = true
	}
	for _, name := range new {
		if !seen[name] {
			return nil, capsuled.ErrSchema.New("names mismatch")
		}
	}

	work := append([]string(nil), old...)
	var inserts []rpc.Insert
	for i := 0; i < len(new); i++ {
		if work[i] == new[i] {
			continue
		}
		name, before := new[i], work[i]
		inserts = append(inserts, rpc.Insert{Name: name, Before: before})
		// Reposition name in work just before its current position i.
		for j := i + 1; j < len(work); j++ {
			if work[j] == name {
				copy(work[i+1:j+1], work[i:j])
				work[i] = name
				break
			}
		}
	}
	return inserts, nil
}
