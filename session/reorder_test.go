// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"testing"

	"github.com/capsule/capsuled/rpc"
	"github.com/stretchr/testify/require"
)

// replay applies insert-before moves to old and returns the result.
func replay(old []string, inserts []rpc.Insert) []string {
	work := append([]string(nil), old...)
	for _, ins := range inserts {
		from, to := -1, -1
		for i, name := range work {
			if name == ins.Name {
				from = i
			}
			if name == ins.Before {
				to = i
			}
		}
		entry := work[from]
		work = append(work[:from], work[from+1:]...)
		if from < to {
			to--
		}
		work = append(work[:to], append([]string{entry}, work[to:]...)...)
	}
	return work
}

func split(s string) []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

func TestFindInserts(t *testing.T) {
	tests := []struct {
		old, new string
		want     []rpc.Insert
	}{
		{"abcdef", "abcdef", nil},
		{"abcd", "cdab", []rpc.Insert{{Name: "c", Before: "a"}, {Name: "d", Before: "a"}}},
		{"abcd", "dcba", []rpc.Insert{{Name: "d", Before: "a"}, {Name: "c", Before: "a"}, {Name: "b", Before: "a"}}},
		{"abcd", "adcb", []rpc.Insert{{Name: "d", Before: "b"}, {Name: "c", Before: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.old+"->"+tt.new, func(t *testing.T) {
			got, err := findInserts(split(tt.old), split(tt.new))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, split(tt.new), replay(split(tt.old), got))
		})
	}
}

func TestFindInsertsEmptyIffEqual(t *testing.T) {
	orders := []string{"abc", "acb", "bac", "bca", "cab", "cba"}
	for _, old := range orders {
		for _, new := range orders {
			inserts, err := findInserts(split(old), split(new))
			require.NoError(t, err)
			if old == new {
				require.Empty(t, inserts)
			} else {
				require.NotEmpty(t, inserts)
			}
			require.Equal(t, split(new), replay(split(old), inserts))
		}
	}
}

func TestFindInsertsRejectsMismatchedSets(t *testing.T) {
	_, err := findInserts(split("abc"), split("abd"))
	require.Error(t, err)
	_, err = findInserts(split("abc"), split("ab"))
	require.Error(t, err)
}
