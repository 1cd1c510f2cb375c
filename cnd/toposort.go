// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package cnd

import (
	"sort"
	"strings"

	"github.com/capsule/capsuled"
)

// TopologicalSort orders the nodes of a dependency graph so that
// every node's dependencies precede it. The graph maps a node to the
// nodes it depends on.
//
// A reference to a node absent from the graph, or a dependency loop,
// yields an error; the loop error names every node on the cycle in
// sorted order.
func TopologicalSort(graph map[string][]string) ([]string, error) {
	roots := make([]string, 0, len(graph))
	for name := range graph {
		roots = append(roots, name)
	}
	sort.Strings(roots)

	var order []string
	done := make(map[string]bool, len(graph))
	ancestors := make(map[string]bool)

	// Iterative DFS; a frame revisits its node after its dependencies
	// have been pushed.
	type frame struct {
		node string
		exit bool
	}
	for _, root := range roots {
		if done[root] {
			continue
		}
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if fr.exit {
				delete(ancestors, fr.node)
				if !done[fr.node] {
					order = append(order, fr.node)
					done[fr.node] = true
				}
				continue
			}
			if done[fr.node] {
				continue
			}
			ancestors[fr.node] = true
			stack = append(stack, frame{node: fr.node, exit: true})
			for _, dep := range graph[fr.node] {
				if _, ok := graph[dep]; !ok {
					return nil, capsuled.ErrSchema.New(
						"Missing dependent '%s' in '%s'", dep, fr.node)
				}
				if ancestors[dep] {
					return nil, loopError(ancestors)
				}
				if !done[dep] {
					stack = append(stack, frame{node: dep})
				}
			}
		}
	}
	return order, nil
}

func loopError(ancestors map[string]bool) error {
	names := make([]string, 0, len(ancestors))
	for name := range ancestors {
		names = append(names, "'"+name+"'")
	}
	sort.Strings(names)
	return capsuled.ErrSchema.New("Loop involving %s", strings.Join(names, ", "))
}
