package workflow

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// topologicalOrder sorts nodes so every node comes before its successors.
// It fails when the successor graph has a cycle or names an unknown node.
func topologicalOrder(nodes []string, successors map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n] = struct{}{}
		inDegree[n] = 0
	}

	for node, next := range successors {
		for _, to := range next {
			if _, ok := known[to]; !ok {
				return nil, fmt.Errorf("edge from '%s' targets unknown node '%s'", node, to)
			}
			inDegree[to]++
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, curr)

		next := append([]string(nil), successors[curr]...)
		sort.Strings(next)
		for _, to := range next {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if len(sorted) != len(nodes) {
		return nil, errors.New("cycle detected in graph edges")
	}
	return sorted, nil
}
