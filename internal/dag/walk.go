package dag

import "fmt"

// CheckWalk verifies that walking paths in order never reaches a node
// before a dependency that the walk itself visits later. Dependencies the
// walk never visits are not an error: their output may come from an
// earlier run.
func (g *Graph) CheckWalk(paths [][]string) error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	position := make(map[string]int)
	step := 0
	for _, path := range paths {
		for _, id := range path {
			if _, ok := g.nodes[id]; !ok {
				return fmt.Errorf("path references unknown node: %s", id)
			}
			if _, seen := position[id]; !seen {
				position[id] = step
			}
			step++
		}
	}

	for id, pos := range position {
		for depID := range g.nodes[id].deps {
			depPos, visited := position[depID]
			if visited && depPos > pos {
				return fmt.Errorf("node '%s' is walked before its dependency '%s'", id, depID)
			}
		}
	}
	return nil
}
