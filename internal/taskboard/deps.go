package taskboard

import (
	"sort"

	"github.com/Iron-Ham/runboard/internal/store"
)

// dependencyGraph maps each task id to the ids it depends on.
func dependencyGraph(tasks []*store.Task) map[string][]string {
	graph := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		graph[t.TaskID] = t.DependsOn
	}
	return graph
}

// findCycle searches depth-first from each dependency of taskID through the
// existing graph. If the search reaches taskID, giving it deps would close
// a cycle, and the returned path runs from taskID back to itself.
func findCycle(taskID string, deps []string, graph map[string][]string) []string {
	visited := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		path = append(path, id)
		if id == taskID {
			return path
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		for _, next := range graph[id] {
			if found := visit(next, path); found != nil {
				return found
			}
		}
		return nil
	}

	for _, dep := range deps {
		if found := visit(dep, []string{taskID}); found != nil {
			return found
		}
	}
	return nil
}

// unmetDependencies returns the dependencies of task that are not
// completed, in declaration order. Missing tasks count as unmet.
func unmetDependencies(task *store.Task, statuses map[string]store.TaskStatus) []string {
	var unmet []string
	for _, dep := range task.DependsOn {
		if statuses[dep] != store.TaskCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func statusIndex(tasks []*store.Task) map[string]store.TaskStatus {
	idx := make(map[string]store.TaskStatus, len(tasks))
	for _, t := range tasks {
		idx[t.TaskID] = t.Status
	}
	return idx
}

// executionOrder returns task ids level by level in topological order:
// every task appears after all of its dependencies that exist. Ids within a
// level are sorted. Tasks caught in a cycle are appended last.
func executionOrder(tasks []*store.Task) []string {
	if len(tasks) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.TaskID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := inDegree[dep]; ok {
				inDegree[t.TaskID]++
				dependents[dep] = append(dependents[dep], t.TaskID)
			}
		}
	}

	var order, level []string
	for id, deg := range inDegree {
		if deg == 0 {
			level = append(level, id)
		}
	}
	placed := make(map[string]bool, len(tasks))
	for len(level) > 0 {
		sort.Strings(level)
		order = append(order, level...)

		var next []string
		for _, id := range level {
			placed[id] = true
			for _, d := range dependents[id] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		level = next
	}

	if len(order) < len(tasks) {
		var rest []string
		for id := range inDegree {
			if !placed[id] {
				rest = append(rest, id)
			}
		}
		sort.Strings(rest)
		order = append(order, rest...)
	}
	return order
}
