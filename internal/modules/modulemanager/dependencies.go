package modulemanager

import (
	"fmt"
	"sort"
)

// dependencyNode represents a module in the dependency graph
type dependencyNode struct {
	module       Module
	dependencies []string
	visited      bool // for cycle detection
	inStack      bool // for cycle detection
}

// dependencyGraph represents the dependency relationships between modules
type dependencyGraph struct {
	nodes map[string]*dependencyNode
	ids   []string // sorted, for a deterministic order
}

// buildDependencyGraph creates a dependency graph from the enabled modules
func buildDependencyGraph(modules map[string]Module) (*dependencyGraph, error) {
	g := &dependencyGraph{nodes: make(map[string]*dependencyNode, len(modules))}

	for id, m := range modules {
		node := &dependencyNode{module: m}
		if dp, ok := m.(DependencyProvider); ok {
			node.dependencies = append(node.dependencies, dp.Dependencies()...)
			sort.Strings(node.dependencies)
		}
		g.nodes[id] = node
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	for _, id := range g.ids {
		for _, dep := range g.nodes[id].dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("module %s depends on non-existent module %s", id, dep)
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycles uses DFS to detect dependency cycles
func (g *dependencyGraph) detectCycles() error {
	for _, id := range g.ids {
		if !g.nodes[id].visited {
			if err := g.detectCyclesDFS(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *dependencyGraph) detectCyclesDFS(id string, path []string) error {
	node := g.nodes[id]
	node.visited = true
	node.inStack = true
	path = append(path, id)

	for _, dep := range node.dependencies {
		depNode := g.nodes[dep]
		if !depNode.visited {
			if err := g.detectCyclesDFS(dep, path); err != nil {
				return err
			}
			continue
		}
		if depNode.inStack {
			for i, p := range path {
				if p == dep {
					cycle := append(append([]string(nil), path[i:]...), dep)
					return fmt.Errorf("circular dependency detected: %v", cycle)
				}
			}
		}
	}

	node.inStack = false
	return nil
}

// initializationOrder returns modules with every dependency before its dependents
func (g *dependencyGraph) initializationOrder() []Module {
	order := make([]Module, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		done[id] = true
		for _, dep := range g.nodes[id].dependencies {
			visit(dep)
		}
		order = append(order, g.nodes[id].module)
	}

	for _, id := range g.ids {
		visit(id)
	}
	return order
}
