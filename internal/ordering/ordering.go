// Package ordering implements spec §4.B: a topological sort of service
// descriptors honoring `dependencies` and `priority` tie-breaks, with
// cycle and unknown-dependency detection.
//
// Grounded on original_source/verdantd/src/ordering.rs (Kahn's
// algorithm), adjusted per spec.md testable property 2 to re-sort the
// ready queue by (priority asc, name asc) on every step — the original
// only sorts by priority and never breaks ties by name.
package ordering

import (
	"sort"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

// Order returns descs sorted into a valid startup order: a appears
// before b whenever a is in b's dependencies, and nodes with equal
// in-degree at a given step are ordered by (priority asc, name asc).
//
// Returns bloom.KindAlreadyRegistered if two descriptors share a name,
// bloom.KindUnknownDependency if a dependency name isn't present in
// descs, and bloom.KindDependencyCycle if the graph isn't acyclic.
func Order(descs []*service.Descriptor) ([]*service.Descriptor, error) {
	byName := make(map[string]*service.Descriptor, len(descs))
	for _, d := range descs {
		if _, dup := byName[d.Name]; dup {
			return nil, bloom.WithNames(bloom.KindAlreadyRegistered,
				"duplicate service name '"+d.Name+"'", d.Name)
		}
		byName[d.Name] = d
	}

	// edges[x] = names that depend on x (x must start before them)
	edges := make(map[string][]string, len(descs))
	inDegree := make(map[string]int, len(descs))
	for _, d := range descs {
		inDegree[d.Name] = 0
	}
	for _, d := range descs {
		for _, dep := range d.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, bloom.WithNames(bloom.KindUnknownDependency,
					"unknown dependency '"+dep+"' for service '"+d.Name+"'", d.Name, dep)
			}
			edges[dep] = append(edges[dep], d.Name)
			inDegree[d.Name]++
		}
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sortReady(ready, byName)

	var orderedNames []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		orderedNames = append(orderedNames, name)

		for _, neighbor := range edges[name] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = append(ready, neighbor)
			}
		}
		sortReady(ready, byName)
	}

	if len(orderedNames) != len(descs) {
		var cyclic []string
		for name, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, bloom.WithNames(bloom.KindDependencyCycle,
			"dependency cycle detected", cyclic...)
	}

	out := make([]*service.Descriptor, 0, len(orderedNames))
	for _, name := range orderedNames {
		out = append(out, byName[name])
	}
	return out, nil
}

func sortReady(names []string, byName map[string]*service.Descriptor) {
	sort.Slice(names, func(i, j int) bool {
		di, dj := byName[names[i]], byName[names[j]]
		if di.Priority != dj.Priority {
			return di.Priority < dj.Priority
		}
		return names[i] < names[j]
	})
}
