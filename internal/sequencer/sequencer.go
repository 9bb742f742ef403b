// Package sequencer orders service startup by dependency.
package sequencer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flotilla-run/flotilla/internal/topology"
)

// CycleError reports a dependency cycle, naming the participating services.
type CycleError struct {
	Services []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between services: %s", strings.Join(e.Services, ", "))
}

// Batches layers the topology into an ordered sequence of start batches.
// Every service's dependencies sit in a strictly earlier batch, so all
// members of one batch can start concurrently. Within a batch, services are
// sorted by name ascending for reproducible output.
func Batches(t *topology.Topology) ([][]string, error) {
	indegree := make(map[string]int, len(t.Services))
	dependents := make(map[string][]string, len(t.Services))

	for _, name := range t.ServiceNames() {
		indegree[name] = len(t.Services[name].DependsOn)
		for _, dep := range t.Services[name].DependsOn {
			dependents[dep.Service] = append(dependents[dep.Service], name)
		}
	}

	var batches [][]string
	placed := 0

	for placed < len(t.Services) {
		var batch []string
		for name, degree := range indegree {
			if degree == 0 {
				batch = append(batch, name)
			}
		}
		if len(batch) == 0 {
			stuck := make(map[string]bool, len(indegree))
			for name := range indegree {
				stuck[name] = true
			}
			return nil, &CycleError{Services: cycleMembers(t, stuck)}
		}

		sort.Strings(batch)
		for _, name := range batch {
			delete(indegree, name)
			for _, dependent := range dependents[name] {
				if _, pending := indegree[dependent]; pending {
					indegree[dependent]--
				}
			}
		}

		batches = append(batches, batch)
		placed += len(batch)
	}

	return batches, nil
}

// cycleMembers narrows the stuck set down to the services actually on a
// cycle by repeatedly trimming services no stuck service depends on.
func cycleMembers(t *topology.Topology, stuck map[string]bool) []string {
	for {
		trimmed := false
		for name := range stuck {
			hasDependent := false
			for other := range stuck {
				for _, dep := range t.Services[other].DependsOn {
					if dep.Service == name {
						hasDependent = true
						break
					}
				}
				if hasDependent {
					break
				}
			}
			if !hasDependent {
				delete(stuck, name)
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}

	members := make([]string, 0, len(stuck))
	for name := range stuck {
		members = append(members, name)
	}
	sort.Strings(members)
	return members
}

// Reverse returns the batches in shutdown order: dependents stop before
// the services they depend on.
func Reverse(batches [][]string) [][]string {
	reversed := make([][]string, len(batches))
	for i, batch := range batches {
		reversed[len(batches)-1-i] = batch
	}
	return reversed
}
