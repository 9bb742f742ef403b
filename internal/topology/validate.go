package topology

import "fmt"

// validate checks the cross-references inside a topology: every depends_on
// edge must resolve to a defined service, every named volume reference must
// be declared in the top-level volume registry, and service_healthy edges
// only make sense against services that actually declare a health check.
// Cycle detection lives in the sequencer; this never starts anything.
func validate(t *Topology) []string {
	var problems []string

	for _, name := range t.ServiceNames() {
		svc := t.Services[name]

		for _, dep := range svc.DependsOn {
			target, ok := t.Services[dep.Service]
			if !ok {
				problems = append(problems, fmt.Sprintf("service %q: depends_on references undefined service %q", name, dep.Service))
				continue
			}
			if dep.Service == name {
				problems = append(problems, fmt.Sprintf("service %q: depends_on itself", name))
			}
			if dep.Condition == ConditionHealthy && target.Healthcheck == nil {
				problems = append(problems, fmt.Sprintf("service %q: depends_on %q with condition service_healthy, but %q has no healthcheck", name, dep.Service, dep.Service))
			}
		}

		for _, mount := range svc.Mounts {
			if !mount.Named {
				continue
			}
			if _, ok := t.Volumes[mount.Source]; !ok {
				problems = append(problems, fmt.Sprintf("service %q: references undeclared volume %q", name, mount.Source))
			}
		}
	}

	return problems
}
