package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flotilla-run/flotilla/pkg/duration"
	"github.com/flotilla-run/flotilla/pkg/ports"
)

// Probe defaults applied when a healthcheck omits them.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 30 * time.Second
	DefaultProbeRetries  = 3
)

// Load reads a topology file, interpolates ${VAR} references from the
// process environment and a sibling .env file, and returns the validated
// Topology. No side effects beyond reading the two files.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Source: path, Err: err}
	}

	dotenv := map[string]string{}
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if dotenv, err = godotenv.Read(envPath); err != nil {
			return nil, &ParseError{Source: envPath, Err: err}
		}
	}

	data = Interpolate(data, EnvLookup(dotenv))
	return Parse(data, path)
}

// Parse decodes an already-interpolated topology document. The source name
// is only used in error messages.
func Parse(data []byte, source string) (*Topology, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	if len(doc.Services) == 0 {
		return nil, &ParseError{Source: source, Err: fmt.Errorf("no services defined")}
	}

	name := doc.Name
	if name == "" {
		name = projectNameFromSource(source)
	}

	topo := &Topology{
		Name:     name,
		Services: make(map[string]*ServiceSpec, len(doc.Services)),
		Volumes:  make(map[string]*VolumeSpec, len(doc.Volumes)),
	}

	for volName := range doc.Volumes {
		topo.Volumes[volName] = &VolumeSpec{Name: volName}
	}

	var problems []string
	for _, svcName := range sortedKeys(doc.Services) {
		spec, svcProblems := buildServiceSpec(svcName, doc.Services[svcName])
		problems = append(problems, svcProblems...)
		topo.Services[svcName] = spec
	}

	problems = append(problems, validate(topo)...)
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Source: source, Problems: problems}
	}

	return topo, nil
}

// buildServiceSpec converts one raw service declaration into an immutable
// spec, collecting problems instead of failing fast.
func buildServiceSpec(name string, raw rawService) (*ServiceSpec, []string) {
	var problems []string

	spec := &ServiceSpec{
		Name:          name,
		Image:         raw.Image,
		ContainerName: raw.ContainerName,
		Hostname:      raw.Hostname,
		Command:       raw.Command,
		Environment:   raw.Environment,
		Restart:       raw.Restart,
		Labels:        raw.Labels,
	}

	if raw.Image == "" {
		problems = append(problems, fmt.Sprintf("service %q: image is required", name))
	}

	mappings, err := ports.ParseSpecs(raw.Ports)
	if err != nil {
		problems = append(problems, fmt.Sprintf("service %q: %v", name, err))
	}
	spec.Ports = mappings

	for _, volSpec := range raw.Volumes {
		mount, err := parseMount(volSpec)
		if err != nil {
			problems = append(problems, fmt.Sprintf("service %q: %v", name, err))
			continue
		}
		spec.Mounts = append(spec.Mounts, mount)
	}

	spec.DependsOn = raw.DependsOn
	for _, dep := range spec.DependsOn {
		if dep.Condition != ConditionStarted && dep.Condition != ConditionHealthy {
			problems = append(problems, fmt.Sprintf("service %q: unknown depends_on condition %q for %q", name, dep.Condition, dep.Service))
		}
	}

	if raw.StopGracePeriod != "" {
		grace, err := duration.Parse(raw.StopGracePeriod)
		if err != nil {
			problems = append(problems, fmt.Sprintf("service %q: stop_grace_period: %v", name, err))
		} else {
			spec.StopGracePeriod = &grace
		}
	}

	hc, hcProblems := buildHealthcheck(name, raw.Healthcheck)
	problems = append(problems, hcProblems...)
	spec.Healthcheck = hc

	return spec, problems
}

func buildHealthcheck(svcName string, raw *rawHealthcheck) (*HealthcheckSpec, []string) {
	if raw == nil || raw.Disable {
		return nil, nil
	}
	if len(raw.Test.parts) == 0 {
		return nil, []string{fmt.Sprintf("service %q: healthcheck requires a test", svcName)}
	}

	var test []string
	if raw.Test.shell {
		test = []string{"/bin/sh", "-c", raw.Test.parts[0]}
	} else {
		switch raw.Test.parts[0] {
		case "NONE":
			return nil, nil
		case "CMD":
			test = raw.Test.parts[1:]
		case "CMD-SHELL":
			if len(raw.Test.parts) != 2 {
				return nil, []string{fmt.Sprintf("service %q: CMD-SHELL healthcheck takes exactly one command string", svcName)}
			}
			test = []string{"/bin/sh", "-c", raw.Test.parts[1]}
		default:
			return nil, []string{fmt.Sprintf("service %q: healthcheck test must start with CMD, CMD-SHELL or NONE", svcName)}
		}
	}
	if len(test) == 0 {
		return nil, []string{fmt.Sprintf("service %q: healthcheck requires a test command", svcName)}
	}

	hc := &HealthcheckSpec{
		Test:        test,
		Interval:    DefaultProbeInterval,
		Timeout:     DefaultProbeTimeout,
		Retries:     DefaultProbeRetries,
		StartPeriod: 0,
	}

	var problems []string
	parseDur := func(field, val string, dst *time.Duration) {
		if val == "" {
			return
		}
		d, err := duration.Parse(val)
		if err != nil {
			problems = append(problems, fmt.Sprintf("service %q: healthcheck %s: %v", svcName, field, err))
			return
		}
		*dst = d
	}
	parseDur("interval", raw.Interval, &hc.Interval)
	parseDur("timeout", raw.Timeout, &hc.Timeout)
	parseDur("start_period", raw.StartPeriod, &hc.StartPeriod)
	if raw.Retries > 0 {
		hc.Retries = raw.Retries
	}

	return hc, problems
}

// parseMount splits a "source:/target" volume spec. Sources that look like
// paths become bind mounts; everything else must be a declared named volume.
func parseMount(spec string) (Mount, error) {
	idx := indexMountSeparator(spec)
	if idx <= 0 || idx >= len(spec)-1 {
		return Mount{}, fmt.Errorf("invalid volume specification: %s. Format should be source:/mount/path", spec)
	}
	source, target := spec[:idx], spec[idx+1:]

	if target[0] != '/' {
		return Mount{}, fmt.Errorf("invalid volume specification: %s. Mount path must be absolute", spec)
	}

	named := true
	switch source[0] {
	case '/', '.', '~':
		named = false
	}

	return Mount{Source: source, Target: target, Named: named}, nil
}

// indexMountSeparator finds the colon separating source from target,
// skipping a Windows-style drive letter in bind sources.
func indexMountSeparator(spec string) int {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			if i == 1 && len(spec) > 2 && isDriveLetter(spec[0]) && (spec[2] == '\\' || spec[2] == '/') {
				continue
			}
			return i
		}
	}
	return -1
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func projectNameFromSource(source string) string {
	dir := filepath.Dir(source)
	base := filepath.Base(dir)
	if base == "." || base == string(filepath.Separator) {
		if wd, err := os.Getwd(); err == nil {
			base = filepath.Base(wd)
		}
	}
	return base
}

func sortedKeys(m map[string]rawService) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
