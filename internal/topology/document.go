package topology

import (
	"fmt"
	"sort"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

// document is the raw YAML shape of a topology file. The flexible fields
// (environment, command, depends_on, healthcheck test) accept both the
// scalar/list and map forms the declarative format allows.
type document struct {
	Name     string                `yaml:"name"`
	Services map[string]rawService `yaml:"services"`
	Volumes  map[string]rawVolume  `yaml:"volumes"`
}

type rawVolume struct{}

type rawService struct {
	Image           string            `yaml:"image"`
	ContainerName   string            `yaml:"container_name"`
	Hostname        string            `yaml:"hostname"`
	Command         commandList       `yaml:"command"`
	Environment     envVars           `yaml:"environment"`
	Ports           []string          `yaml:"ports"`
	Volumes         []string          `yaml:"volumes"`
	DependsOn       dependsOn         `yaml:"depends_on"`
	Healthcheck     *rawHealthcheck   `yaml:"healthcheck"`
	StopGracePeriod string            `yaml:"stop_grace_period"`
	Restart         string            `yaml:"restart"`
	Labels          map[string]string `yaml:"labels"`
}

type rawHealthcheck struct {
	Test        testSpec `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
	Disable     bool     `yaml:"disable"`
}

// testSpec is a healthcheck test in either exec form (["CMD", ...]) or
// shell form (a plain string).
type testSpec struct {
	parts []string
	shell bool
}

func (t *testSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		t.parts = []string{s}
		t.shell = true
		return nil
	case yaml.SequenceNode:
		t.shell = false
		return value.Decode(&t.parts)
	default:
		return fmt.Errorf("line %d: healthcheck test must be a string or a list", value.Line)
	}
}

// commandList is a container command in either exec form (a list) or shell
// form (a string, split shell-style).
type commandList []string

func (c *commandList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		parts, err := shellquote.Split(s)
		if err != nil {
			return fmt.Errorf("line %d: invalid command %q: %w", value.Line, s, err)
		}
		*c = parts
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := value.Decode(&parts); err != nil {
			return err
		}
		*c = parts
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", value.Line)
	}
}

// envVars accepts environment as either a KEY: VAL map or a list of
// KEY=VAL strings. The map form is flattened in sorted key order so the
// resulting spec is deterministic.
type envVars []string

func (e *envVars) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*e = list
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vars := make([]string, 0, len(m))
		for _, k := range keys {
			vars = append(vars, k+"="+m[k])
		}
		*e = vars
		return nil
	default:
		return fmt.Errorf("line %d: environment must be a map or a list", value.Line)
	}
}

// dependsOn accepts depends_on as either a list of service names (implying
// service_started) or a map of name to {condition: ...}.
type dependsOn []Dependency

func (d *dependsOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		deps := make([]Dependency, 0, len(names))
		for _, name := range names {
			deps = append(deps, Dependency{Service: name, Condition: ConditionStarted})
		}
		*d = deps
		return nil
	case yaml.MappingNode:
		var m map[string]struct {
			Condition string `yaml:"condition"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		deps := make([]Dependency, 0, len(m))
		for _, name := range names {
			cond := Condition(m[name].Condition)
			if cond == "" {
				cond = ConditionStarted
			}
			deps = append(deps, Dependency{Service: name, Condition: cond})
		}
		*d = deps
		return nil
	default:
		return fmt.Errorf("line %d: depends_on must be a list or a map", value.Line)
	}
}
