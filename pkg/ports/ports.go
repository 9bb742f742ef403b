// Package ports parses "host:container[/protocol]" port specifications.
package ports

import (
	"fmt"
	"strconv"
	"strings"
)

// Mapping describes a single published port.
type Mapping struct {
	HostPort      string
	ContainerPort string
	Protocol      string
}

// String renders the mapping back in "host:container/protocol" form.
func (m Mapping) String() string {
	return fmt.Sprintf("%s:%s/%s", m.HostPort, m.ContainerPort, m.Protocol)
}

// ParseSpecs receives a slice of strings in the format "hostPort:containerPort[/Protocol]"
// and returns a slice of Mapping structs. The default protocol is tcp.
func ParseSpecs(specs []string) ([]Mapping, error) {
	mappings := make([]Mapping, 0, len(specs))

	for _, spec := range specs {
		m, err := ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	return mappings, nil
}

// ParseSpec parses a single port specification.
func ParseSpec(spec string) (Mapping, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return Mapping{}, fmt.Errorf("invalid port specification: %s. Format should be hostPort:containerPort[/Protocol]", spec)
	}

	hostPort := parts[0]
	if _, err := strconv.Atoi(hostPort); err != nil {
		return Mapping{}, fmt.Errorf("invalid host port: %s. Must be a number", hostPort)
	}

	containerParts := strings.Split(parts[1], "/")
	containerPort := containerParts[0]
	if _, err := strconv.Atoi(containerPort); err != nil {
		return Mapping{}, fmt.Errorf("invalid exposed port: %s. Must be a number", containerPort)
	}

	protocol := "tcp"
	if len(containerParts) > 1 {
		protocol = containerParts[1]
	}

	return Mapping{
		HostPort:      hostPort,
		ContainerPort: containerPort,
		Protocol:      protocol,
	}, nil
}
