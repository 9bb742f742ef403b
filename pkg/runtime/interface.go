package runtime

import (
	"context"
	"io"
	"time"

	"github.com/flotilla-run/flotilla/pkg/ports"
)

// Container represents a container known to the runtime
type Container struct {
	ID        string
	Name      string
	Image     string
	Status    string
	Running   bool
	ExitCode  int
	StartedAt time.Time
	Labels    map[string]string
}

// ContainerConfig holds configuration for creating a container
type ContainerConfig struct {
	Name          string
	Image         string
	Hostname      string
	Cmd           []string
	Env           []string
	Labels        map[string]string
	Ports         []ports.Mapping
	Binds         []string // "source:/mount/path" bind specs
	Network       string   // Network to join
	Aliases       []string // Additional network aliases
	RestartPolicy string   // "no", "always", "on-failure", "unless-stopped"
}

// Runtime interface defines the contract for container runtime implementations
type Runtime interface {
	// Container lifecycle
	CreateContainer(ctx context.Context, config *ContainerConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	SignalContainer(ctx context.Context, containerID, signal string) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Container inspection
	InspectContainer(ctx context.Context, containerID string) (*Container, error)
	ListContainers(ctx context.Context, labels map[string]string) ([]*Container, error)
	ContainerLogs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error)

	// Health probing
	ExecProbe(ctx context.Context, containerID string, cmd []string) (int, string, error)

	// Image operations
	ImageExists(ctx context.Context, imageRef string) (bool, error)
	PullImage(ctx context.Context, imageRef string) error

	// Volume management
	VolumeExists(ctx context.Context, volumeName string) (bool, error)
	CreateVolume(ctx context.Context, volumeName string, labels map[string]string) error
	RemoveVolume(ctx context.Context, volumeName string, force bool) error

	// Network management
	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	RemoveNetwork(ctx context.Context, name string) error

	// Runtime information
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}
