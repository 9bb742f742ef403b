// Package runtime implements the container runtime contract on the Docker API.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/flotilla-run/flotilla/pkg/runtime"
)

// DockerRuntime implements the runtime.Runtime interface using the Docker API.
type DockerRuntime struct {
	client *client.Client
}

var _ runtime.Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a new Docker runtime instance. The client honours
// DOCKER_HOST and friends from the environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerRuntime{client: cli}, nil
}

// NewDockerRuntimeWithClient creates a runtime around an existing client (for testing).
func NewDockerRuntimeWithClient(cli *client.Client) *DockerRuntime {
	return &DockerRuntime{client: cli}
}

// CreateContainer creates a new container and returns its ID.
func (d *DockerRuntime) CreateContainer(ctx context.Context, config *runtime.ContainerConfig) (string, error) {
	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)

	for _, mapping := range config.Ports {
		containerPort := nat.Port(mapping.ContainerPort + "/" + mapping.Protocol)
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: mapping.HostPort,
			},
		}
	}

	containerConfig := &container.Config{
		Image:        config.Image,
		Hostname:     config.Hostname,
		Env:          config.Env,
		Cmd:          config.Cmd,
		Labels:       config.Labels,
		ExposedPorts: exposedPorts,
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        config.Binds,
	}
	if config.RestartPolicy != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(config.RestartPolicy),
		}
	}

	var networkConfig *network.NetworkingConfig
	if config.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(config.Network)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				config.Network: {
					Aliases: config.Aliases,
				},
			},
		}
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, config.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", config.Name, err)
	}

	log.Debug("Container created", "id", resp.ID, "name", config.Name, "image", config.Image)
	return resp.ID, nil
}

// StartContainer starts a container.
func (d *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}

	log.Debug("Container started", "id", containerID)
	return nil
}

// SignalContainer sends a signal to a container.
func (d *DockerRuntime) SignalContainer(ctx context.Context, containerID, signal string) error {
	if err := d.client.ContainerKill(ctx, containerID, signal); err != nil {
		return fmt.Errorf("failed to signal container %s with %s: %w", containerID, signal, err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	log.Debug("Container removed", "id", containerID, "force", force)
	return nil
}

// InspectContainer inspects a container.
func (d *DockerRuntime) InspectContainer(ctx context.Context, containerID string) (*runtime.Container, error) {
	resp, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	c := &runtime.Container{
		ID:     resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Image:  resp.Config.Image,
		Labels: resp.Config.Labels,
	}
	if resp.State != nil {
		c.Status = resp.State.Status
		c.Running = resp.State.Running
		c.ExitCode = resp.State.ExitCode
		if started, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil {
			c.StartedAt = started
		}
	}

	return c, nil
}

// ListContainers lists containers carrying all the given labels, including
// stopped ones.
func (d *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]*runtime.Container, error) {
	filterArgs := filters.NewArgs()
	for key, value := range labels {
		filterArgs.Add("label", key+"="+value)
	}

	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]*runtime.Container, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, &runtime.Container{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			Status:  c.Status,
			Running: c.State == "running",
			Labels:  c.Labels,
		})
	}

	return result, nil
}

// ContainerLogs returns the logs of a container.
func (d *DockerRuntime) ContainerLogs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error) {
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for container %s: %w", containerID, err)
	}

	return logs, nil
}

// ExecProbe runs a command inside a container and returns its exit code and
// combined output. Used for health-check probes.
func (d *DockerRuntime) ExecProbe(ctx context.Context, containerID string, cmd []string) (int, string, error) {
	created, err := d.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to create probe exec in container %s: %w", containerID, err)
	}

	attached, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("failed to attach probe exec in container %s: %w", containerID, err)
	}
	defer attached.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, attached.Reader); err != nil {
		return 0, "", fmt.Errorf("failed to read probe output from container %s: %w", containerID, err)
	}

	inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to inspect probe exec in container %s: %w", containerID, err)
	}

	return inspect.ExitCode, buf.String(), nil
}

// ImageExists checks whether an image is present locally.
func (d *DockerRuntime) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	_, err := d.client.ImageInspect(ctx, imageRef)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect image %s: %w", imageRef, err)
	}
	return true, nil
}

// PullImage pulls an image.
func (d *DockerRuntime) PullImage(ctx context.Context, imageRef string) error {
	log.Info("Pulling image", "image", imageRef)

	reader, err := d.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer reader.Close()

	// The pull only completes once the response stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull response for image %s: %w", imageRef, err)
	}

	log.Info("Image pulled", "image", imageRef)
	return nil
}

// VolumeExists checks if a volume exists.
func (d *DockerRuntime) VolumeExists(ctx context.Context, volumeName string) (bool, error) {
	_, err := d.client.VolumeInspect(ctx, volumeName)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect volume %s: %w", volumeName, err)
	}
	return true, nil
}

// CreateVolume creates a new volume.
func (d *DockerRuntime) CreateVolume(ctx context.Context, volumeName string, labels map[string]string) error {
	_, err := d.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   volumeName,
		Labels: labels,
	})
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w", volumeName, err)
	}

	log.Debug("Volume created", "volume", volumeName)
	return nil
}

// RemoveVolume removes a volume. Removing a volume that is already gone is
// not an error.
func (d *DockerRuntime) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	if err := d.client.VolumeRemove(ctx, volumeName, force); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove volume %s: %w", volumeName, err)
	}

	log.Debug("Volume removed", "volume", volumeName)
	return nil
}

// NetworkExists checks if a network exists.
func (d *DockerRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := d.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect network %s: %w", name, err)
	}
	return true, nil
}

// CreateNetwork creates a new bridge network.
func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}

	log.Debug("Network created", "network", name)
	return nil
}

// RemoveNetwork removes a network.
func (d *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	if err := d.client.NetworkRemove(ctx, name); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}

	log.Debug("Network removed", "network", name)
	return nil
}

// Ping checks if the Docker daemon is responsive.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Version returns the Docker server version.
func (d *DockerRuntime) Version(ctx context.Context) (string, error) {
	version, err := d.client.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get Docker version: %w", err)
	}
	return version.Version, nil
}
