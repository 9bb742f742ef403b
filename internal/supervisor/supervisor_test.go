package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-run/flotilla/internal/config"
	"github.com/flotilla-run/flotilla/internal/testutils"
	"github.com/flotilla-run/flotilla/internal/topology"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Project = "streaming"
	cfg.StartTimeout = 5 * time.Second
	return cfg
}

// clusterTopo builds the three-stage chain used throughout: a coordinator,
// a broker depending on it, and a registry depending on the broker.
func clusterTopo() *topology.Topology {
	return &topology.Topology{
		Name: "streaming",
		Services: map[string]*topology.ServiceSpec{
			"zookeeper-1": {
				Name:  "zookeeper-1",
				Image: "zookeeper:3.8",
			},
			"kafka-1": {
				Name:  "kafka-1",
				Image: "confluentinc/cp-kafka:7.4.0",
				DependsOn: []topology.Dependency{
					{Service: "zookeeper-1", Condition: topology.ConditionStarted},
				},
			},
			"schema-registry": {
				Name:  "schema-registry",
				Image: "confluentinc/cp-schema-registry:7.4.0",
				DependsOn: []topology.Dependency{
					{Service: "kafka-1", Condition: topology.ConditionStarted},
				},
			},
		},
		Volumes: map[string]*topology.VolumeSpec{},
	}
}

func TestUpStartsInDependencyOrder(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))

	started, _ := rt.Snapshot()
	assert.Equal(t, []string{
		"streaming-zookeeper-1",
		"streaming-kafka-1",
		"streaming-schema-registry",
	}, started)

	for _, status := range sup.Statuses() {
		assert.Equal(t, StateHealthy, status.State, status.Service)
		assert.NotEmpty(t, status.ContainerID)
	}
}

func TestUpCreatesProjectNetwork(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))

	exists, err := rt.NetworkExists(ctx, "streaming_default")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpFailureBlocksDependentsNotSiblings(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := clusterTopo()
	topo.Services["cache"] = &topology.ServiceSpec{Name: "cache", Image: "redis:7"}

	rt := testutils.NewFakeRuntime()
	rt.StartErrs["kafka-1"] = errors.New("broker refused to start")

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	err := sup.Up(ctx)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, []string{"kafka-1", "schema-registry"}, runErr.Services)

	kafka, _ := sup.Status("kafka-1")
	assert.Equal(t, StateFailed, kafka.State)
	var startErr *StartError
	require.ErrorAs(t, kafka.Err, &startErr)

	registry, _ := sup.Status("schema-registry")
	assert.Equal(t, StateFailed, registry.State)
	var depErr *DependencyError
	require.ErrorAs(t, registry.Err, &depErr)
	assert.Equal(t, "kafka-1", depErr.Dependency)

	zk, _ := sup.Status("zookeeper-1")
	assert.Equal(t, StateHealthy, zk.State)
	cache, _ := sup.Status("cache")
	assert.Equal(t, StateHealthy, cache.State)
}

func TestUpWaitsForFirstPassingProbe(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := clusterTopo()
	topo.Services["zookeeper-1"].Healthcheck = &topology.HealthcheckSpec{
		Test:     []string{"/bin/sh", "-c", "echo ruok | nc localhost 2181"},
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  10,
	}

	var attempts atomic.Int32
	rt := testutils.NewFakeRuntime()
	rt.ProbeFunc = func(containerID string, cmd []string) (int, string, error) {
		if attempts.Add(1) < 3 {
			return 1, "imok not yet", nil
		}
		return 0, "imok", nil
	}

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))

	zk, _ := sup.Status("zookeeper-1")
	assert.Equal(t, StateHealthy, zk.State)
}

func TestUpFailsWhenProbeNeverPasses(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := &topology.Topology{
		Name: "streaming",
		Services: map[string]*topology.ServiceSpec{
			"zookeeper-1": {
				Name:  "zookeeper-1",
				Image: "zookeeper:3.8",
				Healthcheck: &topology.HealthcheckSpec{
					Test:     []string{"/bin/sh", "-c", "false"},
					Interval: 10 * time.Millisecond,
					Timeout:  time.Second,
					Retries:  2,
				},
			},
		},
	}

	rt := testutils.NewFakeRuntime()
	rt.ProbeFunc = func(containerID string, cmd []string) (int, string, error) {
		return 1, "", nil
	}

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	err := sup.Up(ctx)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	zk, _ := sup.Status("zookeeper-1")
	assert.Equal(t, StateFailed, zk.State)
	var hcErr *HealthCheckTimeout
	require.ErrorAs(t, zk.Err, &hcErr)
	assert.Equal(t, 2, hcErr.Retries)
}

func TestProberFlipsServiceUnhealthy(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := &topology.Topology{
		Name: "streaming",
		Services: map[string]*topology.ServiceSpec{
			"zookeeper-1": {
				Name:  "zookeeper-1",
				Image: "zookeeper:3.8",
				Healthcheck: &topology.HealthcheckSpec{
					Test:     []string{"/bin/sh", "-c", "check"},
					Interval: 10 * time.Millisecond,
					Timeout:  time.Second,
					Retries:  2,
				},
			},
		},
	}

	// Pass during startup, then fail every periodic probe.
	var failing atomic.Bool
	rt := testutils.NewFakeRuntime()
	rt.ProbeFunc = func(containerID string, cmd []string) (int, string, error) {
		if failing.Load() {
			return 1, "connection refused", nil
		}
		return 0, "", nil
	}

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	failing.Store(true)

	testutils.AssertEventuallyTrue(t, func() bool {
		status, _ := sup.Status("zookeeper-1")
		return status.State == StateUnhealthy
	}, 3*time.Second, "service should go unhealthy after consecutive probe failures")

	status, _ := sup.Status("zookeeper-1")
	require.Error(t, status.Err)
	assert.Contains(t, status.Err.Error(), "connection refused")

	assert.Equal(t, 1, status.Unhealthy)

	// And recover once the probe passes again.
	failing.Store(false)
	testutils.AssertEventuallyTrue(t, func() bool {
		status, _ := sup.Status("zookeeper-1")
		return status.State == StateHealthy
	}, 3*time.Second, "service should recover on the next passing probe")

	status, _ = sup.Status("zookeeper-1")
	assert.Equal(t, 1, status.Unhealthy, "recovery keeps the lifetime count")
}

func TestStartPeriodToleratesEarlyFailures(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := &topology.Topology{
		Name: "streaming",
		Services: map[string]*topology.ServiceSpec{
			"kafka-1": {
				Name:  "kafka-1",
				Image: "confluentinc/cp-kafka:7.4.0",
				Healthcheck: &topology.HealthcheckSpec{
					Test:        []string{"/bin/sh", "-c", "kafka-topics --list"},
					Interval:    10 * time.Millisecond,
					Timeout:     time.Second,
					Retries:     2,
					StartPeriod: 30 * time.Second,
				},
			},
		},
	}

	// Fails well past the retry budget, but inside the start period.
	var attempts atomic.Int32
	rt := testutils.NewFakeRuntime()
	rt.ProbeFunc = func(containerID string, cmd []string) (int, string, error) {
		if attempts.Add(1) <= 5 {
			return 1, "broker still loading", nil
		}
		return 0, "", nil
	}

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	assert.Greater(t, attempts.Load(), int32(topo.Services["kafka-1"].Healthcheck.Retries))

	kafka, _ := sup.Status("kafka-1")
	assert.Equal(t, StateHealthy, kafka.State)
}

func TestUpPullsMissingImages(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	rt.MarkImageAbsent("confluentinc/cp-kafka:7.4.0")

	sup := New(rt, testConfig(), clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	assert.Equal(t, []string{"confluentinc/cp-kafka:7.4.0"}, rt.Pulled)
}

func TestUpReplacesStaleContainers(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	cfg := testConfig()

	first := New(rt, cfg, clusterTopo())
	require.NoError(t, first.Up(ctx))
	first.Close()

	second := New(rt, cfg, clusterTopo())
	defer second.Close()
	require.NoError(t, second.Up(ctx))

	listed, err := rt.ListContainers(ctx, cfg.ProjectLabels())
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestDownStopsInReverseOrder(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	cfg := testConfig()
	sup := New(rt, cfg, clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	require.NoError(t, sup.Down(ctx, DownOptions{}))

	_, stopped := rt.Snapshot()
	assert.Equal(t, []string{
		"streaming-schema-registry",
		"streaming-kafka-1",
		"streaming-zookeeper-1",
	}, stopped)

	listed, err := rt.ListContainers(ctx, cfg.ProjectLabels())
	require.NoError(t, err)
	assert.Empty(t, listed)

	exists, err := rt.NetworkExists(ctx, cfg.NetworkName())
	require.NoError(t, err)
	assert.False(t, exists)

	for _, status := range sup.Statuses() {
		assert.Equal(t, StateStopped, status.State, status.Service)
	}
}

func TestDownEscalatesToKillAfterGrace(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	rt.IgnoreSigterm = []string{"kafka-1"}
	cfg := testConfig()
	sup := New(rt, cfg, clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	require.NoError(t, sup.Down(ctx, DownOptions{GraceOverride: 300 * time.Millisecond}))

	listed, err := rt.ListContainers(ctx, cfg.ProjectLabels())
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDownUsesConfiguredDefaultGrace(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	rt.IgnoreSigterm = []string{"kafka-1"}
	cfg := testConfig()
	cfg.DefaultGracePeriod = 300 * time.Millisecond

	sup := New(rt, cfg, clusterTopo())
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))

	start := time.Now()
	require.NoError(t, sup.Down(ctx, DownOptions{}))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	listed, err := rt.ListContainers(ctx, cfg.ProjectLabels())
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestGracePeriodResolution(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultGracePeriod = 10 * time.Second

	sup := New(testutils.NewFakeRuntime(), cfg, clusterTopo())
	defer sup.Close()

	declared := 3 * time.Minute
	withGrace := &topology.ServiceSpec{Name: "kafka-1", StopGracePeriod: &declared}
	withoutGrace := &topology.ServiceSpec{Name: "zookeeper-1"}

	assert.Equal(t, 10*time.Second, sup.gracePeriod(withoutGrace, DownOptions{}))
	assert.Equal(t, declared, sup.gracePeriod(withGrace, DownOptions{}))
	assert.Equal(t, time.Second, sup.gracePeriod(withGrace, DownOptions{GraceOverride: time.Second}))
}

func TestDownLeavesVolumesAlone(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := clusterTopo()
	topo.Volumes["kafka-data"] = &topology.VolumeSpec{Name: "kafka-data"}
	topo.Services["kafka-1"].Mounts = []topology.Mount{
		{Source: "kafka-data", Target: "/var/lib/kafka/data", Named: true},
	}

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	require.NoError(t, sup.Up(ctx))
	require.NoError(t, sup.Down(ctx, DownOptions{}))

	assert.Equal(t, 1, rt.VolumeCount())
}

func TestPSReportsEveryService(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), clusterTopo())
	defer sup.Close()

	views, err := sup.PS(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)
	for _, view := range views {
		assert.Equal(t, "not created", view.Status)
	}

	require.NoError(t, sup.Up(ctx))

	views, err = sup.PS(ctx)
	require.NoError(t, err)
	for _, view := range views {
		assert.True(t, view.Running, view.Service)
		assert.NotEmpty(t, view.ContainerID)
	}
}

func TestLogsUnknownService(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	sup := New(testutils.NewFakeRuntime(), testConfig(), clusterTopo())
	defer sup.Close()

	_, err := sup.Logs(ctx, "nope", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown service "nope"`)
}

func TestUpHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), clusterTopo())
	defer sup.Close()

	err := sup.Up(ctx)
	require.Error(t, err)
}

func TestCancellationDuringStartupLeavesServiceStopped(t *testing.T) {
	topo := &topology.Topology{
		Name: "streaming",
		Services: map[string]*topology.ServiceSpec{
			"zookeeper-1": {
				Name:  "zookeeper-1",
				Image: "zookeeper:3.8",
				Healthcheck: &topology.HealthcheckSpec{
					Test:     []string{"/bin/sh", "-c", "echo ruok | nc localhost 2181"},
					Interval: 10 * time.Millisecond,
					Timeout:  time.Second,
					Retries:  1000,
				},
			},
		},
	}

	rt := testutils.NewFakeRuntime()
	rt.ProbeFunc = func(containerID string, cmd []string) (int, string, error) {
		return 1, "no response", nil
	}

	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	err := sup.Up(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// An interrupted launch is a shutdown, not a failure.
	zk, _ := sup.Status("zookeeper-1")
	assert.Equal(t, StateStopped, zk.State)
}

func TestUpCyclicTopologyFailsFast(t *testing.T) {
	ctx, cancel := testutils.TestContext(t)
	defer cancel()

	topo := &topology.Topology{
		Name: "loop",
		Services: map[string]*topology.ServiceSpec{
			"a": {Name: "a", Image: "img", DependsOn: []topology.Dependency{{Service: "b", Condition: topology.ConditionStarted}}},
			"b": {Name: "b", Image: "img", DependsOn: []topology.Dependency{{Service: "a", Condition: topology.ConditionStarted}}},
		},
	}

	rt := testutils.NewFakeRuntime()
	sup := New(rt, testConfig(), topo)
	defer sup.Close()

	err := sup.Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")

	started, _ := rt.Snapshot()
	assert.Empty(t, started)
}

func TestContainerConfigResolvesIdentity(t *testing.T) {
	topo := clusterTopo()
	topo.Services["kafka-1"].Labels = map[string]string{"team": "data"}

	sup := New(testutils.NewFakeRuntime(), testConfig(), topo)
	defer sup.Close()

	cc := sup.containerConfig(topo.Services["kafka-1"])
	assert.Equal(t, "streaming-kafka-1", cc.Name)
	assert.Equal(t, "kafka-1", cc.Hostname)
	assert.Equal(t, "streaming_default", cc.Network)
	assert.Equal(t, []string{"kafka-1"}, cc.Aliases)
	assert.Equal(t, "streaming", cc.Labels["run.flotilla.project"])
	assert.Equal(t, "kafka-1", cc.Labels["run.flotilla.service"])
	assert.Equal(t, "data", cc.Labels["team"])
}

func TestRunErrorMessage(t *testing.T) {
	err := &RunError{Services: []string{"kafka-1", "schema-registry"}}
	assert.Equal(t, "2 service(s) failed: kafka-1, schema-registry", err.Error())
}

func TestShutdownTimeoutMessage(t *testing.T) {
	err := &ShutdownTimeout{Service: "kafka-1", Grace: 3 * time.Minute}
	assert.Contains(t, err.Error(), "kafka-1")
	assert.Contains(t, err.Error(), fmt.Sprint(3*time.Minute))
}
