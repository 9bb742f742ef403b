// Package cmd wires the flotilla CLI: up, down, ps, logs, validate and
// version, all operating on one topology file.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload"

	"github.com/flotilla-run/flotilla/internal/config"
	"github.com/flotilla-run/flotilla/internal/runtime"
	"github.com/flotilla-run/flotilla/internal/sequencer"
	"github.com/flotilla-run/flotilla/internal/supervisor"
	"github.com/flotilla-run/flotilla/internal/topology"
	"github.com/flotilla-run/flotilla/pkg/logger"
)

// Exit codes: 0 on success, 1 for topology problems found before anything
// was started, 2 for runtime failures.
const (
	exitOK       = 0
	exitTopology = 1
	exitRuntime  = 2
)

var (
	flagFile     string
	flagProject  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "flotilla",
	Short: "Flotilla - dependency-ordered container stack supervisor",
	Long: `Flotilla brings up a fleet of containers described in a declarative
topology file, starting them in dependency order, gating on health
checks, and tearing them down in reverse.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger()
		log.ConfigureFromEnv()
		if flagLogLevel != "" {
			log.SetLogLevel(flagLogLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagFile, "file", "f", "", "topology file (default \"flotilla.yaml\")")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project name (default: topology name)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// Execute runs the CLI and returns the process exit code.
func Execute(version, commit, date string) int {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		return exitCode(err)
	}
	return exitOK
}

// exitCode classifies an error: problems detected before any container was
// touched exit 1, everything else is a runtime failure and exits 2.
func exitCode(err error) int {
	var parseErr *topology.ParseError
	var valErr *topology.ValidationError
	var cycleErr *sequencer.CycleError
	if errors.As(err, &parseErr) || errors.As(err, &valErr) || errors.As(err, &cycleErr) {
		return exitTopology
	}
	return exitRuntime
}

// loadStack resolves the effective config and loads the topology it points
// at. Flags override FLOTILLA_* environment variables which override
// defaults; the project name falls back to the topology name.
func loadStack() (*config.Config, *topology.Topology, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flagFile != "" {
		cfg.File = flagFile
	}
	if flagProject != "" {
		cfg.Project = flagProject
	}

	// The default file name also accepts the .yml spelling.
	if cfg.File == "flotilla.yaml" {
		if _, err := os.Stat(cfg.File); os.IsNotExist(err) {
			if _, err := os.Stat("flotilla.yml"); err == nil {
				cfg.File = "flotilla.yml"
			}
		}
	}

	topo, err := topology.Load(cfg.File)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Project == "" {
		cfg.Project = topo.Name
	}
	cfg.Project = config.NormalizeProject(cfg.Project)

	return cfg, topo, nil
}

// newSupervisor connects to the container runtime and builds a supervisor
// for the loaded stack. It pings the daemon first so commands fail fast
// with a clear message instead of erroring on the first container call.
func newSupervisor(cfg *config.Config, topo *topology.Topology) (*supervisor.Supervisor, error) {
	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		return nil, err
	}
	if err := checkRuntime(rt); err != nil {
		return nil, err
	}
	return supervisor.New(rt, cfg, topo), nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func checkRuntime(p pinger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("container runtime is not reachable: %w", err)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
