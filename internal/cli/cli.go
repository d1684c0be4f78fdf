// ============================================================================
// Rpool CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra
//
// Command Structure:
//   poolctl                      # Root command
//   ├── run                      # Start a pool and hold it open until signaled
//   │   └── --config, -c         # Specify config file
//   ├── status                   # Print state and worker count of this process's pool
//   ├── resize --n N             # Resize this process's pool
//   ├── terminate                # Terminate this process's pool
//   └── --version                # Display version information
//
//   The singleton registry is process-local, so status, resize and terminate
//   act on the pool of the poolctl process running them (creating it if
//   absent), not on a pool held open by a separate "poolctl run".
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml). Config
//   items: pool (processes, maxtasksperchild, initializer) and metrics
//   (enabled, port).
//
// run Command:
//   Starts a pool via the singleton registry, starts the metrics HTTP
//   server if enabled, and blocks on SIGINT/SIGTERM for a graceful
//   terminate.
//
//   Examples:
//     ./poolctl run
//     ./poolctl run -c custom-config.yaml
//
// Signal Handling:
//   run captures SIGINT/SIGTERM and calls Terminate, which runs the
//   sentinel-based shutdown protocol before the process exits.
//
// Metrics Service:
//   If enabled in config, starts an HTTP server in a separate goroutine:
//   default port 9090, path /metrics, Prometheus text format.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomMoral/Rpool/internal/metrics"
	"github.com/tomMoral/Rpool/pkg/poolapi"
)

// Config is the complete poolctl configuration, loaded from YAML.
type Config struct {
	Pool struct {
		Processes        int    `yaml:"processes"`
		MaxTasksPerChild int    `yaml:"max_tasks_per_child"`
		Initializer      string `yaml:"initializer"`
	} `yaml:"pool"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

// BuildCLI assembles the poolctl command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poolctl",
		Short: "poolctl: run and operate a reusable process pool",
		Long: `poolctl manages a fault-tolerant, reusable process-based worker pool:
- crash-detection and cleanup for dead workers
- safe resize and reuse via a process-wide singleton
- sentinel-based shutdown`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildResizeCommand())
	rootCmd.AddCommand(buildTerminateCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a pool and hold it open until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool()
		},
	}
}

func runPool() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("starting pool: processes=%d maxtasksperchild=%d\n", cfg.Pool.Processes, cfg.Pool.MaxTasksPerChild)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		port := cfg.Metrics.Port
		if port == 0 {
			port = 9090
		}
		go func() {
			if err := metrics.StartServer(port); err != nil {
				log.Printf("metrics server stopped: %v\n", err)
			}
		}()
	}

	opts := poolapi.Options{
		Processes:        cfg.Pool.Processes,
		Initializer:      cfg.Pool.Initializer,
		MaxTasksPerChild: cfg.Pool.MaxTasksPerChild,
	}
	if collector != nil {
		opts.Metrics = collector
	}

	ctx := context.Background()
	p, err := poolapi.GetPool(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("stopping pool...")
	p.Terminate()
	p.Join()
	log.Println("pool stopped")
	return nil
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running pool's state and worker count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			p, err := poolapi.GetPool(context.Background(), poolapi.Options{Processes: cfg.Pool.Processes})
			if err != nil {
				return fmt.Errorf("failed to reach pool: %w", err)
			}
			fmt.Printf("state=%s workers=%d\n", p.State(), p.WorkerCount())
			return nil
		},
	}
}

func buildResizeCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "resize",
		Short: "Resize the running pool's worker count",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := poolapi.GetPool(context.Background(), poolapi.Options{})
			if err != nil {
				return fmt.Errorf("failed to reach pool: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return p.Resize(ctx, n)
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "desired worker count (0 = logical CPU count)")
	return cmd
}

func buildTerminateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate",
		Short: "Terminate the running pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := poolapi.GetPool(context.Background(), poolapi.Options{})
			if err != nil {
				return fmt.Errorf("failed to reach pool: %w", err)
			}
			p.Terminate()
			p.Join()
			return nil
		},
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
