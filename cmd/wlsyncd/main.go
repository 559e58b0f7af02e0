// Command wlsyncd is the sync daemon: it runs one state machine per
// replication job between a source and target storage, driven entirely
// through its Unix control socket, grounded on the same cobra/zap/
// lipgloss idioms as cmd/wlfs (themselves grounded on the teacher's
// cmd/collective/main.go and status_styled.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wildland-go/wildland/pkg/config"
	"github.com/wildland-go/wildland/pkg/controlrpc"
	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/syncdaemon"
	"github.com/wildland-go/wildland/pkg/workerpool"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wlsyncd",
		Short: "Wildland sync daemon",
		Long:  "wlsyncd replicates containers between storages, one job state machine per container, driven over a Unix control socket.",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(runCmd(), statusCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, herr
		}
		return config.Defaults(filepath.Join(home, ".config", "wildland"), filepath.Join(home, ".local", "share", "wildland")), nil
	}
	return config.Load(path)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the sync daemon and serve its control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			workers := cfg.SyncWorkers
			if workers <= 0 {
				workers = 8
			}
			pool := workerpool.New(workers, workers*4)

			manager := syncdaemon.NewManager(storagebackend.DefaultRegistry, pool, logger)

			rpcServer := controlrpc.NewServer(logger)
			syncdaemon.RegisterHandlers(rpcServer, manager)

			ctx, cancel := context.WithCancel(context.Background())
			serveErrCh := make(chan error, 1)
			go func() {
				serveErrCh <- rpcServer.Serve(ctx, cfg.SyncSocketPath)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			logger.Info("wlsyncd ready",
				zap.Int("workers", workers),
				zap.String("control-socket", cfg.SyncSocketPath))

			select {
			case <-sigCh:
				logger.Info("shutting down wlsyncd")
			case err := <-serveErrCh:
				if err != nil {
					logger.Error("control socket stopped", zap.Error(err))
				}
			}

			cancel()
			rpcServer.Close()
			manager.Shutdown()
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wlsyncd 0.1.0")
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := cfg.Build()
	return logger
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF79C6"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
)

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "report the job table of a running wlsyncd",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			client, err := controlrpc.Dial(cfg.SyncSocketPath)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", cfg.SyncSocketPath, err)
			}
			defer client.Close()

			var jobs []syncdaemon.JobStatus
			if err := client.Call("status", nil, &jobs); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			if asJSON {
				out, err := json.MarshalIndent(jobs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			printJobTable(jobs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printJobTable(jobs []syncdaemon.JobStatus) {
	fmt.Println(titleStyle.Render("WLSYNCD JOB TABLE"))

	if len(jobs) == 0 {
		fmt.Println(warningStyle.Render("no sync jobs running"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Headers("JOB ID", "CONTAINER", "STATE", "DIRECTION", "ERROR")

	for _, j := range jobs {
		t.Row(j.JobID, j.ContainerName, stateStyle(j.State).Render(string(j.State)), direction(j), j.Error)
	}

	fmt.Println(t.Render())
}

func direction(j syncdaemon.JobStatus) string {
	if j.Unidirectional {
		return "source->target"
	}
	return "bidirectional"
}

func stateStyle(s syncdaemon.State) lipgloss.Style {
	switch s {
	case syncdaemon.StateError:
		return dangerStyle
	case syncdaemon.StateSynced:
		return accentStyle
	case syncdaemon.StateStopped:
		return warningStyle
	default:
		return lipgloss.NewStyle()
	}
}
