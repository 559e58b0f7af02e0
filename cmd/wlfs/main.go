// Command wlfs is the FUSE mount daemon: it exposes mounted storages as
// a pseudo-filesystem and drives them entirely through its Unix control
// socket, grounded on the teacher's cmd/collective/main.go (cobra
// command tree, zap setup, graceful-shutdown signal handling) and
// status_styled.go (lipgloss status rendering).
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
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wildland-go/wildland/pkg/config"
	"github.com/wildland-go/wildland/pkg/controlrpc"
	"github.com/wildland-go/wildland/pkg/manifest"
	"github.com/wildland-go/wildland/pkg/mountcore"
	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/utils"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wlfs",
		Short: "Wildland FUSE mount daemon",
		Long:  "wlfs mounts Wildland storages as a FUSE filesystem and exposes mount/unmount/watch/status over a Unix control socket.",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(runCmd(), statusCmd(), fileinfoCmd(), versionCmd())

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
	var mountpoint string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "mount the filesystem and serve the control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if mountpoint == "" {
				mountpoint = cfg.MountDir
			}
			if err := os.MkdirAll(mountpoint, 0700); err != nil {
				return fmt.Errorf("creating mountpoint %s: %w", mountpoint, err)
			}

			core := mountcore.NewCore(storagebackend.DefaultRegistry, logger)
			sc := sigcontext.New(cfg.KeyDir, cfg.Dummy)

			root := mountcore.NewFilesystem(core)
			server, err := fs.Mount(mountpoint, root, &fs.Options{
				MountOptions: fuse.MountOptions{
					FsName: "wildland",
					Name:   "wlfs",
				},
			})
			if err != nil {
				return fmt.Errorf("mounting %s: %w", mountpoint, err)
			}

			rpcServer := controlrpc.NewServer(logger)
			registerFSHandlers(rpcServer, core, sc)

			ctx, cancel := context.WithCancel(context.Background())
			serveErrCh := make(chan error, 1)
			go func() {
				serveErrCh <- rpcServer.Serve(ctx, cfg.FSSocketPath)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			logger.Info("wlfs ready",
				zap.String("mountpoint", mountpoint),
				zap.String("control-socket", cfg.FSSocketPath))

			select {
			case <-sigCh:
				logger.Info("shutting down wlfs")
			case err := <-serveErrCh:
				if err != nil {
					logger.Error("control socket stopped", zap.Error(err))
				}
			}

			cancel()
			rpcServer.Close()
			if err := server.Unmount(); err != nil {
				logger.Warn("unmount failed", zap.Error(err))
			}
			server.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&mountpoint, "mountpoint", "", "FUSE mountpoint (defaults to config mount-dir)")
	return cmd
}

// registerFSHandlers wires spec.md §6's fs-commands onto Core's
// methods, decoding each command's wire args with the same
// map[string]interface{} convention pkg/wlobject uses for manifest
// fields.
func registerFSHandlers(server *controlrpc.Server, core *mountcore.Core, sc *sigcontext.SigContext) {
	server.Handle("mount", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire mountArgs
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		req, err := wire.toRequest()
		if err != nil {
			return nil, err
		}
		ids, err := core.Mount(req)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"storage-ids": ids}, nil
	})

	server.Handle("unmount", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			StorageID int64 `json:"storage-id"`
		}
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		return nil, core.Unmount(wire.StorageID)
	})

	server.Handle("clear-cache", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			StorageID *int64 `json:"storage-id"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &wire); err != nil {
				return nil, fmt.Errorf("bad-args: %w", err)
			}
		}
		return nil, core.ClearCache(wire.StorageID)
	})

	server.Handle("add-watch", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			StorageID int64  `json:"storage-id"`
			Pattern   string `json:"pattern"`
			IgnoreOwn bool   `json:"ignore-own"`
		}
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		return nil, core.AddWatch(wire.StorageID, wire.Pattern, wire.IgnoreOwn)
	})

	server.Handle("add-subcontainer-watch", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			StorageID int64 `json:"storage-id"`
			IgnoreOwn bool  `json:"ignore-own"`
		}
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		return nil, core.AddSubcontainerWatch(wire.StorageID, wire.IgnoreOwn, decodeSubcontainerManifest(sc))
	})

	server.Handle("fileinfo", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		return core.FileInfo(ctx, wire.Path)
	})

	server.Handle("dirinfo", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var wire struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &wire); err != nil {
			return nil, fmt.Errorf("bad-args: %w", err)
		}
		return core.DirInfo(ctx, wire.Path)
	})

	server.Handle("paths", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return core.Paths(), nil
	})

	server.Handle("info", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return core.Info(), nil
	})

	server.Handle("status", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return core.Status(), nil
	})

	server.Handle("breakpoint", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return nil, core.Breakpoint()
	})

	server.Handle("test", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return nil, core.Test()
	})
}

// mountArgs is the wire shape of spec.md §6's "mount" command.
type mountArgs struct {
	Items []mountItemWire `json:"items"`
	Lazy  bool            `json:"lazy"`
}

type mountItemWire struct {
	Paths    []string               `json:"paths"`
	Storage  map[string]interface{} `json:"storage"`
	ReadOnly bool                   `json:"read-only"`
	Extra    map[string]interface{} `json:"extra"`
	Remount  bool                   `json:"remount"`
}

func (w mountArgs) toRequest() (mountcore.MountRequest, error) {
	req := mountcore.MountRequest{Lazy: w.Lazy}
	for _, item := range w.Items {
		if len(item.Paths) == 0 {
			return req, fmt.Errorf("bad-args: mount item has no paths")
		}
		storage, err := wlobject.StorageFromFields(item.Storage)
		if err != nil {
			return req, err
		}
		req.Items = append(req.Items, mountcore.MountItem{
			Paths:    item.Paths,
			Storage:  storage,
			ReadOnly: item.ReadOnly,
			Extra:    item.Extra,
			Remount:  item.Remount,
		})
	}
	return req, nil
}

// decodeSubcontainerManifest builds the decode callback
// AddSubcontainerWatch needs: parse, verify, and turn a subcontainer
// manifest's bytes into the MountItem it describes.
func decodeSubcontainerManifest(sc *sigcontext.SigContext) func([]byte) (mountcore.MountItem, error) {
	return func(data []byte) (mountcore.MountItem, error) {
		m, err := manifest.FromBytes(data, sc, manifest.LoadOptions{})
		if err != nil {
			return mountcore.MountItem{}, err
		}
		container, err := wlobject.ContainerFromFields(m.Fields)
		if err != nil {
			return mountcore.MountItem{}, err
		}
		primary := container.PrimaryStorage()
		if primary == nil {
			return mountcore.MountItem{}, fmt.Errorf("subcontainer %s declares no primary storage", container.EnsureUUID())
		}
		return mountcore.MountItem{
			Paths:         container.MountPaths(),
			Storage:       primary,
			Container:     container,
			ManifestBytes: data,
			ReadOnly:      primary.ReadOnly,
		}, nil
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wlfs 0.1.0")
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
)

type statusEntry struct {
	StorageID int64    `json:"storage-id"`
	Paths     []string `json:"paths"`
	Type      string   `json:"type"`
	ReadOnly  bool     `json:"read-only"`
	Lazy      bool     `json:"lazy"`
	Opened    bool     `json:"opened"`
}

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "report the mount table of a running wlfs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			client, err := controlrpc.Dial(cfg.FSSocketPath)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", cfg.FSSocketPath, err)
			}
			defer client.Close()

			var entries []statusEntry
			if err := client.Call("status", nil, &entries); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			if asJSON {
				out, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			printMountTable(entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printMountTable(entries []statusEntry) {
	fmt.Println(titleStyle.Render("WLFS MOUNT TABLE"))

	if len(entries) == 0 {
		fmt.Println(warningStyle.Render("no storages mounted"))
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
		Headers("ID", "PATHS", "TYPE", "RO", "LAZY", "OPENED")

	for _, e := range entries {
		opened := "yes"
		if !e.Opened {
			opened = dangerStyle.Render("no")
		}
		t.Row(fmt.Sprintf("%d", e.StorageID), joinPaths(e.Paths), e.Type, boolMark(e.ReadOnly), boolMark(e.Lazy), opened)
	}

	fmt.Println(t.Render())
}

// fileinfoCmd is the CLI front-end for the control socket's "fileinfo"
// command, rendering the returned stat result with FormatDataSize so a
// size shows up the way a human reads it ("4.5 KB") rather than a raw
// byte count.
func fileinfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fileinfo <path>",
		Short: "stat a path served by a running wlfs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			client, err := controlrpc.Dial(cfg.FSSocketPath)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", cfg.FSSocketPath, err)
			}
			defer client.Close()

			var info storagebackend.FileInfo
			if err := client.Call("fileinfo", map[string]string{"path": args[0]}, &info); err != nil {
				return fmt.Errorf("fileinfo: %w", err)
			}

			kind := "file"
			if info.IsDir {
				kind = "dir"
			}
			fmt.Printf("%s  %s  %s\n", headerStyle.Render(info.Name), kind, utils.FormatDataSize(info.Size))
			return nil
		},
	}
	return cmd
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
