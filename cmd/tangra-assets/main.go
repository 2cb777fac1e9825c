package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/go-tangra/go-tangra-assets/cmd/tangra-assets/assets"
	"github.com/go-tangra/go-tangra-assets/internal/config"
	"github.com/go-tangra/go-tangra-assets/internal/lifecycle"
	"github.com/go-tangra/go-tangra-assets/internal/logging"
	"github.com/go-tangra/go-tangra-assets/internal/modelimage"
	"github.com/go-tangra/go-tangra-assets/internal/server"
	"github.com/go-tangra/go-tangra-assets/internal/service"
	"github.com/go-tangra/go-tangra-assets/internal/winsvc"
)

var (
	version    = "dev"
	commitHash = "unknown"
	buildDate  = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tangra-assets",
	Short: "Tangra Assets - local asset inventory with managed backups",
	Long: `Tangra Assets keeps a hardware asset inventory in a local SQLite
database. It snapshots the database on every start, keeps a bounded number
of snapshots and restores a validated backup on request.

Run without a subcommand to start the server (equivalent to 'serve').`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC and HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tangra-assets %s (commit: %s, built: %s)\n", version, commitHash, buildDate)
	},
}

const serviceName = "TangraAssets"

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage Windows service installation",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install as a Windows service",
	RunE:  runServiceInstall,
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the Windows service",
	RunE:  runServiceUninstall,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: assets.yaml in ., ./configs or the home directory)")
	rootCmd.PersistentFlags().String("home", "", "application home directory (default ~/"+config.DefaultHomeName+")")
	rootCmd.PersistentFlags().String("listen", "", "gRPC listen address (default 127.0.0.1:9650)")
	rootCmd.PersistentFlags().String("http-listen", "", "HTTP listen address (default 127.0.0.1:9651)")
	rootCmd.PersistentFlags().String("client-secret", "", "secret for gRPC clients (empty = no auth)")
	rootCmd.PersistentFlags().String("api-secret", "", "secret for REST API clients (empty = no auth)")

	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("home"); v != "" {
		cfg.Home = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("http-listen"); v != "" {
		cfg.HTTPListen = v
	}
	if v, _ := cmd.Flags().GetString("client-secret"); v != "" {
		cfg.ClientSecret = v
	}
	if v, _ := cmd.Flags().GetString("api-secret"); v != "" {
		cfg.ApiSecret = v
	}
	return cfg, nil
}

// app is what every command that touches the store needs.
type app struct {
	cfg     *config.Config
	layout  config.Layout
	log     *zap.Logger
	manager *lifecycle.Manager
	close   func()
}

// newApp resolves the layout, builds the logger and an unopened manager.
// One-shot commands keep the console quiet and log to the file only.
func newApp(cmd *cobra.Command, quiet bool, onAvailability func(bool), extra ...zapcore.Core) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	layout, err := config.LayoutFor(cfg)
	if err != nil {
		return nil, err
	}
	if quiet {
		cfg.Log.Console = false
	}

	log, closeLog, err := logging.New(cfg.Log, layout.LogsDir, extra...)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	return &app{
		cfg:    cfg,
		layout: layout,
		log:    log,
		manager: lifecycle.New(lifecycle.Options{
			Layout:         layout,
			Retention:      cfg.BackupRetention,
			BusyTimeout:    cfg.BusyTimeout,
			Logger:         log,
			OnAvailability: onAvailability,
		}),
		close: closeLog,
	}, nil
}

// openStore opens the store for a one-shot command.
func (a *app) openStore(ctx context.Context) error {
	if err := a.manager.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if err := a.manager.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	a.close()
}

func runServe(cmd *cobra.Command, args []string) error {
	isService := winsvc.IsWindowsService()

	var extra []zapcore.Core
	closeEventLog := func() {}
	if isService {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		core, closeFn, err := winsvc.EventLogCore(serviceName, level)
		if err == nil {
			extra = append(extra, core)
			closeEventLog = closeFn
		}
	}
	defer closeEventLog()

	health := server.NewHealth()
	a, err := newApp(cmd, isService, health.SetAvailable, extra...)
	if err != nil {
		return err
	}
	defer a.close()

	run := func(ctx context.Context) error {
		if err := a.manager.Start(ctx); err != nil {
			a.log.Error("store startup failed", zap.Error(err))
			return err
		}
		defer a.manager.Close()

		return server.Run(ctx, a.cfg, server.Deps{
			Manager: a.manager,
			Assets:  service.New(a.manager),
			Images:  modelimage.New(a.layout.ModelsDir, a.cfg.ImageCacheSize),
			Health:  health,
			OpenAPI: assets.OpenApiData,
			Logger:  a.log,
		})
	}

	if isService {
		return winsvc.RunService(serviceName, a.log, run)
	}

	// Interactive mode: shut down on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx)
}

func runServiceInstall(cmd *cobra.Command, _ []string) error {
	exePath, err := winsvc.ExePath()
	if err != nil {
		return err
	}

	svcArgs := []string{"serve"}
	if cfgFile != "" {
		svcArgs = append(svcArgs, "--config", cfgFile)
	}
	if v, _ := cmd.Flags().GetString("home"); v != "" {
		svcArgs = append(svcArgs, "--home", v)
	}

	log, _ := zap.NewProduction()
	defer log.Sync()

	if err := winsvc.Install(winsvc.InstallConfig{
		Name:        serviceName,
		DisplayName: "Tangra Assets",
		Description: "Keeps the local asset inventory database and its backups.",
		ExePath:     exePath,
		Args:        svcArgs,
	}, log); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Service %s installed successfully\n", serviceName)
	return nil
}

func runServiceUninstall(cmd *cobra.Command, _ []string) error {
	if err := winsvc.Uninstall(serviceName); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %s uninstalled successfully\n", serviceName)
	return nil
}
