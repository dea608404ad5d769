package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nick0131/solventics-website/config"
	"github.com/nick0131/solventics-website/greylist"
	"github.com/nick0131/solventics-website/system"
)

var Version = "dev"

const DefaultListenAddr = "127.0.0.1:8080"

var (
	addr         = DefaultListenAddr
	configpath   = "config.json"
	devmode      bool
	showVersion  bool
	doConfigDump bool
)

var rootCmd = &cobra.Command{
	Use:           "solventics",
	Short:         "Solventics AI website",
	Long:          "Serves the Solventics AI site and forwards contact form entries to a Google spreadsheet.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println("solventics", Version)
			return nil
		}
		logger, err := newLogger(devmode)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()
		return serve(cmd.Context(), cmd.Flags().Changed("addr"), logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", addr, "address to serve")
	rootCmd.Flags().StringVar(&configpath, "conf", configpath, "path to config.json (use - for stdin)")
	rootCmd.Flags().BoolVar(&devmode, "dev", devmode, "development mode (insecure)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version and exit")
	rootCmd.Flags().BoolVar(&doConfigDump, "dumpconfig", false, "dump config and exit")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

func serve(ctx context.Context, addrFlagSet bool, logger *zap.Logger) error {
	// read config file or stdin
	cfg, err := config.Read(configpath, os.Stdin)
	if err != nil {
		return err
	}
	logger.Info("read config", zap.String("path", configpath))
	cfg.Meta.Version = "solventics " + Version

	// override config with flag
	if devmode {
		cfg.Meta.DevelopmentMode = devmode
	}
	if addrFlagSet || cfg.Meta.ListenAddr == "" {
		cfg.Meta.ListenAddr = addr
	}
	if err := config.LoadEnv(cfg, logger); err != nil {
		return err
	}
	if err := config.CheckConfig(cfg, logger); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if doConfigDump {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent(" ", " ")
		return enc.Encode(cfg)
	}

	s, err := system.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("boot error: %w", err)
	}
	defer s.Close()

	// setup greylist
	var refreshRate time.Duration // none, no auto refresh
	temporaryBlacklistTime := time.Hour * 24
	if cfg.Meta.DevelopmentMode {
		logger.Info("DEV MODE")
		refreshRate = time.Second * 10
		temporaryBlacklistTime = time.Minute
	}
	glist := greylist.New(cfg.Sec.Whitelist, cfg.Sec.Blacklist, refreshRate, logger)
	glist.SetTemporaryBlacklistTime(temporaryBlacklistTime)
	glist.SetTrustedProxies(cfg.Sec.TrustedProxies)
	s.SetGreylist(glist)

	// Serve or die!
	return s.Run(ctx, s.Handler())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "solventics:", err)
		os.Exit(1)
	}
}
