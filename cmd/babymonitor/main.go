// Baby Monitor CLI entry point.
//
// A baby device advertises itself on the local network with mDNS and
// streams audio/video over WebRTC to any parent device that pairs with it.
// Signaling runs over a WebSocket served by the baby device; no server
// outside the local network is involved.
//
// Run "babymonitor baby" or "babymonitor parent". Without a subcommand the
// role saved by the previous run is used, or asked for interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/babymonitor/internal/app"
	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	load := func() (*config.Config, config.Store, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Debug {
			util.EnableDebug()
		}
		store, err := config.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, store, nil
	}

	root := &cobra.Command{
		Use:           "babymonitor",
		Short:         "Local network baby monitor",
		Long:          "Pairs a parent device with a baby device on the local network and streams audio/video between them over WebRTC.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			pterm.Info.Printfln("Baby Monitor v%s", version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := load()
			if err != nil {
				return err
			}
			return runMode(cmd.Context(), cfg, store, store.AppMode())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.Int("port", config.DefaultPort, "signaling port, 1~65535")
	flags.String("name", config.DefaultServiceName, "mDNS service instance name")
	flags.StringSlice("stun", []string{config.DefaultSTUN}, "STUN servers for ICE, empty for host candidates only")
	flags.String("store", "", "state file (default: <user config dir>/babymonitor/state.yaml)")
	flags.Bool("debug", false, "enable debug logging")

	bindFlags(v, flags.Lookup, map[string]string{
		"port":         "port",
		"service.name": "name",
		"ice.stun":     "stun",
		"store.path":   "store",
		"debug":        "debug",
	})

	babyCmd := &cobra.Command{
		Use:   "baby",
		Short: "Run as the baby device: advertise and stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := load()
			if err != nil {
				return err
			}
			return runMode(cmd.Context(), cfg, store, config.ModeBaby)
		},
	}
	babyCmd.Flags().Bool("metrics", false, "serve Prometheus metrics on /metrics")
	bindFlags(v, babyCmd.Flags().Lookup, map[string]string{"metrics.enabled": "metrics"})

	parentCmd := &cobra.Command{
		Use:   "parent",
		Short: "Run as the parent device: find a baby device and watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := load()
			if err != nil {
				return err
			}
			return runMode(cmd.Context(), cfg, store, config.ModeParent)
		},
	}
	parentCmd.Flags().Duration("timeout", config.DefaultSearchTimeout, "device search timeout")
	parentCmd.Flags().Bool("auto-pair", false, "pair with the first device found without prompting")
	bindFlags(v, parentCmd.Flags().Lookup, map[string]string{
		"search.timeout":   "timeout",
		"parent.auto_pair": "auto-pair",
	})

	unpairCmd := &cobra.Command{
		Use:   "unpair",
		Short: "Forget the paired device and the saved role",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := load()
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			util.LogSuccess("pairing and role cleared")
			return nil
		},
	}

	root.AddCommand(babyCmd, parentCmd, unpairCmd)
	return root
}

// bindFlags binds viper keys to the flags found by lookup.
func bindFlags(v *viper.Viper, lookup func(string) *pflag.Flag, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, lookup(name)); err != nil {
			panic(err)
		}
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func runMode(ctx context.Context, cfg *config.Config, store config.Store, mode config.Mode) error {
	if mode == config.ModeNone {
		mode = askMode()
	}

	var err error
	switch mode {
	case config.ModeBaby:
		err = app.RunBaby(ctx, cfg, store)
	case config.ModeParent:
		err = app.RunParent(ctx, cfg, store)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}

	util.LogInfo("baby monitor stopped")
	return nil
}

// askMode falls back to an interactive prompt when no role is saved.
func askMode() config.Mode {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Baby   : Stream from this device", "Parent : Watch a baby device"}).
		WithDefaultText("Select this device's role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Baby") {
		return config.ModeBaby
	}
	return config.ModeParent
}
