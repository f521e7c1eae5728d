// botctl: управление ботом через его HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	addr    string
	timeout time.Duration
)

func main() {
	rootCmd := newRootCmd(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "botctl",
		Short:         "Control the options trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defAddr := os.Getenv("BOT_ADDR")
	if defAddr == "" {
		defAddr = "localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", defAddr, "bot HTTP address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(
		simpleCmd(out, "status", "Show engine state, session and daily stats", http.MethodGet, "/api/status"),
		simpleCmd(out, "start", "Start or resume the trading loop", http.MethodPost, "/api/start"),
		simpleCmd(out, "history", "List today's operations", http.MethodGet, "/api/history"),
		simpleCmd(out, "test-entry", "Place one trade at base amount on a random open asset", http.MethodPost, "/api/test-entry"),
		stopCmd(out),
		clearCmd(out),
		configureCmd(out),
		accountCmd(out),
	)
	return rootCmd
}

func run(cmd *cobra.Command, out io.Writer, method, path string, body any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	raw, err := newClient(addr, timeout).do(ctx, method, path, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, pretty(raw))
	return nil
}

func simpleCmd(out io.Writer, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, out, method, path, nil)
		},
	}
}

func stopCmd(out io.Writer) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the trading loop; a placed order still settles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, out, http.MethodPost, "/api/stop", map[string]string{"reason": reason})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "stop reason")
	return cmd
}

func clearCmd(out io.Writer) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete today's operation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			return run(cmd, out, http.MethodDelete, "/api/history", nil)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

func accountCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:       "account <PRACTICE|REAL>",
		Short:     "Switch the broker account mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"PRACTICE", "REAL"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, out, http.MethodPost, "/api/account", map[string]string{"mode": strings.ToUpper(args[0])})
		},
	}
}

func configureCmd(out io.Writer) *cobra.Command {
	var (
		policy     string
		base       string
		stopGain   string
		stopLoss   string
		multiplier string
		capMult    string
		assets     []string
		allAssets  bool
		expiration int
		timeframe  int
		instrument string
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Change trading settings; unset flags keep current values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			body := map[string]any{}
			pol := map[string]any{}

			// decimal принимает строки, поэтому суммы уходят как есть
			setIf := func(m map[string]any, flag, key string, v any) {
				if flags.Changed(flag) {
					m[key] = v
				}
			}
			setIf(pol, "policy", "kind", policy)
			setIf(pol, "base", "base_amount", base)
			setIf(pol, "stop-gain", "stop_gain", stopGain)
			setIf(pol, "stop-loss", "stop_loss", stopLoss)
			setIf(pol, "multiplier", "multiplier", multiplier)
			setIf(pol, "cap", "safety_multiplier_cap", capMult)
			if len(pol) > 0 {
				body["policy"] = pol
			}
			setIf(body, "assets", "assets", assets)
			setIf(body, "all-assets", "all_assets", allAssets)
			setIf(body, "expiration", "expiration_minutes", expiration)
			setIf(body, "timeframe", "candle_timeframe", timeframe)
			setIf(body, "instrument", "instrument", instrument)

			if len(body) == 0 {
				return fmt.Errorf("nothing to configure")
			}
			return run(cmd, out, http.MethodPost, "/api/configure", body)
		},
	}

	f := cmd.Flags()
	f.StringVar(&policy, "policy", "", "money policy: flat | martingale | soros")
	f.StringVar(&base, "base", "", "base stake")
	f.StringVar(&stopGain, "stop-gain", "", "stop gain")
	f.StringVar(&stopLoss, "stop-loss", "", "stop loss")
	f.StringVar(&multiplier, "multiplier", "", "martingale multiplier")
	f.StringVar(&capMult, "cap", "", "safety multiplier cap")
	f.StringSliceVar(&assets, "assets", nil, "assets, comma separated")
	f.BoolVar(&allAssets, "all-assets", false, "trade every open asset")
	f.IntVar(&expiration, "expiration", 0, "expiration, minutes")
	f.IntVar(&timeframe, "timeframe", 0, "candle timeframe, seconds")
	f.StringVar(&instrument, "instrument", "", "digital | binary")
	return cmd
}
