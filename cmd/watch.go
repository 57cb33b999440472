package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/torn-tools/bazaarwatch/internal/monitor"
	"github.com/torn-tools/bazaarwatch/pkg/marketview"
	"github.com/torn-tools/bazaarwatch/pkg/tornapi"
)

var (
	watchOnce    bool
	watchNoServe bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the detection cycle loop and status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Torn.APIKey == "" {
			return fmt.Errorf("torn.api_key is required (or BAZAARWATCH_TORN_API_KEY)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		torn := tornapi.NewClient(cfg.Torn.APIKey,
			tornapi.WithBaseURL(cfg.Torn.BaseURL),
			tornapi.WithRateLimit(cfg.Torn.RPS),
			tornapi.WithHTTPClient(httpClientFor(cfg.Torn.TimeoutSecs)),
		)
		market := marketview.NewClient(
			marketview.WithBaseURL(cfg.Market.BaseURL),
			marketview.WithRateLimit(cfg.Market.RPS),
			marketview.WithHTTPClient(httpClientFor(cfg.Market.TimeoutSecs)),
		)

		orch := monitor.New(cfg.Monitor, cfg.Alerts, st, torn, market, cfg.Market.TopListings)

		if watchOnce {
			return orch.RunOnce(ctx)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return orch.Run(gctx)
		})
		if !watchNoServe {
			g.Go(func() error {
				api := monitor.NewAPI(orch, st)
				return api.Serve(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func httpClientFor(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		timeoutSecs = 15
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single cycle and exit")
	watchCmd.Flags().BoolVar(&watchNoServe, "no-serve", false, "disable the status API server")
	rootCmd.AddCommand(watchCmd)
}
