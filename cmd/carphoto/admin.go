package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"carphoto/internal/app"
	"carphoto/internal/carphoto"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile DEPTH REGION [VIN [TYPE INDEX]]",
	Short: "Rebuild indexes from the folders on disk (depth: region, car or slot)",
	Args:  cobra.RangeArgs(2, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth := args[0]
		target := carphoto.SlotTarget{Region: args[1]}
		if len(args) > 2 {
			target.VIN = args[2]
		}
		if len(args) == 5 {
			t, err := app.ParseSlot(args[1], args[2], args[3], args[4])
			if err != nil {
				return err
			}
			target = t
		} else if len(args) == 4 {
			return fmt.Errorf("slot depth needs both TYPE and INDEX")
		}

		a, err := newApp(cmd.Context(), "Reconcile")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Reconcile(cmd.Context(), depth, target)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, action := range res.Actions {
			fmt.Fprintf(out, "  %s\n", action)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
		fmt.Fprintf(out, "Reconciled %s at %s depth: %d document(s) repaired\n", res.Path, res.Depth, res.Repaired)
		return nil
	},
}

// metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Expose process metrics",
}

var metricsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MetricsServe")
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = a.Config().Metrics.ListenAddr
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics\n", addr)

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		case <-cmd.Context().Done():
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}
