package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lex00/tierstack-go/internal/health"
)

func newHealthCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "health <target>...",
		Short: "Track routing health of live targets",
		Long: `Health probes each target with the configured health check and tracks whether
it should receive traffic. A target becomes healthy after healthy_threshold
consecutive passing checks and unhealthy after unhealthy_threshold failures.

Targets are written name=host[:port] or host[:port]; the port defaults to the
instance port. Metrics are served on --listen at /metrics.

Examples:
    tierstack health web1=10.0.1.10 web2=10.0.2.10
    tierstack health localhost:8080 --listen :9100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			members, err := parseTargets(args, a.cfg.Compute.Port)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			monitor, err := health.NewMonitor(health.Config{
				Path:     a.cfg.Health.Path,
				Interval: a.cfg.Health.Interval,
				Timeout:  a.cfg.Health.Timeout,
				Thresholds: health.Thresholds{
					Healthy:   a.cfg.Health.HealthyThreshold,
					Unhealthy: a.cfg.Health.UnhealthyThreshold,
				},
			}, members, health.HTTPProber{Client: &http.Client{}}, health.NewMetrics(reg), a.log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveHealth(ctx, monitor, reg, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9090", "Metrics listen address")

	return cmd
}

// serveHealth runs the monitor and the metrics endpoint until ctx ends.
func serveHealth(ctx context.Context, monitor *health.Monitor, reg *prometheus.Registry, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// parseTargets turns name=host[:port] arguments into monitor members.
func parseTargets(args []string, defaultPort int) ([]health.Member, error) {
	members := make([]health.Member, 0, len(args))
	for _, arg := range args {
		name, addr, named := strings.Cut(arg, "=")
		if !named {
			addr = arg
		}
		host, portStr, err := net.SplitHostPort(addr)
		port := defaultPort
		if err != nil {
			host = addr
		} else if port, err = strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("target %q: invalid port %q", arg, portStr)
		}
		if host == "" {
			return nil, fmt.Errorf("target %q: missing host", arg)
		}
		if !named {
			name = net.JoinHostPort(host, strconv.Itoa(port))
		}
		if name == "" {
			return nil, fmt.Errorf("target %q: missing name", arg)
		}
		members = append(members, health.Member{Name: name, Address: host, Port: port})
	}
	return members, nil
}
