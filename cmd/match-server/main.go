package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/anvil-platform/forge/internal/config"
	"github.com/anvil-platform/forge/internal/engine"
	"github.com/anvil-platform/forge/internal/matchservice"
	"github.com/anvil-platform/forge/internal/supplytree"
)

func main() {
	var listenAddr string
	var metricsAddr string
	var configPath string
	flag.StringVar(&listenAddr, "listen", ":50051", "address to listen on")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "address the metrics endpoint binds to; empty disables it")
	flag.StringVar(&configPath, "config", "", "path to the engine configuration file")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	log := zap.New(zap.UseFlagOptions(&opts)).WithName("match-server")
	if err := run(log, listenAddr, metricsAddr, configPath); err != nil {
		log.Error(err, "match server stopped")
		os.Exit(1)
	}
}

func run(log logr.Logger, listenAddr, metricsAddr, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, log.WithName("engine"))
	if err != nil {
		return err
	}
	defer eng.Close()

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(logCalls(log)))
	matchservice.RegisterMatchServiceServer(grpcServer,
		matchservice.NewServer(eng, eng.Matcher, log.WithName("service")).WithStore(supplytree.NewMemoryStore()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(matchservice.ServiceName, healthpb.HealthCheckResponse_SERVING)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving", "address", listenAddr, "domains", eng.Domains.Names())
		return grpcServer.Serve(lis)
	})

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func logCalls(log logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.V(1).Info("call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}
