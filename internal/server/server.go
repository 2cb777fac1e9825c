package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	kratoshttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerUI "github.com/tx7do/kratos-swagger-ui"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/go-tangra/go-tangra-assets/internal/codec"
	"github.com/go-tangra/go-tangra-assets/internal/config"
	"github.com/go-tangra/go-tangra-assets/internal/lifecycle"
	"github.com/go-tangra/go-tangra-assets/internal/modelimage"
	"github.com/go-tangra/go-tangra-assets/internal/service"
)

// Deps are the long-lived components the servers expose.
type Deps struct {
	Manager *lifecycle.Manager
	Assets  *service.AssetService
	Images  *modelimage.Resolver
	Health  *Health
	OpenAPI []byte
	Logger  *zap.Logger
}

// NewHTTPServer builds the REST server. Swagger UI and /metrics are mounted
// with Handle, which bypasses the middleware chain.
func NewHTTPServer(cfg *config.Config, d Deps) *kratoshttp.Server {
	srv := kratoshttp.NewServer(
		kratoshttp.Address(cfg.HTTPListen),
		kratoshttp.Middleware(
			LoggingMiddleware(d.Logger),
			ApiSecretMiddleware(cfg.ApiSecret),
		),
	)
	registerRoutes(srv, &api{
		manager: d.Manager,
		assets:  d.Assets,
		images:  d.Images,
		health:  d.Health,
	})
	srv.Handle("/metrics", promhttp.Handler())

	if cfg.EnableSwagger && len(d.OpenAPI) > 0 {
		swaggerUI.RegisterSwaggerUIServerWithOption(
			srv,
			swaggerUI.WithTitle("Tangra Assets"),
			swaggerUI.WithMemoryData(d.OpenAPI, "yaml"),
		)
	}
	return srv
}

// NewGRPCServer builds the gRPC server: health and reflection behind the
// client-secret interceptors.
func NewGRPCServer(cfg *config.Config, d Deps) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ClientSecretInterceptor(cfg.ClientSecret)),
		grpc.ChainStreamInterceptor(ClientSecretStreamInterceptor(cfg.ClientSecret)),
	)
	healthpb.RegisterHealthServer(srv, d.Health.Server())
	reflection.Register(srv)
	return srv
}

// Run serves gRPC and HTTP until ctx is cancelled. The manager must already
// be started; Run also drives periodic backups and the model image watcher.
func Run(ctx context.Context, cfg *config.Config, d Deps) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	log := d.Logger.Named("server")

	grpcSrv := NewGRPCServer(cfg, d)
	httpSrv := NewHTTPServer(cfg, d)

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen gRPC on %s: %w", cfg.Listen, err)
	}

	d.Health.SetAvailable(true)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		d.Health.Shutdown()
		grpcSrv.GracefulStop()
		if err := httpSrv.Stop(context.Background()); err != nil {
			log.Warn("stop HTTP server", zap.Error(err))
		}
	}()

	if cfg.BackupInterval > 0 {
		go d.Manager.RunPeriodicBackups(ctx, cfg.BackupInterval)
	}

	if d.Images != nil {
		go func() {
			if err := d.Images.Watch(ctx, log); err != nil {
				log.Warn("model images are not watched", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := httpSrv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server", zap.Error(err))
		}
	}()

	log.Info("listening",
		zap.String("grpc", cfg.Listen),
		zap.String("http", cfg.HTTPListen),
		zap.String("database", d.Manager.Layout().DatabasePath),
		zap.Duration("backup_interval", cfg.BackupInterval))
	if cfg.EnableSwagger && len(d.OpenAPI) > 0 {
		log.Info("swagger UI enabled", zap.String("url", "http://"+cfg.HTTPListen+"/docs/"))
	}

	return grpcSrv.Serve(lis)
}
