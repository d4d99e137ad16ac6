package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-crm-activities/internal/client"
	"github.com/pesio-ai/be-crm-activities/internal/handler"
	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/metrics"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/internal/service"
	"github.com/pesio-ai/be-crm-activities/pkg/config"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
	"github.com/pesio-ai/be-crm-activities/pkg/middleware"
	natsclient "github.com/pesio-ai/be-crm-activities/pkg/nats"
)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

// stores bundles the persistence ports chosen by STORE_DRIVER.
type stores struct {
	activities service.ActivityStore
	directory  service.Directory
	audit      service.AuditSink
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Workflow.StoreDriver == "memory" {
		var users []hierarchy.User
		if cfg.Workflow.DirectoryFile != "" {
			var err error
			users, err = repository.LoadUsersFile(cfg.Workflow.DirectoryFile)
			if err != nil {
				return nil, err
			}
		}
		log.Warn().Int("directory_users", len(users)).Msg("Using in-memory stores; data is lost on restart")
		return &stores{
			activities: repository.NewMemoryActivityStore(),
			directory:  repository.NewMemoryDirectory(users),
			audit:      repository.NewMemoryAuditLog(),
			close:      func() {},
		}, nil
	}

	db, err := database.New(ctx, databaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return &stores{
		activities: repository.NewActivityRepository(db),
		directory:  repository.NewDirectoryRepository(db),
		audit:      repository.NewActivityAuditRepository(db),
		close:      db.Close,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Workflow.StoreDriver).
		Msg("Starting CRM Activities Service")

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// Notifications
	var publisher client.Publisher
	if cfg.NATS.URL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:            cfg.NATS.URL,
			Name:           cfg.Service.Name,
			Stream:         cfg.NATS.Stream,
			Subjects:       []string{cfg.NATS.Subject + ".>"},
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		}, log.Component("nats").Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, notifications will be dropped")
		} else {
			defer nc.Close()
			publisher = nc
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(publisher, cfg.NATS.Subject, cfg.NATS.PublishTimeout, log.Component("notifications").Logger)

	// Services
	policy := hierarchy.SalesPolicy{
		DepartmentID:    cfg.Workflow.SalesDepartmentID,
		ManagerKeywords: cfg.Workflow.ManagerKeywords,
	}
	activityService := service.NewActivityService(st.activities, st.directory, service.NewVisibility(policy), st.audit, notifier, log)
	verificationService := service.NewVerificationService(st.activities, st.directory, st.audit, notifier, log)
	assignmentService := service.NewAssignmentService(st.activities, st.directory, st.audit, notifier, log)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// HTTP
	httpHandler := handler.NewHTTPHandler(activityService, verificationService, assignmentService, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	httpHandler.RegisterRoutes(mux)

	var h http.Handler = mux
	h = middleware.Actor(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.AllowedOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log.Logger),
		handler.LoggingInterceptor(log.Logger),
		handler.ActorInterceptor,
	))
	handler.RegisterActivityVerificationServer(grpcServer,
		handler.NewGRPCHandler(activityService, verificationService, assignmentService, log.Logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ActivityVerificationServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("create gRPC listener: %w", err)
	}
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return nil
}
