package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/waitqueue-service/internal/config"
	"clinicq/waitqueue-service/internal/httpapi"
	"clinicq/waitqueue-service/internal/hub"
	"clinicq/waitqueue-service/internal/queue"
	"clinicq/waitqueue-service/internal/store/postgres"
	"clinicq/waitqueue-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("waitqueue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	sequencer := queue.NewTicketSequencer(st, cfg.QueueLocation)
	engine := queue.NewEngine(st, sequencer, queue.Options{EventBuffer: cfg.EventBufferSize})

	rooms := hub.New()
	broadcaster := hub.NewBroadcaster(rooms, engine, engine.Events())
	broadcastCtx, stopBroadcast := context.WithCancel(context.Background())
	defer stopBroadcast()
	go broadcaster.Run(broadcastCtx)

	handler := httpapi.NewHandler(engine, st, httpapi.Options{
		DefaultTenantID: cfg.DefaultTenantID,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		TenantPerMinute: cfg.TenantRateLimitPerMinute,
		TenantBurst:     cfg.TenantRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		rooms.Register(client)
		defer rooms.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseControl([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "leave" {
				rooms.Leave(client)
				continue
			}
			if _, err := uuid.Parse(parsed.TenantID); err != nil {
				_ = session.Close(4000, "invalid tenant")
				return
			}
			rooms.Join(client, parsed.TenantID)
		}
	}))
	mux.Handle("/", handler.Routes())

	stack := otelhttp.NewHandler(
		httpapi.LoggingMiddleware(limiter.Middleware(httpapi.AuthMiddleware(st, mux))),
		"waitqueue-service",
	)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      stack,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("waitqueue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopBroadcast()
}
