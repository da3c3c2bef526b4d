// Command focus runs one conference-focus process: it loads
// configuration, wires the process-wide collaborators, starts the
// conference registry, and serves health/metrics over HTTP until a
// termination signal triggers a graceful drain.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jitsi-focus-go/focus/internal/v1/config"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/middleware"
	"github.com/jitsi-focus-go/focus/internal/v1/services"
	"github.com/jitsi-focus-go/focus/internal/v1/tracing"
)

// newRoomFactory is the seam where a real XMPP/MUC/Jingle stack plugs
// in. XMPP transport, MUC room internals, and Jingle stanza parsing are
// explicitly out of scope for this module; whatever process embeds it
// is expected to supply a working RoomFactory here. The default stub
// fails every join attempt, which surfaces immediately as
// ROOM_NOT_FOUND rather than silently pretending a conference started.
var newRoomFactory services.RoomFactory = func(ctx context.Context, roomID string) (iface.MucRoom, iface.JingleChannel, error) {
	return nil, nil, errNoTransportWired
}

var errNoTransportWired = roomFactoryError("no XMPP transport wired into this process; supply a services.RoomFactory")

type roomFactoryError string

func (e roomFactoryError) Error() string { return string(e) }

func main() {
	if err := logging.Initialize(os.Getenv("GO_ENV") != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(ctx, "invalid configuration: "+err.Error())
	}

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "focus", collectorAddr)
		if err != nil {
			logging.Fatal(ctx, "failed to init tracer: "+err.Error())
		}
		defer func() { _ = tp.Shutdown(ctx) }()
	}

	svc, err := services.Build(ctx, *cfg, newRoomFactory)
	if err != nil {
		logging.Fatal(ctx, "failed to build services: "+err.Error())
	}
	defer svc.Close()

	reg := svc.NewRegistry()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"conferences":  reg.Count(),
			"short_id":     cfg.JicofoShortID,
			"auth_enabled": cfg.AuthEnabled,
		})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "focus process starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "http server failed: "+err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received, draining conferences")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := reg.EnableGracefulShutdown(shutdownCtx); err != nil {
		logging.Warn(shutdownCtx, "graceful shutdown deadline exceeded: "+err.Error())
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logging.Warn(httpCtx, "http server forced to shutdown: "+err.Error())
	}

	logging.Info(ctx, "focus process exiting")
}
