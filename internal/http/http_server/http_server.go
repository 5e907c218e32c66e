package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/abrar71/swaggerfilesv2" // swagger embed files

	"codecollab/internal/auth"
	"codecollab/internal/http/roomhandler"
	"codecollab/internal/http/snippethandler"
	"codecollab/internal/http/waitlisthandler"
	"codecollab/internal/metrics"
	"codecollab/internal/services/room"
	"codecollab/internal/services/snippet"
	"codecollab/internal/services/waitlist"
	"codecollab/internal/ws"
)

// Deps is everything the HTTP surface routes to.
type Deps struct {
	Rooms    room.IRoomService
	Snippets snippet.ISnippetService
	Waitlist waitlist.IWaitlistService
	WsServer *ws.WsServer
	Verifier *auth.Verifier
	Metrics  *metrics.Metrics
	// Health reports whether the backing stores answer; nil means always healthy.
	Health func(ctx context.Context) error
}

type httpServer struct {
	listenPort  uint16
	corsOrigins []string
	srv         http.Server
	ln          net.Listener
	deps        Deps
	ctx         context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, corsOrigins []string, deps Deps) *httpServer {
	return &httpServer{
		listenPort:  listenPort,
		corsOrigins: corsOrigins,
		deps:        deps,
		ctx:         ctx,
	}
}

// Handler builds the full route table wrapped in CORS.
func (h *httpServer) Handler() http.Handler {
	routerEngine := gin.New()

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))
	routerEngine.Static("/api-specs", "api_specs")

	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	routerEngine.GET("/healthz", h.healthz)
	if h.deps.Metrics != nil {
		routerEngine.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}

	// websocket endpoint
	if h.deps.WsServer != nil {
		routerEngine.GET("/ws", h.deps.WsServer.Handle)
	}

	// REST API
	api := routerEngine.Group("/api")
	waitlisthandler.New(h.deps.Waitlist).Register(api)

	private := api.Group("", h.deps.Verifier.RequireUser())
	var pub roomhandler.Publisher
	if h.deps.WsServer != nil {
		pub = h.deps.WsServer
	}
	roomhandler.New(h.deps.Rooms, pub).Register(private)
	snippethandler.New(h.deps.Snippets).Register(private)

	return cors.New(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Id", "X-Username"},
		AllowCredentials: true,
	}).Handler(routerEngine)
}

func (h *httpServer) healthz(c *gin.Context) {
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Health(ctx); err != nil {
			zap.L().Warn("http.healthz", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving until Dispose is called. http.ErrServerClosed is
// not reported as an error.
func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	h.srv = http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	zap.L().Info("http.listening", zap.String("addr", listenAddr))

	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in‑flight requests to finish. Hijacked websocket
// connections are not tracked here; ws.WsServer.Close handles those.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn’t finish in time
	}
	return nil
}
