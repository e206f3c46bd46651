package http_server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatrelay/internal/http/roomhandler"
	"chatrelay/internal/relay"
	"chatrelay/internal/rooms"
	"chatrelay/internal/webpubsub"
	"chatrelay/internal/ws"
)

type httpServer struct {
	listenPort uint16
	srv        http.Server
	ln         net.Listener
	store      rooms.Store
	svc        *relay.Service
	wsSrv      *ws.Server
	webhook    gin.HandlerFunc
	ctx        context.Context
}

// NewHttpServer wires the REST control surface plus whichever transport
// entry points exist: wsSrv is nil in managed mode, webhook is nil in
// self-host mode.
func NewHttpServer(ctx context.Context, listenPort uint16, store rooms.Store, svc *relay.Service, wsSrv *ws.Server, wpsClient *webpubsub.Client) *httpServer {
	h := &httpServer{
		listenPort: listenPort,
		store:      store,
		svc:        svc,
		wsSrv:      wsSrv,
		ctx:        ctx,
	}
	if wpsClient != nil {
		h.webhook = webpubsub.WebhookHandler(wpsClient, svc)
	}
	return h
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	routerEngine := gin.New()
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Static files for the web UI
	routerEngine.StaticFile("", "public/index.html")
	routerEngine.StaticFile("/script.js", "public/script.js")

	if h.wsSrv != nil {
		routerEngine.GET("/ws", h.wsSrv.Handle)
	}
	if h.webhook != nil {
		routerEngine.POST("/eventhandler", h.webhook)
		routerEngine.OPTIONS("/eventhandler", h.webhook)
	}

	// REST API
	rh := roomhandler.New(h.store, h.svc)
	rh.Register(routerEngine)

	h.srv = http.Server{
		Handler: routerEngine,
	}

	return h.srv.Serve(h.ln)
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}
