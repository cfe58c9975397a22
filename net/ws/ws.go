package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/metrics"
	"github.com/Meander-Cloud/go-remote/remote"
)

// Handler upgrades HTTP requests and serves each WebSocket on the endpoint.
// The optional ?marshalling= query parameter selects the strategy.
type Handler struct {
	logPrefix        string
	selfID           string
	endpoint         *remote.Endpoint
	upgrader         *websocket.Upgrader
	writeDeadline    time.Duration
	maxMessageLength uint32
	inShutdown       atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32

	mutex   sync.Mutex
	connMap map[uint32]*Channel
}

func NewHandler(c *config.Config, endpoint *remote.Endpoint) *Handler {
	return &Handler{
		logPrefix: c.LogPrefix + "-Ws",
		selfID:    c.NodeName,
		endpoint:  endpoint,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		writeDeadline:    time.Second * time.Duration(c.TcpWriteDeadline),
		maxMessageLength: c.MaxMessageLength,
		inShutdown:       atomic.Bool{},

		connIDGen: atomic.Uint32{},

		mutex:   sync.Mutex{},
		connMap: make(map[uint32]*Channel),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.inShutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	marshalling := r.URL.Query().Get("marshalling")
	if marshalling != "" {
		_, err := marshal.Lookup(marshalling)
		if err != nil {
			log.Warn().Msgf("%s: %s: rejecting upgrade, err=%s", h.logPrefix, r.RemoteAddr, err.Error())
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		log.Warn().Msgf("%s: %s: upgrade failed, err=%s", h.logPrefix, r.RemoteAddr, err.Error())
		return
	}
	if h.maxMessageLength > 0 {
		conn.SetReadLimit(int64(h.maxMessageLength))
	}

	connID := h.connIDGen.Add(1)
	ch := newChannel(conn, connID, h.selfID, marshalling, h.writeDeadline)
	log.Info().Msgf("%s: %s: new websocket connection", h.logPrefix, ch.Descriptor())
	metrics.ConnectionOpened("ws")

	func() {
		h.mutex.Lock()
		defer h.mutex.Unlock()
		h.connMap[connID] = ch
	}()

	defer func() {
		func() {
			h.mutex.Lock()
			defer h.mutex.Unlock()
			delete(h.connMap, connID)
		}()
		ch.Close()
		metrics.ConnectionClosed("ws")
		log.Info().Msgf("%s: %s: websocket connection closed", h.logPrefix, ch.Descriptor())
	}()

	err = h.endpoint.Serve(ch)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
		log.Info().Msgf("%s: %s: read loop ended, err=%s", h.logPrefix, ch.Descriptor(), err.Error())
	}
}

func (h *Handler) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connMap)
}

// Close closes every open WebSocket.
func (h *Handler) Close() {
	if h.inShutdown.Swap(true) {
		return
	}

	var channels []*Channel
	func() {
		h.mutex.Lock()
		defer h.mutex.Unlock()
		for _, ch := range h.connMap {
			channels = append(channels, ch)
		}
	}()

	var eg errgroup.Group
	for _, ch := range channels {
		scoped := ch
		eg.Go(scoped.Close)
	}
	err := eg.Wait()
	if err != nil {
		log.Warn().Msgf("%s: error closing websockets, err=%s", h.logPrefix, err.Error())
	}
	log.Info().Msgf("%s: closed %d websockets", h.logPrefix, len(channels))
}

// Listener serves the Handler on its own HTTP server.
type Listener struct {
	handler    *Handler
	httpServer *http.Server
	listener   net.Listener
}

func NewListener(c *config.Config, endpoint *remote.Endpoint) (*Listener, error) {
	ln, err := net.Listen("tcp", c.WebSocketAddress)
	if err != nil {
		err = fmt.Errorf("%s: failed to listen on %s: %w", c.LogPrefix, c.WebSocketAddress, err)
		log.Error().Msg(err.Error())
		return nil, err
	}

	handler := NewHandler(c, endpoint)
	mux := http.NewServeMux()
	mux.Handle(c.WebSocketPath, handler)

	l := &Listener{
		handler: handler,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: time.Second * time.Duration(c.TcpDialTimeout),
		},
		listener: ln,
	}

	go func() {
		err := l.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("%s: websocket server stopped, err=%s", handler.logPrefix, err.Error())
		}
	}()

	log.Info().Msgf("%s: websocket listening on %s%s", handler.logPrefix, ln.Addr().String(), c.WebSocketPath)
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Shutdown stops accepting upgrades, then closes open WebSockets, which are
// hijacked and not tracked by the HTTP server.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.httpServer.Shutdown(ctx)
	l.handler.Close()
	return err
}
