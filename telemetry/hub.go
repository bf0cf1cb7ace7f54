package telemetry

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"mecanum/drivetrain"
)

// HubPath is where Serve mounts the hub.
const HubPath = "/ws"

const (
	writeTimeout    = time.Second
	shutdownTimeout = 2 * time.Second
)

// Hub broadcasts progress records as JSON to every connected WebSocket
// client. It is an http.Handler.
type Hub struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	server                  *http.Server
	activeBackgroundWorkers sync.WaitGroup
}

// NewHub returns a hub with no clients.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: map[*websocket.Conn]bool{},
	}
}

// ServeHTTP upgrades the request and holds the connection until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[ws] = true
	h.clientsMu.Unlock()
	h.logger.Debugw("telemetry client connected", "remote", r.RemoteAddr)

	// Clients only listen. Reading surfaces the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.remove(ws)
			return
		}
	}
}

func (h *Hub) remove(ws *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[ws] {
		delete(h.clients, ws)
		//nolint:errcheck
		ws.Close()
	}
}

func (h *Hub) clientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Report writes the record to every client. Clients that fail are dropped.
// A slow client holds Report for up to the write timeout, so a drivetrain
// should get the hub through Async.
func (h *Hub) Report(p drivetrain.Progress) error {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		//nolint:errcheck
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(p); err != nil {
			h.logger.Debugw("dropping telemetry client", "error", err)
			//nolint:errcheck
			client.Close()
			delete(h.clients, client)
		}
	}
	return nil
}

// Serve listens on addr and serves the hub at HubPath in the background. It
// returns the bound address.
func (h *Hub) Serve(addr string) (net.Addr, error) {
	if h.server != nil {
		return nil, errors.New("telemetry hub already serving")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle(HubPath, h)
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: writeTimeout}

	h.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorw("telemetry server stopped", "error", err)
		}
	}, h.activeBackgroundWorkers.Done)
	h.logger.Infow("serving telemetry", "addr", lis.Addr().String(), "path", HubPath)
	return lis.Addr(), nil
}

// Close stops the server, if any, and disconnects every client.
func (h *Hub) Close() error {
	var err error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = h.server.Shutdown(ctx)
	}

	h.clientsMu.Lock()
	for client := range h.clients {
		err = multierr.Combine(err, client.Close())
		delete(h.clients, client)
	}
	h.clientsMu.Unlock()

	h.activeBackgroundWorkers.Wait()
	return err
}
