// Package wsbridge implements the WebSocket bridge: it
// authenticates inbound connections the same way the HTTP proxy does,
// selects a healthy WebSocket-capable backend, and relays frames in both
// directions until either side closes.
package wsbridge

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tos-network/rpc-gateway/internal/credential"
	"github.com/tos-network/rpc-gateway/internal/routing"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// TableSource returns the currently active routing-table snapshot,
// satisfied by *supervisor.Supervisor.
type TableSource interface {
	Table() *routing.Table
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dialer abstracts backend connection so tests can substitute a fake
// dial without opening real sockets.
type dialer interface {
	Dial(url string) (*websocket.Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// Server handles WebSocket upgrades on the dedicated WS port.
type Server struct {
	tables TableSource
	gate   credential.Gate
	dial   dialer

	server *http.Server
	bind   string
}

// NewServer builds a Server bound to bind (WSPort from config).
func NewServer(bind string, tables TableSource, gate credential.Gate) *Server {
	return &Server{tables: tables, gate: gate, dial: gorillaDialer{}, bind: bind}
}

// Start begins serving WebSocket upgrade requests.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	s.server = &http.Server{Addr: s.bind, Handler: mux}
	util.Infof("WebSocket bridge listening on %s", s.bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("WebSocket bridge server error: %v", err)
		}
	}()
	return nil
}

// Stop closes the WebSocket bridge listener. In-flight relayed
// connections are left to drain on their own via their backend/client
// close propagation.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// handleUpgrade authenticates the caller's api-key and routes an inbound
// WebSocket connection to a healthy backend before upgrading.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api-key")
	if apiKey == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	_, verdict, err := s.gate.Validate(r.Context(), apiKey)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	switch verdict {
	case credential.Unknown:
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	case credential.RateLimited:
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	table := s.tables.Table()
	label, backendURL, ok := table.SelectWS()
	if !ok {
		http.Error(w, "No healthy WebSocket backends available", http.StatusServiceUnavailable)
		return
	}

	backendConn, err := s.dial.Dial(backendURL)
	if err != nil {
		util.Errorf("WebSocket: failed to connect to backend %s (%s): %v", label, backendURL, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warnf("WebSocket upgrade error: %v", err)
		backendConn.Close()
		return
	}

	util.Infof("WebSocket: %s connected to backend %s", r.RemoteAddr, label)
	relay(clientConn, backendConn, r.RemoteAddr, label)
}

// relay pumps frames in both directions until one side ends, then
// propagates a Close to the other side.
func relay(client, backend *websocket.Conn, remoteAddr, backendLabel string) {
	defer client.Close()
	defer backend.Close()

	client.SetPingHandler(func(data string) error {
		return backend.WriteMessage(websocket.PingMessage, []byte(data))
	})
	client.SetPongHandler(func(data string) error {
		return backend.WriteMessage(websocket.PongMessage, []byte(data))
	})
	backend.SetPingHandler(func(data string) error {
		return client.WriteMessage(websocket.PingMessage, []byte(data))
	})
	backend.SetPongHandler(func(data string) error {
		return client.WriteMessage(websocket.PongMessage, []byte(data))
	})

	clientDone := make(chan struct{})
	backendDone := make(chan struct{})

	go func() {
		defer close(clientDone)
		pump(client, backend)
	}()
	go func() {
		defer close(backendDone)
		pump(backend, client)
	}()

	select {
	case <-clientDone:
		backend.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-backendDone:
		client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	util.Infof("WebSocket: %s disconnected from backend %s", remoteAddr, backendLabel)
}

// pump relays Text and Binary frames verbatim from src to dst until src
// errors or dst rejects a write. Ping, Pong, and Close frames never reach
// here: gorilla's read loop consumes them via the handlers installed in
// relay before ReadMessage returns, and a Close ends the loop through its
// read error.
func pump(src, dst *websocket.Conn) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
