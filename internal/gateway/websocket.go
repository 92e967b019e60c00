package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/handshake"
	"github.com/mandelmonkey/latency-test/internal/models"
)

// ConnectionConfig holds WebSocket tuning for measurement connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the WebSocket settings used when none
// are configured. Browsers anywhere may run the latency test, so origins
// are not restricted.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// WebSocketHandler binds the wire contract to message-based socket
// events. Each frame is one request; the reply goes back on the same
// connection. The whole handshake normally runs over a single
// connection, but tokens stay valid across reconnects until they expire.
type WebSocketHandler struct {
	engine   HandshakeEngine
	app      LatencyApp
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// NewWebSocketHandler creates the WebSocket gateway.
func NewWebSocketHandler(engine HandshakeEngine, app LatencyApp, config ConnectionConfig) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
		app:    app,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// RegisterRoutes registers the WebSocket binding on mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/latency", h.HandleLatencyConnection)
}

// HandleLatencyConnection upgrades the request and serves measurement
// frames until the client disconnects.
func (h *WebSocketHandler) HandleLatencyConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &wsConnection{
		id:            uuid.NewString(),
		conn:          conn,
		handler:       h,
		clientAddress: clientAddress(r),
	}

	log.Debug().
		Str("connection_id", c.id).
		Str("client_address", c.clientAddress).
		Msg("WebSocket connection established")

	go c.pingLoop(r.Context())
	c.readLoop(r.Context())
}

// wsConnection is one measuring client's socket. Writes go through a
// mutex because the ping loop and the read loop both send frames.
type wsConnection struct {
	id            string
	conn          *websocket.Conn
	handler       *WebSocketHandler
	clientAddress string

	writeMu sync.Mutex
	closed  bool
}

func (c *wsConnection) readLoop(ctx context.Context) {
	defer c.close()

	cfg := c.handler.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("WebSocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		c.send(c.handler.dispatch(ctx, &msg, c.clientAddress))
	}
}

func (c *wsConnection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) send(msg ServerMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.id).Msg("WebSocket write failed")
	}
}

func (c *wsConnection) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
		log.Debug().Str("connection_id", c.id).Msg("WebSocket connection closed")
	}
}

// dispatch routes one client frame to the matching operation and shapes
// the reply frame.
func (h *WebSocketHandler) dispatch(ctx context.Context, msg *ClientMessage, clientAddr string) ServerMessage {
	switch msg.Type {
	case MessageTypeStart:
		resp, err := h.engine.StartSession(ctx, handshake.StartSessionRequest{
			UserID:        msg.UserID,
			ClientAddress: clientAddr,
		})
		if err != nil {
			return engineErrorMessage(err)
		}
		return dataMessage(MessageTypeStarted, resp)

	case MessageTypeReport:
		resp, err := h.engine.ReportRound(ctx, handshake.ReportRoundRequest{
			UserID: msg.UserID,
			Token:  msg.Token,
		})
		if err != nil {
			return engineErrorMessage(err)
		}
		if resp.Completed {
			return dataMessage(MessageTypeComplete, resp)
		}
		return dataMessage(MessageTypeProgress, resp)

	case MessageTypeLatency:
		if msg.UserID == "" {
			return errorMessage(ErrorCodeInvalidRequest, "user_id is required")
		}
		records, err := h.app.LatenciesByUser(ctx, msg.UserID)
		if err != nil {
			return engineErrorMessage(err)
		}
		if records == nil {
			records = []models.RegionLatencyRecord{}
		}
		return dataMessage(MessageTypeLatency, records)

	case MessageTypeClosest:
		if msg.UserID == "" {
			return errorMessage(ErrorCodeInvalidRequest, "user_id is required")
		}
		closest, err := h.app.ClosestRegion(ctx, msg.UserID)
		if err != nil {
			return engineErrorMessage(err)
		}
		return dataMessage(MessageTypeClosest, closest)

	default:
		return errorMessage(ErrorCodeInvalidRequest, "unknown message type")
	}
}

func dataMessage(t MessageType, v any) ServerMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal server message")
		return errorMessage(ErrorCodeInternal, "internal error")
	}
	return ServerMessage{Type: t, Data: data}
}
