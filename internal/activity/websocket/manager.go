package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
)

const (
	MessageTypeConnected = "connected"
	MessageTypeActivity  = "activity"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var ErrClosed = errors.New("activity hub closed")

// Message is the frame exchanged with feed clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Manager handles WebSocket connections and message routing
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID          string
	Actor       auth.Actor
	Conn        *websocket.Conn
	Send        chan Message
	ConnectedAt time.Time
	UserAgent   string
	IPAddress   string
}

// envelope is a message plus the client account it concerns.
type envelope struct {
	clientID uuid.UUID
	message  Message
}

// reply is a message addressed to a single connection.
type reply struct {
	conn    *Connection
	message Message
}

// Hub owns the connection set and the Send channels. Once a connection is
// registered only run sends on or closes its Send channel.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan envelope
	direct      chan reply
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	logger      *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan envelope, 256),
		direct:      make(chan reply, 64),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		logger:      logger,
	}
	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades the request and streams activity the actor may see.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, actor auth.Actor) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Actor:       actor,
		Conn:        conn,
		Send:        make(chan Message, 64),
		ConnectedAt: time.Now(),
		UserAgent:   r.Header.Get("User-Agent"),
		IPAddress:   r.RemoteAddr,
	}

	connection.Send <- Message{
		Type:      MessageTypeConnected,
		Data:      map[string]string{"connection_id": connection.ID},
		Timestamp: time.Now().UTC(),
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.stop:
		_ = conn.Close()
		return nil, ErrClosed
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// Publish queues msg for every connection allowed to see clientID's items.
func (m *Manager) Publish(clientID uuid.UUID, msg Message) error {
	select {
	case <-m.hub.stop:
		return ErrClosed
	default:
	}

	select {
	case m.hub.broadcast <- envelope{clientID: clientID, message: msg}:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close stops the hub; open connections receive a close frame.
func (m *Manager) Close() {
	select {
	case <-m.hub.stop:
		return
	default:
		close(m.hub.stop)
	}
}

func (m *Manager) drop(conn *Connection) {
	m.mu.Lock()
	delete(m.connections, conn.ID)
	m.mu.Unlock()

	select {
	case m.hub.unregister <- conn:
	case <-m.hub.stop:
	}
	_ = conn.Conn.Close()
}

// readPump only answers pings; the feed is server to client.
func (m *Manager) readPump(conn *Connection) {
	defer m.drop(conn)

	conn.Conn.SetReadLimit(512)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("Activity feed connection error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePing {
			pong := reply{conn: conn, message: Message{Type: MessageTypePong, Timestamp: time.Now().UTC()}}
			select {
			case m.hub.direct <- pong:
			case <-m.hub.stop:
				return
			}
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("Activity connection registered",
				zap.String("connection_id", conn.ID),
				zap.String("actor_id", conn.Actor.ID),
			)

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
			}

		case r := <-h.direct:
			if _, ok := h.connections[r.conn]; !ok {
				continue
			}
			select {
			case r.conn.Send <- r.message:
			default:
			}

		case env := <-h.broadcast:
			for conn := range h.connections {
				if !conn.Actor.CanSee(env.clientID) {
					continue
				}
				select {
				case conn.Send <- env.message:
				default:
					// slow consumer
					close(conn.Send)
					delete(h.connections, conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}
