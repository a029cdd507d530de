package server

import (
	"encoding/json"
	"net/http"

	"price-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// runHub is the main Hub loop. It owns the client set; the relay service is
// told about every membership change so subscription edges follow suit.
func (s *RelayServer) runHub() {
	for {
		select {
		case client, ok := <-s.register:
			if !ok {
				return
			}
			s.clients[client] = struct{}{}
			s.Relay.Register(client)

		case client, ok := <-s.unregister:
			if !ok {
				return
			}
			if _, present := s.clients[client]; present {
				delete(s.clients, client)
				client.shutdown()
				s.Relay.Unregister(client)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *RelayServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warning("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		id:   uuid.New(),
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the fan-out path
		send: make(chan interface{}, 256),
	}

	s.register <- client

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage parses one inbound frame and dispatches it by action.
// Malformed frames are dropped; they do not cost the client its connection.
func (s *RelayServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Warning("Dropping malformed client command from %s: %v", client.id, err)
		return
	}

	switch cmd.Action {
	case models.ActionSubscribe:
		s.Relay.Subscribe(client, cmd.Symbols)

	case models.ActionUnsubscribe:
		s.Relay.Unsubscribe(client, cmd.Symbols)

	case models.ActionHeartbeat:
		client.touch()

	default:
		s.Logger.Warning("Unknown client action %q from %s", cmd.Action, client.id)
	}
}
