package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxFrameSize bounds a single inbound websocket message. Role data
	// moves over HTTP, so overlay frames stay small.
	maxFrameSize = 1 << 16

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// readWait is the inbound inactivity limit. Clients ping well inside
	// this window.
	readWait = 60 * time.Second
)

// Client is one connected websocket. Each client runs two goroutines: a
// read pump dispatching inbound frames, and a write pump draining the
// bounded send channel. The topology only ever sees the Sink side.
type Client struct {
	ID       string
	Username string

	conn     *websocket.Conn
	send     chan []byte
	topology *Topology
	router   *Router
	log      zerolog.Logger

	closeOnce sync.Once
}

// NewClient wraps an upgraded websocket connection. Username is the session
// identity at upgrade time, empty for anonymous clients.
func NewClient(id, username string, conn *websocket.Conn, topology *Topology, router *Router, queueSize int, logger zerolog.Logger) *Client {
	return &Client{
		ID:       id,
		Username: username,
		conn:     conn,
		send:     make(chan []byte, queueSize),
		topology: topology,
		router:   router,
		log:      logger.With().Str("component", "client").Str("client", id).Logger(),
	}
}

// Send enqueues a frame without blocking. False means the queue is full.
func (c *Client) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Run registers the client and pumps frames until the socket dies. It
// blocks until the read pump exits.
func (c *Client) Run(ctx context.Context) {
	c.topology.Connect(c.ID, c)
	go c.writePump()
	c.readPump(ctx)
}

// readPump reads frames and dispatches them by type. It owns the connection
// teardown: when it returns, the client is removed from the topology with a
// reason matching how the socket ended.
func (c *Client) readPump(ctx context.Context) {
	reason := BrokenConnection
	defer func() {
		c.topology.Disconnect(ctx, c.ID, reason)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = Away
			} else {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.log.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}
		c.dispatch(ctx, &frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame *Frame) {
	switch frame.Type {
	case TypePing:
		_ = c.topology.Send(ctx, c.ID, mustEncode(&Frame{Type: TypePong}))

	case TypeSetClientState:
		if frame.State == nil {
			c.log.Debug().Msg("set-client-state without state")
			return
		}
		// The username is the session identity from upgrade time, not
		// whatever the frame claims.
		if err := c.topology.SetState(ctx, c.ID, *frame.State, c.Username); err != nil {
			c.log.Debug().Err(err).Msg("Failed to set client state")
		}

	case TypeMessage, TypeClientMessage, TypeUserAction:
		c.router.Route(ctx, c.ID, frame)

	case TypeRequestActions:
		// Relayed to the other occupants of the sender's role; action
		// history is not stored server-side.
		c.relayToRole(ctx, frame)

	case TypeProjectResponse:
		c.topology.RoleDataResponse(frame.RequestID, frame.Data)

	default:
		c.log.Debug().Str("type", frame.Type).Msg("Unknown frame type")
	}
}

// relayToRole forwards a frame to the sender's role siblings.
func (c *Client) relayToRole(ctx context.Context, frame *Frame) {
	state, ok := c.topology.ClientState(c.ID)
	if !ok || state.Browser == nil {
		return
	}
	out := mustEncode(frame)
	for _, id := range c.topology.Occupants(state.Browser.ProjectID, state.Browser.RoleID) {
		if id == c.ID {
			continue
		}
		_ = c.topology.Send(ctx, id, out)
	}
}

// writePump drains the send channel onto the socket. It exits when the
// channel closes (topology dropped us) or a write fails.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
	// Channel closed: say goodbye before the socket drops.
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}
