package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/shopwire/shopwire/auth"
	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/types"
)

const (
	maxMessageSize = 4096
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second
)

// Client is a middleman between one websocket connection and the room registry.
// The user id and role were verified on the handshake and stay attached for the
// connection's lifetime.
type Client struct {
	Id     string
	UserId string
	Role   string

	conn     *websocket.Conn
	registry *Registry
	verifier *Verifier

	// Buffered channel of outbound messages.
	send chan []byte

	// ctx is cancelled on Close, aborting in-flight work (the join
	// verification query) the moment the connection is gone.
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, claims *auth.Claims, registry *Registry, verifier *Verifier, sendBuffer int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Id:       uuid.NewString(),
		UserId:   claims.UserId,
		Role:     claims.Role,
		conn:     conn,
		registry: registry,
		verifier: verifier,
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Close tears the connection down. Safe to call from any goroutine, any number
// of times; the send channel is never closed, writers check done instead.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Enqueue hands a marshalled wire message to the write loop. It never blocks:
// a closed connection or a full send buffer drops the message (fan-out is
// at-most-once, best effort).
func (c *Client) Enqueue(raw []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	case <-c.done:
		return false
	default:
		globals.AppLogger.Warn("send buffer full, dropping event", "client", c.Id)
		return false
	}
}

// SendEvent marshals an event for this connection only (error replies, pong).
func (c *Client) SendEvent(event string, payload interface{}) {
	raw, err := types.NewWireMessage(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	c.Enqueue(raw)
}

// ReadLoop pumps messages from the websocket connection into the event
// handlers.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.Close()
		c.registry.Disconnect(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Info("ws closed unexpected", "client", c.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Info("could not unmarshal ws message, closing", "client", c.Id, "error", err)
			return
		}

		switch message.Event {
		case types.EventShopJoin:
			msg := types.JoinMessage{}
			if !decodePayload(message.Data, &msg) {
				continue
			}
			c.handleJoin(msg.ShopId)

		case types.EventShopLeave:
			msg := types.JoinMessage{}
			if !decodePayload(message.Data, &msg) {
				continue
			}
			if msg.ShopId != "" {
				c.registry.Leave(msg.ShopId, c)
			}

		case types.EventPing:
			c.SendEvent(types.EventPong, types.PongMessage{Timestamp: time.Now().UnixMilli()})

		case types.EventTypingStart, types.EventTypingStop:
			msg := types.TypingMessage{}
			if !decodePayload(message.Data, &msg) {
				continue
			}
			c.handleTyping(message.Event, msg)

		default:
			globals.AppLogger.Debug("ignoring unknown event", "event", message.Event, "client", c.Id)
		}
	}
}

// decodePayload weakly decodes an incoming data object into the given payload
// struct. Malformed payloads are dropped, never fatal.
func decodePayload(data json.RawMessage, out interface{}) bool {
	payload := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			globals.AppLogger.Debug("could not unmarshal payload", "error", err)
			return false
		}
	}
	if err := mapstructure.WeakDecode(payload, out); err != nil {
		globals.AppLogger.Debug("could not decode payload", "error", err)
		return false
	}
	return true
}

// handleJoin runs the access check and, on a fresh join, announces the new
// member to the rest of the room. The verification suspends this connection's
// read loop only and is bound to the connection's context, so closing the
// connection aborts an in-flight query; a failed or errored check leaves the
// connection alive but un-joined.
func (c *Client) handleJoin(shopId string) {
	if shopId == "" {
		c.SendEvent(types.EventError, types.ErrorMessage{Message: "shopId is required"})
		return
	}
	if err := c.verifier.Allowed(c.ctx, shopId, c.UserId); err != nil {
		c.SendEvent(types.EventError, types.ErrorMessage{Message: "not authorized for shop"})
		return
	}
	if c.registry.Join(shopId, c) {
		c.registry.BroadcastExcept(shopId, c, types.EventUserJoined, types.UserJoinedMessage{
			UserId:    c.UserId,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// handleTyping relays a typing signal to the other members of the room. Signals
// for rooms the sender has not joined are silently dropped, as is everything
// else about typing: best effort, no acknowledgement.
func (c *Client) handleTyping(event string, msg types.TypingMessage) {
	if msg.ShopId == "" || !c.registry.IsMember(msg.ShopId, c) {
		return
	}
	c.registry.BroadcastExcept(msg.ShopId, c, event, types.TypingRelayMessage{
		ConversationId: msg.ConversationId,
		UserId:         c.UserId,
	})
}

// WriteLoop pumps messages from the send channel to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case raw := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop", "client", c.Id)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop", "client", c.Id)
				return
			}

		case <-c.done:
			return
		}
	}
}
