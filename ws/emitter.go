package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/types"
)

// Relay publishes fanned-out events to the other processes of a horizontally
// scaled deployment. Implemented by the backplane package; nil means
// single-process delivery.
type Relay interface {
	Publish(shopId, event string, payload json.RawMessage) error
}

// Emitter fans domain events out to every connection in a shop's room. The REST
// command handlers call the typed helpers after their database write succeeded;
// the socket event is a notification, never the source of truth, and delivery
// is at-most-once.
//
// The emitter requires its registry at construction time, there is no
// half-initialized state.
type Emitter struct {
	registry *Registry
	relay    Relay
}

func NewEmitter(registry *Registry, relay Relay) *Emitter {
	if registry == nil {
		panic("ws: emitter requires a registry")
	}
	return &Emitter{registry: registry, relay: relay}
}

// Emit stamps the payload with the current server time and delivers it to every
// member of the shop's room. A missing room is a silent no-op. With a relay
// configured the stamped payload is also published for the other processes.
func (e *Emitter) Emit(shopId, event string, payload interface{}) {
	stamped, err := stampTimestamp(payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event payload", "event", event, "error", err)
		return
	}
	e.Deliver(shopId, event, stamped)
	if e.relay != nil {
		if err := e.relay.Publish(shopId, event, stamped); err != nil {
			globals.AppLogger.Warn("could not publish event to backplane", "event", event, "error", err)
		}
	}
}

// Deliver hands an already-stamped payload to the local members of the shop's
// room. Also the entry point for events arriving from the backplane.
func (e *Emitter) Deliver(shopId, event string, payload json.RawMessage) {
	members := e.registry.Members(shopId)
	if len(members) == 0 {
		globals.AppLogger.Debug("no members in room, dropping event", "room", RoomName(shopId), "event", event)
		return
	}
	raw, err := json.Marshal(types.WebsocketMessage{Event: event, Data: payload})
	if err != nil {
		globals.AppLogger.Error("could not marshal wire message", "event", event, "error", err)
		return
	}
	for _, c := range members {
		c.Enqueue(raw)
	}
}

// NewMessage broadcasts a freshly stored chat message to the shop's room.
func (e *Emitter) NewMessage(shopId string, msg *types.ChatMessage) {
	e.Emit(shopId, types.EventMessageNew, msg)
}

// ConversationUpdate broadcasts a conversation change to the shop's room.
func (e *Emitter) ConversationUpdate(shopId string, conv *types.Conversation) {
	e.Emit(shopId, types.EventConversationUpdate, conv)
}

// OrderUpdate broadcasts an order change to the shop's room.
func (e *Emitter) OrderUpdate(shopId string, order *types.Order) {
	e.Emit(shopId, types.EventOrderUpdate, order)
}

// Notification broadcasts a generic notification to the shop's room.
func (e *Emitter) Notification(shopId string, payload interface{}) {
	e.Emit(shopId, types.EventNotification, payload)
}

// stampTimestamp merges the server time (milliseconds since epoch) into the
// payload object, overriding any timestamp key the caller supplied.
func stampTimestamp(payload interface{}) (json.RawMessage, error) {
	m := make(map[string]interface{})
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("event payload must be an object: %w", err)
		}
	}
	m["timestamp"] = time.Now().UnixMilli()
	return json.Marshal(m)
}
