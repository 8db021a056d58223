package types

import "encoding/json"

// Wire event names exchanged with clients. The client-to-server ones are handled
// in the websocket read loop, the server-to-client ones are produced by the room
// registry, the emitter and the REST command handlers.
const (
	EventShopJoin    = "shop:join"
	EventShopLeave   = "shop:leave"
	EventUserJoined  = "user:joined"
	EventError       = "error"
	EventPing        = "ping"
	EventPong        = "pong"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"

	EventMessageNew         = "message:new"
	EventConversationUpdate = "conversation:update"
	EventOrderUpdate        = "order:update"
	EventNotification       = "notification"
)

// JSON-serialized WebsocketMessage is what is actually sent via the websocket connection.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWireMessage wraps a payload in the wire envelope.
func NewWireMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}

// The different payloads transferred from the client to here.

// JoinMessage asks to join (or leave) the room of one shop.
type JoinMessage struct {
	ShopId string `json:"shopId" mapstructure:"shopId"`
}

// TypingMessage signals typing activity within one conversation of a shop.
type TypingMessage struct {
	ShopId         string `json:"shopId" mapstructure:"shopId"`
	ConversationId string `json:"conversationId" mapstructure:"conversationId"`
}

// Server-to-client payloads for the ephemeral events.

type UserJoinedMessage struct {
	UserId    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type PongMessage struct {
	Timestamp int64 `json:"timestamp"`
}

type TypingRelayMessage struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
}
