package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerTestSecret = "handler-test-secret"

type gatewayFixture struct {
	cfg      *config.Config
	registry *Registry
	emitter  *Emitter
	server   *httptest.Server
}

func newGatewayFixture(t *testing.T, persister *fakePersister) *gatewayFixture {
	t.Helper()
	cfg := &config.Config{
		JWTConfig: config.JWTConfig{Secret: handlerTestSecret},
		HubConfig: config.HubConfig{SendBuffer: 16, VerifyTimeoutSeconds: 1},
	}
	registry := NewRegistry()
	verifier := NewVerifier(persister, cfg.HubConfig.VerifyTimeout())
	server := httptest.NewServer(NewHandler(cfg, registry, verifier))
	t.Cleanup(server.Close)
	return &gatewayFixture{
		cfg:      cfg,
		registry: registry,
		emitter:  NewEmitter(registry, nil),
		server:   server,
	}
}

func (g *gatewayFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func userToken(t *testing.T, userId string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userId,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString([]byte(handlerTestSecret))
	require.NoError(t, err)
	return s
}

func dial(t *testing.T, g *gatewayFixture, userId string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(g.wsURL()+"?token="+userToken(t, userId), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	raw, err := types.NewWireMessage(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readEvent(t *testing.T, conn *websocket.Conn) types.WebsocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := types.WebsocketMessage{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	g := newGatewayFixture(t, newFakePersister())

	_, resp, err := websocket.DefaultDialer.Dial(g.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	g := newGatewayFixture(t, newFakePersister())

	_, resp, err := websocket.DefaultDialer.Dial(g.wsURL()+"?token=not-a-token", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinDeniedForNonMember(t *testing.T) {
	g := newGatewayFixture(t, newFakePersister())
	conn := dial(t, g, "user-1")

	sendEvent(t, conn, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})

	msg := readEvent(t, conn)
	assert.Equal(t, types.EventError, msg.Event)
	assert.Empty(t, g.registry.Rooms())
}

func TestJoinAnnouncesToOthersOnly(t *testing.T) {
	p := newFakePersister()
	p.addMembership("shop_1", "user-1", "owner")
	p.addMembership("shop_1", "user-2", "agent")
	g := newGatewayFixture(t, p)

	first := dial(t, g, "user-1")
	sendEvent(t, first, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, g, "user-2")
	sendEvent(t, second, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})

	msg := readEvent(t, first)
	require.Equal(t, types.EventUserJoined, msg.Event)
	joined := types.UserJoinedMessage{}
	require.NoError(t, json.Unmarshal(msg.Data, &joined))
	assert.Equal(t, "user-2", joined.UserId)
	assert.NotZero(t, joined.Timestamp)

	// the joiner itself gets nothing: the next thing it reads is its own pong
	sendEvent(t, second, types.EventPing, nil)
	pong := readEvent(t, second)
	assert.Equal(t, types.EventPong, pong.Event)
}

func TestRepeatJoinDoesNotReannounce(t *testing.T) {
	p := newFakePersister()
	p.addMembership("shop_1", "user-1", "owner")
	p.addMembership("shop_1", "user-2", "agent")
	g := newGatewayFixture(t, p)

	first := dial(t, g, "user-1")
	sendEvent(t, first, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, g, "user-2")
	sendEvent(t, second, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	sendEvent(t, second, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 2 }, time.Second, 10*time.Millisecond)

	g.emitter.Notification("shop_1", map[string]interface{}{"kind": "marker"})

	msg := readEvent(t, first)
	assert.Equal(t, types.EventUserJoined, msg.Event)
	msg = readEvent(t, first)
	assert.Equal(t, types.EventNotification, msg.Event, "second join must not re-announce")
}

func TestTypingRelayedMinusSender(t *testing.T) {
	p := newFakePersister()
	p.addMembership("shop_1", "user-1", "owner")
	p.addMembership("shop_1", "user-2", "agent")
	g := newGatewayFixture(t, p)

	first := dial(t, g, "user-1")
	sendEvent(t, first, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, g, "user-2")
	sendEvent(t, second, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	msg := readEvent(t, first) // user:joined for user-2
	require.Equal(t, types.EventUserJoined, msg.Event)

	sendEvent(t, second, types.EventTypingStart, types.TypingMessage{ShopId: "shop_1", ConversationId: "conv-1"})

	msg = readEvent(t, first)
	require.Equal(t, types.EventTypingStart, msg.Event)
	relay := types.TypingRelayMessage{}
	require.NoError(t, json.Unmarshal(msg.Data, &relay))
	assert.Equal(t, "conv-1", relay.ConversationId)
	assert.Equal(t, "user-2", relay.UserId)

	// the sender only ever sees its own pong
	sendEvent(t, second, types.EventPing, nil)
	pong := readEvent(t, second)
	assert.Equal(t, types.EventPong, pong.Event)
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	p := newFakePersister()
	p.addMembership("shop_1", "user-1", "owner")
	p.addMembership("shop_1", "user-2", "agent")
	g := newGatewayFixture(t, p)

	first := dial(t, g, "user-1")
	sendEvent(t, first, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	second := dial(t, g, "user-2")
	sendEvent(t, second, types.EventShopJoin, types.JoinMessage{ShopId: "shop_1"})
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 2 }, time.Second, 10*time.Millisecond)

	second.Close()
	require.Eventually(t, func() bool { return len(g.registry.Members("shop_1")) == 1 }, time.Second, 10*time.Millisecond)

	// fan-out after the disconnect still reaches the remaining member
	g.emitter.OrderUpdate("shop_1", &types.Order{Id: "order-1", Status: types.OrderStatusShipped})
	msg := readEvent(t, first)
	for msg.Event == types.EventUserJoined {
		msg = readEvent(t, first)
	}
	assert.Equal(t, types.EventOrderUpdate, msg.Event)
}

func TestPingPong(t *testing.T) {
	g := newGatewayFixture(t, newFakePersister())
	conn := dial(t, g, "user-1")

	before := time.Now().UnixMilli()
	sendEvent(t, conn, types.EventPing, nil)
	msg := readEvent(t, conn)
	require.Equal(t, types.EventPong, msg.Event)

	pong := types.PongMessage{}
	require.NoError(t, json.Unmarshal(msg.Data, &pong))
	assert.GreaterOrEqual(t, pong.Timestamp, before)
}
