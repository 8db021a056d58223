package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopwire/shopwire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	shopIds  []string
	events   []string
	payloads []json.RawMessage
}

func (f *fakeRelay) Publish(shopId, event string, payload json.RawMessage) error {
	f.shopIds = append(f.shopIds, shopId)
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestEmitStampsServerTimestamp(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("user-1")
	r.Join("shop_1", c)
	e := NewEmitter(r, nil)

	before := time.Now().UnixMilli()
	e.Emit("shop_1", types.EventOrderUpdate, map[string]interface{}{"status": "shipped", "timestamp": 1})
	after := time.Now().UnixMilli()

	got := receivedEvents(c)
	require.Len(t, got, 1)
	assert.Equal(t, types.EventOrderUpdate, got[0].Event)

	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(got[0].Data, &payload))
	assert.Equal(t, "shipped", payload["status"])

	ts := int64(payload["timestamp"].(float64))
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestEmitToMissingRoomIsNoOp(t *testing.T) {
	r := NewRegistry()
	e := NewEmitter(r, nil)

	// must neither panic nor create a room
	e.OrderUpdate("shop_404", &types.Order{Id: "order-1", Status: types.OrderStatusShipped})
	assert.Empty(t, r.Rooms())
}

func TestEmitReachesAllRoomMembers(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient("user-1")
	c2 := newTestClient("user-2")
	outsider := newTestClient("user-3")
	r.Join("shop_1", c1)
	r.Join("shop_1", c2)
	r.Join("shop_2", outsider)
	e := NewEmitter(r, nil)

	e.NewMessage("shop_1", &types.ChatMessage{Id: "msg-1", ShopId: "shop_1", Body: "hello"})

	for _, c := range []*Client{c1, c2} {
		got := receivedEvents(c)
		require.Len(t, got, 1)
		assert.Equal(t, types.EventMessageNew, got[0].Event)
	}
	assert.Empty(t, receivedEvents(outsider))
}

func TestEmitterWrapperEventNames(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("user-1")
	r.Join("shop_1", c)
	e := NewEmitter(r, nil)

	e.NewMessage("shop_1", &types.ChatMessage{Id: "m"})
	e.ConversationUpdate("shop_1", &types.Conversation{Id: "c"})
	e.OrderUpdate("shop_1", &types.Order{Id: "o"})
	e.Notification("shop_1", map[string]interface{}{"kind": "stock"})

	got := receivedEvents(c)
	require.Len(t, got, 4)
	assert.Equal(t, types.EventMessageNew, got[0].Event)
	assert.Equal(t, types.EventConversationUpdate, got[1].Event)
	assert.Equal(t, types.EventOrderUpdate, got[2].Event)
	assert.Equal(t, types.EventNotification, got[3].Event)
}

func TestEmitPublishesToRelay(t *testing.T) {
	r := NewRegistry()
	relay := &fakeRelay{}
	e := NewEmitter(r, relay)

	// published even without local members, other processes may have some
	e.Notification("shop_1", map[string]interface{}{"kind": "stock"})

	require.Len(t, relay.events, 1)
	assert.Equal(t, "shop_1", relay.shopIds[0])
	assert.Equal(t, types.EventNotification, relay.events[0])

	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(relay.payloads[0], &payload))
	assert.Contains(t, payload, "timestamp")
}

func TestDeliverKeepsPayloadVerbatim(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("user-1")
	r.Join("shop_1", c)
	e := NewEmitter(r, nil)

	// payload arriving from the backplane was stamped by the origin process
	e.Deliver("shop_1", types.EventNotification, json.RawMessage(`{"kind":"stock","timestamp":42}`))

	got := receivedEvents(c)
	require.Len(t, got, 1)
	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(got[0].Data, &payload))
	assert.Equal(t, float64(42), payload["timestamp"])
}
