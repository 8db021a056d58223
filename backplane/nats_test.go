package backplane

import (
	"encoding/json"
	"testing"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackplane(t *testing.T, origin string) *Backplane {
	t.Helper()
	seen, err := lru.NewARC(16)
	require.NoError(t, err)
	return &Backplane{prefix: "shopwire.rooms", origin: origin, seen: seen}
}

func TestShouldDeliverSkipsOwnEvents(t *testing.T) {
	b := newTestBackplane(t, "proc-a")

	env := envelope{Id: "1", Origin: "proc-a", ShopId: "shop_1", Event: "notification"}
	assert.False(t, b.shouldDeliver(env))

	env.Origin = "proc-b"
	assert.True(t, b.shouldDeliver(env))
}

func TestShouldDeliverDeduplicatesById(t *testing.T) {
	b := newTestBackplane(t, "proc-a")

	env := envelope{Id: "42", Origin: "proc-b", ShopId: "shop_1", Event: "order:update"}
	assert.True(t, b.shouldDeliver(env))
	assert.False(t, b.shouldDeliver(env))

	env.Id = "43"
	assert.True(t, b.shouldDeliver(env))
}

func TestEnvelopeIdUnique(t *testing.T) {
	env := envelope{Origin: "proc-a", ShopId: "shop_1", Event: "notification", Payload: json.RawMessage(`{"a":1}`)}
	first := envelopeId(env)
	second := envelopeId(env)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second, "ids carry a nanosecond component")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := envelope{
		Id:      "1",
		Origin:  "proc-a",
		ShopId:  "shop_1",
		Event:   "message:new",
		Payload: json.RawMessage(`{"body":"hi","timestamp":7}`),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got := envelope{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, env, got)
}
