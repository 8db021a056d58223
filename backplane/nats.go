// Package backplane bridges room fan-out across processes. Room membership is
// process-local by design; a horizontally scaled deployment needs every
// process's emitter to publish to a shared channel and every process to
// re-deliver remote events to its own room members. This is that channel,
// built on NATS. Without a configured backplane the gateway is correct for a
// single-process deployment only.
package backplane

import (
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/nats-io/nats.go"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/globals"
)

const seenCacheSize = 4096

// envelope is the message exchanged between processes. The payload is already
// stamped with the origin process's server timestamp.
type envelope struct {
	Id      string          `json:"id"`
	Origin  string          `json:"origin"`
	ShopId  string          `json:"shopId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Deliverer re-delivers a remote event to the local room members. Implemented
// by ws.Emitter.Deliver.
type Deliverer interface {
	Deliver(shopId, event string, payload json.RawMessage)
}

// Backplane publishes local fan-outs to NATS and subscribes to every room
// subject. Events that originated locally come back over the subscription and
// are suppressed by origin id; the seen-id cache additionally guards against
// duplicate delivery on redelivered or mirrored subjects.
type Backplane struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	origin string
	seen   *lru.ARCCache
}

func New(cfg *config.Config, origin string) (*Backplane, error) {
	if cfg.BackplaneConfig.URL == "" {
		return nil, nil // not configured, single-process delivery
	}
	nc, err := nats.Connect(cfg.BackplaneConfig.URL,
		nats.Name("shopwire-"+origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}
	seen, err := lru.NewARC(seenCacheSize)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Backplane{
		nc:     nc,
		prefix: cfg.BackplaneConfig.Prefix(),
		origin: origin,
		seen:   seen,
	}, nil
}

func (b *Backplane) subject(shopId string) string {
	return fmt.Sprintf("%s.%s", b.prefix, shopId)
}

// Publish implements ws.Relay.
func (b *Backplane) Publish(shopId, event string, payload json.RawMessage) error {
	env := envelope{
		Origin:  b.origin,
		ShopId:  shopId,
		Event:   event,
		Payload: payload,
	}
	env.Id = envelopeId(env)
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject(shopId), raw)
}

// Start subscribes to all room subjects and re-delivers remote events locally.
func (b *Backplane) Start(deliverer Deliverer) error {
	sub, err := b.nc.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		env := envelope{}
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			globals.AppLogger.Warn("could not unmarshal backplane message", "error", err)
			return
		}
		if !b.shouldDeliver(env) {
			return
		}
		deliverer.Deliver(env.ShopId, env.Event, env.Payload)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	globals.AppLogger.Info("backplane subscribed", "subject", b.prefix+".>", "origin", b.origin)
	return nil
}

// shouldDeliver suppresses events this process published itself and anything
// already delivered once.
func (b *Backplane) shouldDeliver(env envelope) bool {
	if env.Origin == b.origin {
		return false
	}
	if env.Id != "" {
		if b.seen.Contains(env.Id) {
			return false
		}
		b.seen.Add(env.Id, struct{}{})
	}
	return true
}

func (b *Backplane) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.nc.Close()
}

func envelopeId(env envelope) string {
	h, err := hashstructure.Hash(struct {
		Origin  string
		ShopId  string
		Event   string
		Payload string
		Nanos   int64
	}{env.Origin, env.ShopId, env.Event, string(env.Payload), time.Now().UnixNano()}, hashstructure.FormatV2, nil)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", h)
}
