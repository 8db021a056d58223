package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/types"
)

// ErrNotFound is returned by the Get* methods when no matching record exists.
var ErrNotFound = errors.New("record not found")

type Persister interface {
	// FindTeamMemberships is the authorization query behind shop:join: it returns
	// every membership record for the given shop and user (at most one with the
	// unique index in place, but callers only test for emptiness).
	FindTeamMemberships(ctx context.Context, shopId, userId string) ([]types.TeamMembership, error)
	StoreTeamMembership(m types.TeamMembership) error
	DeleteTeamMembership(shopId, userId string) error
	GetTeamMemberships(shopId string) ([]types.TeamMembership, error)

	StoreChatMessage(msg *types.ChatMessage) error
	GetConversation(conv *types.Conversation) error
	StoreConversation(conv *types.Conversation) error
	GetOrder(order *types.Order) error
	StoreOrder(order *types.Order) error
	StoreNotification(n *types.Notification) error

	Close() error
}

// NewPersister creates the configured persistence backend.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "postgres", "sqlite":
		return NewGormPersister(cfg)
	case "buntdb":
		return NewBuntPersister(cfg)
	case "":
		return nil, errors.New("no persistence configured")
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
