package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/types"
	"github.com/tidwall/buntdb"
)

// BuntDBPersist is the single-file storage backend, intended for development
// and small single-process deployments.
type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, errors.New("no persistence dsn configured")
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db: db}, nil
}

func teamKey(shopId, userId string) string {
	return fmt.Sprintf("team:%s:%s", shopId, userId)
}

// FindTeamMemberships checks the context only on entry: buntdb transactions are
// synchronous in-memory reads with no cancellation point, so the caller's
// deadline cannot interrupt the view itself.
func (p *BuntDBPersist) FindTeamMemberships(ctx context.Context, shopId, userId string) ([]types.TeamMembership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	memberships := make([]types.TeamMembership, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(teamKey(shopId, userId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		m := types.TeamMembership{}
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return err
		}
		memberships = append(memberships, m)
		return nil
	})
	return memberships, err
}

func (p *BuntDBPersist) StoreTeamMembership(m types.TeamMembership) error {
	val, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(teamKey(m.ShopId, m.UserId), string(val), nil)
		return err
	})
}

func (p *BuntDBPersist) DeleteTeamMembership(shopId, userId string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(teamKey(shopId, userId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (p *BuntDBPersist) GetTeamMemberships(shopId string) ([]types.TeamMembership, error) {
	memberships := make([]types.TeamMembership, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(fmt.Sprintf("team:%s:*", shopId), func(key, val string) bool {
			m := types.TeamMembership{}
			if err := json.Unmarshal([]byte(val), &m); err == nil {
				memberships = append(memberships, m)
			}
			return true
		})
	})
	return memberships, err
}

func (p *BuntDBPersist) storeJSON(key string, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(val), nil)
		return err
	})
}

func (p *BuntDBPersist) getJSON(key string, v interface{}) error {
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), v)
	})
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) StoreChatMessage(msg *types.ChatMessage) error {
	return p.storeJSON("message:"+msg.Id, msg)
}

func (p *BuntDBPersist) GetConversation(conv *types.Conversation) error {
	if conv.Id == "" {
		return fmt.Errorf("no conversation id")
	}
	return p.getJSON("conversation:"+conv.Id, conv)
}

func (p *BuntDBPersist) StoreConversation(conv *types.Conversation) error {
	return p.storeJSON("conversation:"+conv.Id, conv)
}

func (p *BuntDBPersist) GetOrder(order *types.Order) error {
	if order.Id == "" {
		return fmt.Errorf("no order id")
	}
	return p.getJSON("order:"+order.Id, order)
}

func (p *BuntDBPersist) StoreOrder(order *types.Order) error {
	return p.storeJSON("order:"+order.Id, order)
}

func (p *BuntDBPersist) StoreNotification(n *types.Notification) error {
	return p.storeJSON("notification:"+n.Id, n)
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
