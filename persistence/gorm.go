package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, errors.New("no persistence dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(
		&types.TeamMembership{},
		&types.ChatMessage{},
		&types.Conversation{},
		&types.Order{},
		&types.Notification{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) FindTeamMemberships(ctx context.Context, shopId, userId string) ([]types.TeamMembership, error) {
	memberships := make([]types.TeamMembership, 0)
	err := p.db.WithContext(ctx).Where("shop_id = ? AND user_id = ?", shopId, userId).Find(&memberships).Error
	return memberships, err
}

func (p *GormPersist) StoreTeamMembership(m types.TeamMembership) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func (p *GormPersist) DeleteTeamMembership(shopId, userId string) error {
	return p.db.Where("shop_id = ? AND user_id = ?", shopId, userId).Delete(&types.TeamMembership{}).Error
}

func (p *GormPersist) GetTeamMemberships(shopId string) ([]types.TeamMembership, error) {
	memberships := make([]types.TeamMembership, 0)
	err := p.db.Where("shop_id = ?", shopId).Find(&memberships).Error
	return memberships, err
}

func (p *GormPersist) StoreChatMessage(msg *types.ChatMessage) error {
	return p.db.Create(msg).Error
}

func (p *GormPersist) GetConversation(conv *types.Conversation) error {
	err := p.db.First(conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreConversation(conv *types.Conversation) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(conv).Error
}

func (p *GormPersist) GetOrder(order *types.Order) error {
	err := p.db.First(order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreOrder(order *types.Order) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(order).Error
}

func (p *GormPersist) StoreNotification(n *types.Notification) error {
	return p.db.Create(n).Error
}

func (p *GormPersist) Close() error {
	return nil
}
