package types

import (
	"time"

	"gorm.io/datatypes"
)

// TeamMembership is the persisted authorization record: it entitles a user to
// act on behalf of a shop. Live room membership is derived from it on shop:join
// but never written back.
type TeamMembership struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	ShopId    string    `json:"shop_id" gorm:"uniqueIndex:idx_team_shop_user"`
	UserId    string    `json:"user_id" gorm:"uniqueIndex:idx_team_shop_user"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"-"`
}

// ChatMessage is one message within a support conversation.
type ChatMessage struct {
	Id             string    `json:"id" gorm:"primaryKey"`
	ShopId         string    `json:"shop_id" gorm:"index"`
	ConversationId string    `json:"conversation_id" gorm:"index"`
	SenderId       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is a customer support thread belonging to one shop.
type Conversation struct {
	Id         string                                `json:"id" gorm:"primaryKey"`
	ShopId     string                                `json:"shop_id" gorm:"index"`
	Customer   string                                `json:"customer"`
	Status     string                                `json:"status"`
	AssigneeId string                                `json:"assignee_id"`
	Tags       datatypes.JSONType[map[string]string] `json:"tags"`
	CreatedAt  time.Time                             `json:"created_at"`
	UpdatedAt  time.Time                             `json:"updated_at"`
}

// Order statuses accepted by the REST command layer.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Order is the slice of an order the gateway needs: enough to notify the room
// about status changes. The full order record lives in the main platform.
type Order struct {
	Id         string    `json:"id" gorm:"primaryKey"`
	ShopId     string    `json:"shop_id" gorm:"index"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Notification is a free-form payload stored before being fanned out.
type Notification struct {
	Id        string         `json:"id" gorm:"primaryKey"`
	ShopId    string         `json:"shop_id" gorm:"index"`
	Kind      string         `json:"kind"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
