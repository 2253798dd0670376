package model

import "time"

// NotificationHandle identifies one decision prompt delivered to one
// administrator, as reported back by the chat platform.
type NotificationHandle struct {
	AdminID   int64 `json:"admin_id"`
	MessageID int64 `json:"message_id"`
}

// DecisionEvent is published on the bus after a decision wins the race on a
// pending purchase. Consumers notify the buyer and neutralize the remaining
// admin prompts; none of that can roll the decision back.
type DecisionEvent struct {
	PurchaseID   int64                `json:"purchase_id"`
	BuyerID      int64                `json:"buyer_id"`
	ProductType  ProductType          `json:"product_type"`
	ProductTitle string               `json:"product_title"`
	Decision     Decision             `json:"decision"`
	DecidedBy    int64                `json:"decided_by"`
	Handles      []NotificationHandle `json:"handles"`
	DecidedAt    time.Time            `json:"decided_at"`
}
