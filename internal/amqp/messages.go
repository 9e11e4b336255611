package amqp

import (
	"encoding/json"
	"time"
)

// Purchase event actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// PurchaseEventMessage is the wire form of a purchase lifecycle event.
// It carries enough for the audit worker to record the event without
// calling back into the editor.
type PurchaseEventMessage struct {
	PurchaseID int64     `json:"purchase_id"`
	Action     string    `json:"action"`
	Total      float64   `json:"total"`
	UserID     int64     `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewPurchaseEventMessage creates an event stamped with the current time.
func NewPurchaseEventMessage(purchaseID int64, action string, total float64, userID int64) *PurchaseEventMessage {
	return &PurchaseEventMessage{
		PurchaseID: purchaseID,
		Action:     action,
		Total:      total,
		UserID:     userID,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *PurchaseEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PurchaseEventMessageFromJSON creates a message from JSON bytes
func PurchaseEventMessageFromJSON(data []byte) (*PurchaseEventMessage, error) {
	var msg PurchaseEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
