package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

var ErrMalformedMessage = errors.New("malformed entry changed message")

// EntryChangedMessage announces that one entry of a user was created,
// updated or deleted. It carries identifiers only; consumers load whatever
// else they need.
type EntryChangedMessage struct {
	UserID    int64     `json:"userId"`
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	EntityID  int64     `json:"entityId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntryChangedMessage(userID int64, entity, action string, entityID int64) *EntryChangedMessage {
	return &EntryChangedMessage{
		UserID:    userID,
		Entity:    entity,
		Action:    action,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}

func (m *EntryChangedMessage) Validate() error {
	if m.UserID <= 0 || m.EntityID <= 0 || m.Entity == "" {
		return ErrMalformedMessage
	}
	switch m.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	}
	return ErrMalformedMessage
}

func (m *EntryChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntryChangedMessageFromJSON decodes and validates a message body.
func EntryChangedMessageFromJSON(data []byte) (*EntryChangedMessage, error) {
	var msg EntryChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
