package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SetReasonInit marks entries of the controller's initial value dump that
// follows a RegisterValuesChanged call. They are not genuine changes.
const SetReasonInit = "Init"

// ValueChange is one (instance, property, value) triple from a ValuesChanged push.
type ValueChange struct {
	ID         uuid.UUID       // Assigned locally on receipt
	InstanceID string          // Device instance id
	Property   string          // Property name (e.g. "IsOn", "Position")
	Value      json.RawMessage // The "Value" field, undecoded
	SetReason  string          // Controller-provided reason ("Init", "ValueChanged", ...)
	ReceivedAt time.Time       // Local receive time of the frame
}

// NewValueChange builds a change with a fresh ID.
func NewValueChange(instanceID, property string, value json.RawMessage, setReason string, receivedAt time.Time) ValueChange {
	return ValueChange{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Property:   property,
		Value:      value,
		SetReason:  setReason,
		ReceivedAt: receivedAt,
	}
}

// IsInitial reports whether the entry belongs to the initial value dump.
func (c ValueChange) IsInitial() bool {
	return c.SetReason == SetReasonInit
}

// Key returns the wire key "<instanceId>.<property>".
func (c ValueChange) Key() string {
	return c.InstanceID + "." + c.Property
}

// SplitKey splits a wire key at its last dot. Instance ids may themselves
// contain dots, property names never do.
func SplitKey(key string) (instanceID, property string, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
