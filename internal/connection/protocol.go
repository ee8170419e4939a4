package connection

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

// Controller method and frame type names.
const (
	MethodRegisterValuesChanged = "RegisterValuesChanged"

	methodCallWithReturn = "CallWithReturn"
	methodValuesChanged  = "ValuesChanged"

	frameCallback  = "Callback"
	frameEvent     = "Event"
	frameConnected = "Connected"
)

// callEnvelope is the outbound frame for every request.
type callEnvelope struct {
	MethodName string      `json:"methodName"`
	Request    callRequest `json:"request"`
}

type callRequest struct {
	Args       []any  `json:"args"`
	MethodName string `json:"methodName"`
	SequenceID int64  `json:"sequenceId"`
}

// SubscriptionEntry is one element of the RegisterValuesChanged list.
// An empty Properties list means all properties of the instance.
type SubscriptionEntry struct {
	Instanceid string   `json:"Instanceid"`
	Properties []string `json:"Properties"`
}

// inboundFrame is a decoded [type, payload] pair.
type inboundFrame struct {
	Type    string
	Payload json.RawMessage
}

type callbackPayload struct {
	MethodName string          `json:"methodName"`
	Args       json.RawMessage `json:"args"`
	SequenceID *int64          `json:"sequenceId"`
}

type eventPayload struct {
	MethodName string            `json:"methodName"`
	Args       []json.RawMessage `json:"args"`
}

type valuesChangedArg struct {
	Table map[string]tableEntry `json:"table"`
}

type tableEntry struct {
	Value struct {
		Value     json.RawMessage `json:"Value"`
		SetReason string          `json:"SetReason"`
	} `json:"value"`
}

func encodeCall(method string, seq int64, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return json.Marshal(callEnvelope{
		MethodName: methodCallWithReturn,
		Request: callRequest{
			Args:       args,
			MethodName: method,
			SequenceID: seq,
		},
	})
}

// registerArgs builds the RegisterValuesChanged argument list for ids.
func registerArgs(enable bool, ids []string) []any {
	list := make([]SubscriptionEntry, len(ids))
	for i, id := range ids {
		list[i] = SubscriptionEntry{Instanceid: id, Properties: []string{}}
	}
	return []any{enable, list, true, true}
}

func decodeFrame(data []byte) (inboundFrame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return inboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if len(parts) != 2 {
		return inboundFrame{}, fmt.Errorf("decode frame: expected [type, payload], got %d elements", len(parts))
	}

	var frame inboundFrame
	if err := json.Unmarshal(parts[0], &frame.Type); err != nil {
		return inboundFrame{}, fmt.Errorf("decode frame type: %w", err)
	}
	frame.Payload = parts[1]
	return frame, nil
}

// decodeCallbackResult extracts args[0] from a Callback args array.
// An empty array resolves to nil.
func decodeCallbackResult(raw json.RawMessage) (json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// parseValuesChanged converts the table of a ValuesChanged event into changes,
// ordered by key. Keys that do not split into instance and property are skipped.
func parseValuesChanged(args []json.RawMessage, receivedAt time.Time) ([]model.ValueChange, []string, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("%w: ValuesChanged without args", ErrMalformedReply)
	}

	var arg valuesChangedArg
	if err := json.Unmarshal(args[0], &arg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	keys := make([]string, 0, len(arg.Table))
	for k := range arg.Table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var skipped []string
	changes := make([]model.ValueChange, 0, len(keys))
	for _, k := range keys {
		instanceID, property, ok := model.SplitKey(k)
		if !ok {
			skipped = append(skipped, k)
			continue
		}
		entry := arg.Table[k]
		changes = append(changes, model.NewValueChange(
			instanceID, property, entry.Value.Value, entry.Value.SetReason, receivedAt,
		))
	}
	return changes, skipped, nil
}

// WebSocketURL derives the controller WebSocket endpoint from its base address:
// http becomes ws, https becomes wss, and a bare host[:port] is treated as http.
// Host, port and path are kept.
func WebSocketURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return u.String(), nil
}
