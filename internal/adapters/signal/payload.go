package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/Chorus/internal/app/orch"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

var ErrBadPayload = errors.New("bad payload")

// parseID accepts a JSON number or a numeric string.
func parseID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: missing id", ErrBadPayload)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		raw = []byte(s)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrBadPayload, raw)
	}
	return n, nil
}

// field extracts key from an object payload; any other payload is returned
// as is so a bare value is accepted too.
func field(raw json.RawMessage, key string) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil
	}
	return obj[key]
}

func parseUserID(raw json.RawMessage) (domain.UserID, error) {
	n, err := parseID(field(raw, "userId"))
	return domain.UserID(n), err
}

func parseRoomID(raw json.RawMessage) (domain.RoomID, error) {
	n, err := parseID(field(raw, "roomId"))
	return domain.RoomID(n), err
}

func parseMessageID(raw json.RawMessage) (domain.MessageID, error) {
	n, err := parseID(field(raw, "messageId"))
	return domain.MessageID(n), err
}

// parseRelay splits a relay payload into its target and the opaque body
// stored under the kind's field.
func parseRelay(kind orch.SignalKind, raw json.RawMessage) (core.ConnID, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	var to string
	if err := json.Unmarshal(obj["to"], &to); err != nil || to == "" {
		return "", nil, fmt.Errorf("%w: missing target", ErrBadPayload)
	}
	return core.ConnID(to), obj[kind.Field()], nil
}
