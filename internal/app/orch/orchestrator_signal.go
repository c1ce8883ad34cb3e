package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/rs/zerolog/log"
)

// SignalKind is one of the relayed WebRTC negotiation messages.
type SignalKind string

const (
	SignalOffer     SignalKind = core.EvWebRTCOffer
	SignalAnswer    SignalKind = core.EvWebRTCAnswer
	SignalCandidate SignalKind = core.EvWebRTCCandidate
)

// Field is the payload key the kind travels under.
func (k SignalKind) Field() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalCandidate:
		return "candidate"
	}
	return ""
}

func ParseSignalKind(s string) (SignalKind, error) {
	k := SignalKind(s)
	if k.Field() == "" {
		return "", fmt.Errorf("unknown signal kind %q", s)
	}
	return k, nil
}

// Relay forwards an opaque payload from one connection to another. The
// delivered "from" is always the sender's connection id. A target that is
// not connected is dropped silently.
func (o *Orchestrator) Relay(kind SignalKind, from, to core.ConnID, payload json.RawMessage) error {
	field := kind.Field()
	if field == "" {
		return fmt.Errorf("unknown signal kind %q", kind)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.Registry.GetSession(from); !ok {
		return core.ErrUnauthenticated
	}
	if _, ok := o.Registry.Signal(to); !ok {
		log.Debug().Str("module", "orch.relay").Str("from", string(from)).Str("to", string(to)).Str("kind", string(kind)).Msg("target unreachable")
		return core.ErrTargetUnreachable
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	o.sendLocked(to, string(kind), map[string]any{
		field:  payload,
		"from": from,
	})
	return nil
}
