package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Chorus/internal/app/orch"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

func TestParseRoomID(t *testing.T) {
	for in, want := range map[string]domain.RoomID{
		`{"roomId": 3}`:   3,
		`{"roomId": "4"}`: 4,
		`5`:               5,
		`"6"`:             6,
	} {
		got, err := parseRoomID(json.RawMessage(in))
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{``, `null`, `{}`, `{"roomId": "abc"}`, `"x"`, `1.5`} {
		_, err := parseRoomID(json.RawMessage(in))
		require.ErrorIs(t, err, ErrBadPayload, in)
	}
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID(json.RawMessage(`{"userId": 42}`))
	require.NoError(t, err)
	require.EqualValues(t, 42, id)
}

func TestParseRelay(t *testing.T) {
	t.Run("should split target and body", func(t *testing.T) {
		req := require.New(t)
		to, body, err := parseRelay(orch.SignalOffer, json.RawMessage(`{"to":"abc","offer":{"sdp":"v=0"}}`))
		req.NoError(err)
		req.Equal(core.ConnID("abc"), to)
		req.JSONEq(`{"sdp":"v=0"}`, string(body))
	})

	t.Run("should require a target", func(t *testing.T) {
		_, _, err := parseRelay(orch.SignalCandidate, json.RawMessage(`{"candidate":{}}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})
}
