package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/app/orch"
	"github.com/dkeye/Chorus/internal/core"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cid core.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(cid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(cid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(cid)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: when it returns the connection is
// disconnected from the orchestrator exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cid core.ConnID, c *WsSignalConn) {
	defer func() {
		cancel()
		c.Close()
		ctl.Orch.Disconnect(context.Background(), cid)
		ctl.live.Done()
		log.Info().Str("module", "signal").Str("sid", string(cid)).Msg("connection closed")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(cid)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		ctl.handleSignal(ctx, cid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cid core.ConnID, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(cid)).Msg("bad json")
		return
	}

	var err error
	switch env.Type {
	case "authenticate":
		err = ctl.handleAuthenticate(ctx, cid, env.Data)
	case "join-room":
		err = ctl.handleJoinRoom(ctx, cid, env.Data)
	case "send-message":
		err = ctl.handleSendMessage(ctx, cid, env.Data)
	case "like-message":
		err = ctl.handleLikeMessage(ctx, cid, env.Data)
	case "join-voice":
		err = ctl.Orch.JoinVoice(cid)
	case "leave-voice":
		ctl.Orch.LeaveVoice(cid)
	case "start-speaking":
		err = ctl.Orch.SetSpeaking(cid, true)
	case "stop-speaking":
		err = ctl.Orch.SetSpeaking(cid, false)
	case "peer-id":
		err = ctl.handlePeerID(cid, env.Data)
	case core.EvWebRTCOffer, core.EvWebRTCAnswer, core.EvWebRTCCandidate:
		err = ctl.handleRelay(cid, env.Type, env.Data)
	case "ping":
		ctl.handlePing(cid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		return
	}
	ctl.logResult(cid, env.Type, err)
}

// logResult keeps expected no-ops at debug level.
func (ctl *SignalWSController) logResult(cid core.ConnID, typ string, err error) {
	if err == nil {
		return
	}
	ev := log.Warn()
	switch {
	case errors.Is(err, core.ErrUnauthenticated),
		errors.Is(err, core.ErrNoCurrentRoom),
		errors.Is(err, core.ErrTargetUnreachable),
		errors.Is(err, core.ErrNotInVoice),
		errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrRateLimited),
		errors.Is(err, core.ErrUserNotFound):
		ev = log.Debug()
	}
	ev.Err(err).Str("module", "signal").Str("sid", string(cid)).Str("type", typ).Msg("signal not applied")
}

func (ctl *SignalWSController) handleAuthenticate(ctx context.Context, cid core.ConnID, data json.RawMessage) error {
	uid, err := parseUserID(data)
	if err != nil {
		return err
	}
	return ctl.Orch.Authenticate(ctx, cid, uid)
}

func (ctl *SignalWSController) handleJoinRoom(ctx context.Context, cid core.ConnID, data json.RawMessage) error {
	room, err := parseRoomID(data)
	if err != nil {
		return err
	}
	return ctl.Orch.JoinRoom(ctx, cid, room)
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, cid core.ConnID, data json.RawMessage) error {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return ctl.Orch.SendMessage(ctx, cid, p.Text)
}

func (ctl *SignalWSController) handleLikeMessage(ctx context.Context, cid core.ConnID, data json.RawMessage) error {
	id, err := parseMessageID(data)
	if err != nil {
		return err
	}
	return ctl.Orch.LikeMessage(ctx, cid, id)
}

func (ctl *SignalWSController) handlePeerID(cid core.ConnID, data json.RawMessage) error {
	var p struct {
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.PeerID == "" {
		return errors.New("empty peer id")
	}
	return ctl.Orch.AnnouncePeer(cid, p.PeerID)
}

func (ctl *SignalWSController) handleRelay(cid core.ConnID, typ string, data json.RawMessage) error {
	kind, err := orch.ParseSignalKind(typ)
	if err != nil {
		return err
	}
	to, payload, err := parseRelay(kind, data)
	if err != nil {
		return err
	}
	return ctl.Orch.Relay(kind, cid, to, payload)
}

func (ctl *SignalWSController) handlePing(cid core.ConnID, c *WsSignalConn) {
	frame, err := core.Encode(core.EvPong, nil)
	if err != nil {
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(cid)).Msg("pong dropped")
	}
}
