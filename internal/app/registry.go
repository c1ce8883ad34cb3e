package app

import (
	"cmp"
	"context"
	"slices"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Signal  core.SignalConnection
	Cancel  context.CancelFunc
	Session *core.Session
	// authSeq orders sessions by first authentication for snapshots.
	authSeq uint64
}

// Registry owns connection and Session lifecycle.
// It is not safe for concurrent use; the orchestrator serializes access.
type Registry struct {
	conns map[core.ConnID]*connEntry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
	}
}

// Attach records a live, unauthenticated connection.
func (r *Registry) Attach(cid core.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.conns[cid] = &connEntry{Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(cid)).Msg("attached connection")
}

// Bind stores or overwrites the Session of cid. It reports whether a previous
// Session was replaced, and fails when the connection is no longer attached.
func (r *Registry) Bind(cid core.ConnID, user domain.User) (sess core.Session, replaced bool, ok bool) {
	e, ok := r.conns[cid]
	if !ok {
		return core.Session{}, false, false
	}
	replaced = e.Session != nil
	sess = core.Session{Conn: cid, User: user}
	e.Session = &sess
	r.seq++
	e.authSeq = r.seq
	log.Info().Str("module", "app.registry").Str("sid", string(cid)).Int64("user", int64(user.ID)).Bool("replaced", replaced).Msg("bound session")
	return sess, replaced, true
}

func (r *Registry) GetSession(cid core.ConnID) (core.Session, bool) {
	if e, ok := r.conns[cid]; ok && e.Session != nil {
		return *e.Session, true
	}
	return core.Session{}, false
}

func (r *Registry) Signal(cid core.ConnID) (core.SignalConnection, bool) {
	if e, ok := r.conns[cid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// Drop removes the connection and its Session.
func (r *Registry) Drop(cid core.ConnID) (core.Session, bool) {
	e, ok := r.conns[cid]
	if !ok {
		return core.Session{}, false
	}
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("sid", string(cid)).Msg("dropped connection")
	if e.Session == nil {
		return core.Session{}, false
	}
	return *e.Session, true
}

// Sessions returns live sessions in order of authentication.
func (r *Registry) Sessions() []core.Session {
	type ranked struct {
		seq  uint64
		sess core.Session
	}
	out := make([]ranked, 0, len(r.conns))
	for _, e := range r.conns {
		if e.Session != nil {
			out = append(out, ranked{e.authSeq, *e.Session})
		}
	}
	slices.SortFunc(out, func(a, b ranked) int { return cmp.Compare(a.seq, b.seq) })
	res := make([]core.Session, len(out))
	for i, x := range out {
		res[i] = x.sess
	}
	return res
}

// SessionsOfUser counts live sessions of uid.
func (r *Registry) SessionsOfUser(uid domain.UserID) int {
	n := 0
	for _, e := range r.conns {
		if e.Session != nil && e.Session.User.ID == uid {
			n++
		}
	}
	return n
}

// Conns lists every attached connection, authenticated or not.
func (r *Registry) Conns() []core.ConnID {
	out := make([]core.ConnID, 0, len(r.conns))
	for cid := range r.conns {
		out = append(out, cid)
	}
	return out
}

func (r *Registry) Len() int { return len(r.conns) }

// Cancel fires the connection's cancel func without dropping it; the
// transport's own teardown calls back into Disconnect.
func (r *Registry) Cancel(cid core.ConnID) bool {
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(cid)).Msg("canceled connection")
	return true
}
