package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

// Key layout. Numeric ids are zero padded so prefix scans come out in id
// order, which is also insertion order.
//
//	user:id:<id>          -> domain.User
//	user:name:<lower>     -> <id>
//	room:id:<id>          -> domain.Room
//	msg:<room>:<id>       -> messageRecord
//	msgroom:<id>          -> <room>
const (
	prefixUserID   = "user:id:"
	prefixUserName = "user:name:"
	prefixRoom     = "room:id:"
	prefixMsg      = "msg:"
	prefixMsgRoom  = "msgroom:"
	seqBandwidth   = 100
)

func userKey(id domain.UserID) []byte { return fmt.Appendf(nil, "%s%020d", prefixUserID, id) }

func userNameKey(name string) []byte { return []byte(prefixUserName + strings.ToLower(name)) }

func roomKey(id domain.RoomID) []byte { return fmt.Appendf(nil, "%s%020d", prefixRoom, id) }

func msgRoomPrefix(r domain.RoomID) []byte { return fmt.Appendf(nil, "%s%020d:", prefixMsg, r) }

func msgKey(r domain.RoomID, id domain.MessageID) []byte {
	return fmt.Appendf(msgRoomPrefix(r), "%020d", id)
}

func msgIndexKey(id domain.MessageID) []byte { return fmt.Appendf(nil, "%s%020d", prefixMsgRoom, id) }

func readInt(item *badger.Item) (int64, error) {
	var n int64
	err := item.Value(func(val []byte) error {
		var err error
		n, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return n, err
}

type BadgerStore struct {
	db      *badger.DB
	userSeq *badger.Sequence
	roomSeq *badger.Sequence
	msgSeq  *badger.Sequence
}

// OpenBadger opens or creates the database at path and seeds the default
// rooms on first use. An empty path opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	s := &BadgerStore{db: db}
	for name, seq := range map[string]**badger.Sequence{
		"seq:user": &s.userSeq,
		"seq:room": &s.roomSeq,
		"seq:msg":  &s.msgSeq,
	} {
		if *seq, err = db.GetSequence([]byte(name), seqBandwidth); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("sequence %s: %w", name, err)
		}
	}
	if err := s.seedRooms(); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info().Str("module", "storage.badger").Str("path", path).Msg("opened")
	return s, nil
}

// nextID skips zero so ids start at 1.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if n, err = seq.Next(); err != nil {
			return 0, err
		}
	}
	return int64(n), nil
}

func (s *BadgerStore) seedRooms() error {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixRoom)})
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	if err != nil || !empty {
		return err
	}
	for _, r := range domain.DefaultRooms() {
		id, err := nextID(s.roomSeq)
		if err != nil {
			return fmt.Errorf("room id: %w", err)
		}
		r.ID = domain.RoomID(id)
		r.CreatedAt = time.Now().UTC()
		if err := s.db.Update(func(txn *badger.Txn) error { return setJSON(txn, roomKey(r.ID), r) }); err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
	}
	log.Info().Str("module", "storage.badger").Int("rooms", len(domain.DefaultRooms())).Msg("seeded default rooms")
	return nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

// userRecord keeps the password hash that domain.User hides from JSON.
type userRecord struct {
	domain.User
	PasswordHash string `json:"password_hash"`
}

func toRecord(u domain.User) userRecord { return userRecord{User: u, PasswordHash: u.PasswordHash} }

func (r userRecord) user() domain.User {
	u := r.User
	u.PasswordHash = r.PasswordHash
	return u
}

// messageRecord keeps the likers that domain.Message hides from JSON.
type messageRecord struct {
	domain.Message
	LikedBy []domain.UserID `json:"liked_by,omitempty"`
}

func toMessageRecord(m domain.Message) messageRecord {
	return messageRecord{Message: m, LikedBy: m.LikedBy}
}

func (r messageRecord) message() domain.Message {
	m := r.Message
	m.LikedBy = r.LikedBy
	return m
}

func (s *BadgerStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	id, err := nextID(s.userSeq)
	if err != nil {
		return domain.User{}, fmt.Errorf("user id: %w", err)
	}
	u.ID = domain.UserID(id)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userNameKey(u.Username)); err == nil {
			return core.ErrUsernameTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(userNameKey(u.Username), fmt.Appendf(nil, "%d", u.ID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(u.ID), toRecord(u))
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user %q: %w", u.Username, err)
	}
	return u, nil
}

func (s *BadgerStore) FindUserByID(_ context.Context, id domain.UserID) (domain.User, error) {
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error { return getJSON(txn, userKey(id), &rec) })
	if err != nil {
		return domain.User{}, fmt.Errorf("find user %d: %w", id, err)
	}
	return rec.user(), nil
}

func (s *BadgerStore) FindUserByName(_ context.Context, username string) (domain.User, error) {
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userNameKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := readInt(item)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(domain.UserID(id)), &rec)
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("find user %q: %w", username, err)
	}
	return rec.user(), nil
}

func (s *BadgerStore) SetUserStatus(_ context.Context, id domain.UserID, status domain.UserStatus) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec userRecord
		if err := getJSON(txn, userKey(id), &rec); err != nil {
			return err
		}
		rec.Status = status
		return setJSON(txn, userKey(id), rec)
	})
	if err != nil {
		return fmt.Errorf("set status of user %d: %w", id, err)
	}
	return nil
}

// ListRooms returns rooms ordered by name.
func (s *BadgerStore) ListRooms(_ context.Context) ([]domain.Room, error) {
	rooms := make([]domain.Room, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: []byte(prefixRoom)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r domain.Room
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return err
			}
			rooms = append(rooms, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	slices.SortFunc(rooms, func(a, b domain.Room) int { return strings.Compare(a.Name, b.Name) })
	return rooms, nil
}

func (s *BadgerStore) GetRoom(_ context.Context, id domain.RoomID) (domain.Room, error) {
	var r domain.Room
	if err := s.db.View(func(txn *badger.Txn) error { return getJSON(txn, roomKey(id), &r) }); err != nil {
		return domain.Room{}, fmt.Errorf("get room %d: %w", id, err)
	}
	return r, nil
}

func (s *BadgerStore) InsertMessage(_ context.Context, room domain.RoomID, user domain.UserID, text string) (domain.Message, error) {
	id, err := nextID(s.msgSeq)
	if err != nil {
		return domain.Message{}, fmt.Errorf("message id: %w", err)
	}
	msg := domain.Message{
		ID:        domain.MessageID(id),
		RoomID:    room,
		UserID:    user,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		var rec userRecord
		if err := getJSON(txn, userKey(user), &rec); err == nil {
			msg.Username, msg.Avatar = rec.Username, rec.Avatar
		}
		if err := txn.Set(msgIndexKey(msg.ID), fmt.Appendf(nil, "%d", room)); err != nil {
			return err
		}
		return setJSON(txn, msgKey(room, msg.ID), toMessageRecord(msg))
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListMessages scans the room backwards from the newest key and returns the
// result in chronological order.
func (s *BadgerStore) ListMessages(_ context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	out := make([]domain.Message, 0)
	if limit <= 0 {
		return out, nil
	}
	prefix := msgRoomPrefix(room)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// "~" sorts after every digit, so the seek lands on the newest key.
		for it.Seek(append(slices.Clone(prefix), '~')); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			out = append(out, rec.message())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages of room %d: %w", room, err)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *BadgerStore) LikeMessage(_ context.Context, id domain.MessageID, user domain.UserID) (domain.Message, error) {
	var msg domain.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(msgIndexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		n, err := readInt(item)
		if err != nil {
			return err
		}
		room := domain.RoomID(n)
		var rec messageRecord
		if err := getJSON(txn, msgKey(room, id), &rec); err != nil {
			return err
		}
		msg = rec.message()
		if !msg.Like(user) {
			return nil
		}
		return setJSON(txn, msgKey(room, id), toMessageRecord(msg))
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("like message %d: %w", id, err)
	}
	return msg, nil
}

func (s *BadgerStore) Close() error {
	for _, seq := range []*badger.Sequence{s.userSeq, s.roomSeq, s.msgSeq} {
		if seq != nil {
			if err := seq.Release(); err != nil {
				log.Warn().Err(err).Str("module", "storage.badger").Msg("release sequence")
			}
		}
	}
	return s.db.Close()
}
