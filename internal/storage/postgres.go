package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	avatar        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'offline',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rooms (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	type        TEXT NOT NULL DEFAULT 'text',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	room_id    BIGINT NOT NULL REFERENCES rooms(id),
	user_id    BIGINT NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	likes      INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS message_likes (
	message_id BIGINT NOT NULL REFERENCES messages(id),
	user_id    BIGINT NOT NULL REFERENCES users(id),
	PRIMARY KEY (message_id, user_id)
);
CREATE INDEX IF NOT EXISTS messages_room_id_idx ON messages (room_id, id);
`

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, applies the schema and seeds the default rooms.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("module", "storage.postgres").Msg("connected")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	batch := &pgx.Batch{}
	for _, r := range domain.DefaultRooms() {
		batch.Queue(`INSERT INTO rooms (name, type, description) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
			r.Name, string(r.Type), r.Description)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

const userColumns = `id, username, password_hash, email, avatar, status, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var status string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Avatar, &status, &u.CreatedAt)
	u.Status = domain.UserStatus(status)
	return u, notFound(err)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, email, avatar, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		u.Username, u.PasswordHash, u.Email, u.Avatar, string(u.Status))
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = core.ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("create user %q: %w", u.Username, err)
	}
	return created, nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, int64(id)))
	if err != nil {
		return domain.User{}, fmt.Errorf("find user %d: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) FindUserByName(ctx context.Context, username string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		return domain.User{}, fmt.Errorf("find user %q: %w", username, err)
	}
	return u, nil
}

func (s *PostgresStore) SetUserStatus(ctx context.Context, id domain.UserID, status domain.UserStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, string(status), int64(id))
	if err != nil {
		return fmt.Errorf("set status of user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status of user %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, type, description, created_at FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Room, error) {
		var r domain.Room
		var typ string
		err := row.Scan(&r.ID, &r.Name, &typ, &r.Description, &r.CreatedAt)
		r.Type = domain.RoomType(typ)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var r domain.Room
	var typ string
	err := s.pool.QueryRow(ctx, `SELECT id, name, type, description, created_at FROM rooms WHERE id = $1`, int64(id)).
		Scan(&r.ID, &r.Name, &typ, &r.Description, &r.CreatedAt)
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room %d: %w", id, notFound(err))
	}
	r.Type = domain.RoomType(typ)
	return r, nil
}

const messageSelect = `
SELECT m.id, m.room_id, m.user_id, m.content, m.likes, m.created_at, u.username, u.avatar
FROM messages m JOIN users u ON u.id = m.user_id`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.Likes, &m.CreatedAt, &m.Username, &m.Avatar)
	return m, notFound(err)
}

func (s *PostgresStore) InsertMessage(ctx context.Context, room domain.RoomID, user domain.UserID, text string) (domain.Message, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, user_id, content) VALUES ($1, $2, $3) RETURNING id`,
		int64(room), int64(user), text).Scan(&id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		return domain.Message{}, fmt.Errorf("reload message %d: %w", id, err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (`+messageSelect+` WHERE m.room_id = $1 ORDER BY m.id DESC LIMIT $2) recent ORDER BY id ASC`,
		int64(room), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of room %d: %w", room, err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) { return scanMessage(row) })
	if err != nil {
		return nil, fmt.Errorf("list messages of room %d: %w", room, err)
	}
	return msgs, nil
}

// LikeMessage counts one like per user.
func (s *PostgresStore) LikeMessage(ctx context.Context, id domain.MessageID, user domain.UserID) (domain.Message, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO message_likes (message_id, user_id) SELECT id, $2 FROM messages WHERE id = $1 ON CONFLICT DO NOTHING`,
			int64(id), int64(user))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE messages SET likes = likes + 1 WHERE id = $1`, int64(id))
		return err
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("like message %d: %w", id, err)
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, int64(id)))
	if err != nil {
		return domain.Message{}, fmt.Errorf("like message %d: %w", id, err)
	}
	return msg, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
