// Package account registers users and checks their passwords.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type Service struct {
	store core.Store
	cost  int
}

func NewService(store core.Store) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// Register creates a user with a bcrypt-hashed password. Usernames are
// unique; a taken name returns core.ErrUsernameTaken.
func (s *Service) Register(ctx context.Context, username, password, email string) (domain.User, error) {
	username = strings.TrimSpace(username)
	switch {
	case len(password) < domain.MinPasswordLen:
		return domain.User{}, domain.ErrPasswordShort
	case len(password) > domain.MaxPasswordLen:
		return domain.User{}, domain.ErrPasswordLong
	}
	if err := domain.ValidateUsername(username); err != nil {
		return domain.User{}, err
	}
	if _, err := s.store.FindUserByName(ctx, username); err == nil {
		return domain.User{}, core.ErrUsernameTaken
	} else if !errors.Is(err, core.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup %q: %w", username, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := domain.NewUser(username, email, string(hash))
	if err != nil {
		return domain.User{}, err
	}
	created, err := s.store.CreateUser(ctx, *u)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	log.Info().Str("module", "app.account").Int64("user", int64(created.ID)).Str("username", created.Username).Msg("registered")
	return created.Public(), nil
}

// Login verifies the password and marks the user online. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (domain.User, error) {
	u, err := s.store.FindUserByName(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup %q: %w", username, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		log.Debug().Str("module", "app.account").Str("username", username).Msg("password mismatch")
		return domain.User{}, ErrInvalidCredentials
	}
	if err := s.store.SetUserStatus(ctx, u.ID, domain.StatusOnline); err != nil {
		log.Error().Err(err).Str("module", "app.account").Int64("user", int64(u.ID)).Msg("set status on login")
	}
	u.Status = domain.StatusOnline
	log.Info().Str("module", "app.account").Int64("user", int64(u.ID)).Msg("logged in")
	return u.Public(), nil
}

// Get loads a user for an already established HTTP session.
func (s *Service) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	u, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return u.Public(), nil
}
