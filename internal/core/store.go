//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package core

import (
	"context"

	"github.com/dkeye/Chorus/internal/domain"
)

// Store is the persistence collaborator. The presence core never depends on a
// concrete backend; storage.Open picks one from config.
type Store interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	FindUserByID(ctx context.Context, id domain.UserID) (domain.User, error)
	FindUserByName(ctx context.Context, username string) (domain.User, error)
	SetUserStatus(ctx context.Context, id domain.UserID, status domain.UserStatus) error

	ListRooms(ctx context.Context) ([]domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)

	InsertMessage(ctx context.Context, room domain.RoomID, user domain.UserID, text string) (domain.Message, error)
	// ListMessages returns at most limit of the newest messages, oldest first.
	ListMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error)
	LikeMessage(ctx context.Context, id domain.MessageID, user domain.UserID) (domain.Message, error)

	Close() error
}
