// Package database is the persistence boundary: a key-indexed store per
// entity type plus a range query over message history. The server state
// store is the only caller.
package database

import (
	"errors"

	"gohaven/internal/models"
)

// ErrNotFound is returned by every id- or name-keyed lookup that misses.
// Any other error from a Service is a backing-store failure and is surfaced
// to the caller as-is, never retried here.
var ErrNotFound = errors.New("database: not found")

type Service interface {
	Health() map[string]string

	CreateUser(user models.User) error
	UpdateUser(user models.User) error
	GetUser(id int64) (models.User, error)
	GetUserByName(username string) (models.User, error)
	ListUsers() ([]models.User, error)

	CreateGroup(group models.Group) error
	UpdateGroup(group models.Group) error
	DeleteGroup(id int64) error
	ListGroups() ([]models.Group, error)

	CreateChannel(channel models.Channel) error
	UpdateChannel(channel models.Channel) error
	DeleteChannel(id int64) error
	ListChannels() ([]models.Channel, error)

	// AppendMessage persists a message whose Sequence the caller has already
	// assigned; sequences are monotonic across all channels.
	AppendMessage(msg models.Message) error
	GetMessage(id int64) (models.Message, error)
	UpdateMessage(msg models.Message) error
	DeleteMessage(id int64) error
	DeleteChannelMessages(channelID int64) error

	// History returns up to limit messages in the channel with a sequence
	// strictly below beforeSeq (unbounded when beforeSeq <= 0), oldest first.
	History(channelID, beforeSeq int64, limit int) ([]models.Message, error)
	// LastSequence returns the highest sequence ever assigned, 0 when empty.
	LastSequence() (int64, error)

	GetServerInfo() (models.ServerInfo, error)
	UpdateServerInfo(info models.ServerInfo) error
}
