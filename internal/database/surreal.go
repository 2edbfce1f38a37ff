package database

import (
	"errors"
	"fmt"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/surrealdb/surrealdb.go"

	"gohaven/internal/models"
)

// surreal implements Service on SurrealDB. Records keep their application id
// in the uuid field and leave the SurrealDB record id to the engine.
type surreal struct {
	db *surrealdb.DB
}

var (
	username  = os.Getenv("DB_USERNAME")
	password  = os.Getenv("DB_PASSWORD")
	namespace = os.Getenv("DB_NAMESPACE")
	dbname    = os.Getenv("DB_DATABASE")
	url       = os.Getenv("DB_URL")
)

// New connects to the SurrealDB instance configured through the environment.
func New() Service {
	db, err := surrealdb.New(url)
	if err != nil {
		panic(err)
	}

	if _, err := db.Signin(map[string]interface{}{
		"user": username,
		"pass": password,
	}); err != nil {
		panic(err)
	}

	if _, err := db.Use(namespace, dbname); err != nil {
		panic(err)
	}

	return &surreal{db: db}
}

func (s *surreal) Health() map[string]string {
	if _, err := s.db.Query("RETURN 1", nil); err != nil {
		log.Println(err)
		return map[string]string{"status": "down"}
	}
	return map[string]string{"status": "up"}
}

func one[T any](res interface{}, err error) (T, error) {
	var zero T
	rows, err := surrealdb.SmartUnmarshal[[]T](res, err)
	if err != nil {
		return zero, fmt.Errorf("db: %w", err)
	}
	if len(rows) == 0 {
		return zero, ErrNotFound
	}
	return rows[0], nil
}

func all[T any](res interface{}, err error) ([]T, error) {
	rows, err := surrealdb.SmartUnmarshal[[]T](res, err)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return rows, nil
}

func (s *surreal) create(table string, data any) error {
	if _, err := s.db.Create(table, data); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func (s *surreal) update(table string, uuid int64, data any) error {
	_, err := s.db.Query("UPDATE type::table($table) CONTENT $data WHERE uuid = $uuid", map[string]interface{}{
		"table": table,
		"uuid":  uuid,
		"data":  data,
	})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func (s *surreal) remove(table string, uuid int64) error {
	_, err := s.db.Query("DELETE type::table($table) WHERE uuid = $uuid", map[string]interface{}{
		"table": table,
		"uuid":  uuid,
	})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func (s *surreal) CreateUser(user models.User) error { return s.create("users", user) }

func (s *surreal) UpdateUser(user models.User) error { return s.update("users", user.ID, user) }

func (s *surreal) GetUser(id int64) (models.User, error) {
	res, err := s.db.Query("SELECT * FROM users WHERE uuid = $uuid", map[string]interface{}{
		"uuid": id,
	})
	return one[models.User](res, err)
}

func (s *surreal) GetUserByName(name string) (models.User, error) {
	res, err := s.db.Query("SELECT * FROM users WHERE username = $username", map[string]interface{}{
		"username": name,
	})
	return one[models.User](res, err)
}

func (s *surreal) ListUsers() ([]models.User, error) {
	res, err := s.db.Query("SELECT * FROM users", nil)
	return all[models.User](res, err)
}

func (s *surreal) CreateGroup(group models.Group) error { return s.create("groups", group) }

func (s *surreal) UpdateGroup(group models.Group) error { return s.update("groups", group.ID, group) }

func (s *surreal) DeleteGroup(id int64) error { return s.remove("groups", id) }

func (s *surreal) ListGroups() ([]models.Group, error) {
	res, err := s.db.Query("SELECT * FROM groups ORDER BY position ASC", nil)
	return all[models.Group](res, err)
}

func (s *surreal) CreateChannel(channel models.Channel) error { return s.create("channels", channel) }

func (s *surreal) UpdateChannel(channel models.Channel) error {
	return s.update("channels", channel.ID, channel)
}

func (s *surreal) DeleteChannel(id int64) error { return s.remove("channels", id) }

func (s *surreal) ListChannels() ([]models.Channel, error) {
	res, err := s.db.Query("SELECT * FROM channels ORDER BY position ASC", nil)
	return all[models.Channel](res, err)
}

func (s *surreal) AppendMessage(msg models.Message) error { return s.create("messages", msg) }

func (s *surreal) GetMessage(id int64) (models.Message, error) {
	res, err := s.db.Query("SELECT * FROM messages WHERE uuid = $uuid", map[string]interface{}{
		"uuid": id,
	})
	return one[models.Message](res, err)
}

func (s *surreal) UpdateMessage(msg models.Message) error {
	return s.update("messages", msg.ID, msg)
}

func (s *surreal) DeleteMessage(id int64) error { return s.remove("messages", id) }

func (s *surreal) DeleteChannelMessages(channelID int64) error {
	_, err := s.db.Query("DELETE messages WHERE channel_id = $channelId", map[string]interface{}{
		"channelId": channelID,
	})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func (s *surreal) History(channelID, beforeSeq int64, limit int) ([]models.Message, error) {
	q := "SELECT * FROM messages WHERE channel_id = $channelId ORDER BY sequence DESC LIMIT $limit"
	vars := map[string]interface{}{
		"channelId": channelID,
		"limit":     limit,
	}
	if beforeSeq > 0 {
		q = "SELECT * FROM messages WHERE channel_id = $channelId AND sequence < $before ORDER BY sequence DESC LIMIT $limit"
		vars["before"] = beforeSeq
	}

	res, err := s.db.Query(q, vars)
	page, err := all[models.Message](res, err)
	if err != nil {
		return nil, err
	}

	// Newest-first from the store, oldest-first to the caller.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (s *surreal) LastSequence() (int64, error) {
	res, err := s.db.Query("SELECT * FROM messages ORDER BY sequence DESC LIMIT 1", nil)
	last, err := one[models.Message](res, err)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.Sequence, nil
}

func (s *surreal) GetServerInfo() (models.ServerInfo, error) {
	res, err := s.db.Query("SELECT * FROM server LIMIT 1", nil)
	return one[models.ServerInfo](res, err)
}

func (s *surreal) UpdateServerInfo(info models.ServerInfo) error {
	_, err := s.db.Query("DELETE server; CREATE server CONTENT $data;", map[string]interface{}{
		"data": info,
	})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}
