package database

import (
	"sort"
	"sync"

	"gohaven/internal/models"
)

// memory is a Service kept entirely in process memory. It backs the test
// suite and lets the server run without a database for local development.
type memory struct {
	mu       sync.Mutex
	users    map[int64]models.User
	groups   map[int64]models.Group
	channels map[int64]models.Channel
	messages map[int64]models.Message
	info     *models.ServerInfo
}

// NewMemory returns an empty in-memory Service.
func NewMemory() Service {
	return &memory{
		users:    make(map[int64]models.User),
		groups:   make(map[int64]models.Group),
		channels: make(map[int64]models.Channel),
		messages: make(map[int64]models.Message),
	}
}

func (m *memory) Health() map[string]string {
	return map[string]string{"status": "up"}
}

func (m *memory) CreateUser(user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memory) UpdateUser(user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrNotFound
	}
	m.users[user.ID] = user
	return nil
}

func (m *memory) GetUser(id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (m *memory) GetUserByName(name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == name {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *memory) ListUsers() ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *memory) CreateGroup(group models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
	return nil
}

func (m *memory) UpdateGroup(group models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.ID]; !ok {
		return ErrNotFound
	}
	m.groups[group.ID] = group
	return nil
}

func (m *memory) DeleteGroup(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *memory) ListGroups() ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := make([]models.Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Position < groups[j].Position })
	return groups, nil
}

func (m *memory) CreateChannel(channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.ID] = channel
	return nil
}

func (m *memory) UpdateChannel(channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channel.ID]; !ok {
		return ErrNotFound
	}
	m.channels[channel.ID] = channel
	return nil
}

func (m *memory) DeleteChannel(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return ErrNotFound
	}
	delete(m.channels, id)
	return nil
}

func (m *memory) ListChannels() ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := make([]models.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })
	return channels, nil
}

func (m *memory) AppendMessage(msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *memory) GetMessage(id int64) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *memory) UpdateMessage(msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *memory) DeleteMessage(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

func (m *memory) DeleteChannelMessages(channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.messages {
		if msg.ChannelID == channelID {
			delete(m.messages, id)
		}
	}
	return nil
}

func (m *memory) History(channelID, beforeSeq int64, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var page []models.Message
	for _, msg := range m.messages {
		if msg.ChannelID != channelID {
			continue
		}
		if beforeSeq > 0 && msg.Sequence >= beforeSeq {
			continue
		}
		page = append(page, msg)
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Sequence < page[j].Sequence })
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (m *memory) LastSequence() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last int64
	for _, msg := range m.messages {
		if msg.Sequence > last {
			last = msg.Sequence
		}
	}
	return last, nil
}

func (m *memory) GetServerInfo() (models.ServerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return models.ServerInfo{}, ErrNotFound
	}
	return *m.info, nil
}

func (m *memory) UpdateServerInfo(info models.ServerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = &info
	return nil
}
