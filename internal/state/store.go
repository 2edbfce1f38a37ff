// Package state owns the canonical server state: users, groups, channels,
// server metadata, presence and voice registries. Everything is cached in
// memory and written through to the database on mutation.
//
// Access discipline: every method except New assumes the caller holds the
// store lock. The dispatcher takes it once per request, spanning the whole
// authorize-apply-respond-broadcast cycle, so no two commands ever
// interleave their effects.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gohaven/internal/database"
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/utils"
)

type Store struct {
	mu sync.Mutex
	db database.Service

	users    map[int64]models.User
	groups   map[int64]models.Group
	channels map[int64]models.Channel
	info     models.ServerInfo

	nextSeq int64

	online map[int64]int   // user id -> live connection count
	voice  map[int64]int64 // user id -> voice channel id
}

// New loads the full server state from the database, seeding a default group
// layout and channel on first run.
func New(db database.Service) (*Store, error) {
	st := &Store{
		db:       db,
		users:    make(map[int64]models.User),
		groups:   make(map[int64]models.Group),
		channels: make(map[int64]models.Channel),
		online:   make(map[int64]int),
		voice:    make(map[int64]int64),
	}

	users, err := db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("state: loading users: %w", err)
	}
	for _, u := range users {
		st.users[u.ID] = u
	}

	groups, err := db.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("state: loading groups: %w", err)
	}
	for _, g := range groups {
		st.groups[g.ID] = g
	}

	channels, err := db.ListChannels()
	if err != nil {
		return nil, fmt.Errorf("state: loading channels: %w", err)
	}
	for _, c := range channels {
		st.channels[c.ID] = c
	}

	last, err := db.LastSequence()
	if err != nil {
		return nil, fmt.Errorf("state: loading last sequence: %w", err)
	}
	st.nextSeq = last + 1

	info, err := db.GetServerInfo()
	switch {
	case err == nil:
		st.info = info
	case errors.Is(err, database.ErrNotFound):
		st.info = models.ServerInfo{Name: "haven"}
		if err := db.UpdateServerInfo(st.info); err != nil {
			return nil, fmt.Errorf("state: seeding server info: %w", err)
		}
	default:
		return nil, fmt.Errorf("state: loading server info: %w", err)
	}

	if err := st.seed(); err != nil {
		return nil, err
	}
	return st, nil
}

// seed creates the initial admin/members groups and a general channel when
// the corresponding tables are empty.
func (st *Store) seed() error {
	if len(st.groups) == 0 {
		var member permission.Permissions
		member.SendMessages = permission.Allow
		member.ReadMessages = permission.Allow
		member.JoinVoice = permission.Allow

		seeds := []models.Group{
			{Name: "admin", Color: "#e5c07b", Position: 0, Perms: permission.AllAllow()},
			{Name: "members", Color: "#98c379", Position: 1, Perms: member},
		}
		for _, g := range seeds {
			id, err := utils.RandomID()
			if err != nil {
				return err
			}
			g.ID = id
			if err := st.InsertGroup(g); err != nil {
				return err
			}
		}
	}

	if len(st.channels) == 0 {
		id, err := utils.RandomID()
		if err != nil {
			return err
		}
		if err := st.InsertChannel(models.Channel{ID: id, Name: "general", Position: 0}); err != nil {
			return err
		}
	}
	return nil
}

// Lock enters the exclusive section. It is held for one request's full
// authorize-apply-respond-broadcast cycle; there is no timeout, so a slow
// database call inside it stalls every other command.
func (st *Store) Lock() { st.mu.Lock() }

func (st *Store) Unlock() { st.mu.Unlock() }

// Users

func (st *Store) User(id int64) (models.User, error) {
	u, ok := st.users[id]
	if !ok {
		return models.User{}, database.ErrNotFound
	}
	return u, nil
}

func (st *Store) UserByName(username string) (models.User, error) {
	for _, u := range st.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, database.ErrNotFound
}

func (st *Store) Users() []models.User {
	users := make([]models.User, 0, len(st.users))
	for _, u := range st.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (st *Store) UserCount() int { return len(st.users) }

func (st *Store) InsertUser(u models.User) error {
	if err := st.db.CreateUser(u); err != nil {
		return err
	}
	st.users[u.ID] = u
	return nil
}

func (st *Store) UpdateUser(u models.User) error {
	if _, ok := st.users[u.ID]; !ok {
		return database.ErrNotFound
	}
	if err := st.db.UpdateUser(u); err != nil {
		return err
	}
	st.users[u.ID] = u
	return nil
}

// Groups

func (st *Store) Group(id int64) (models.Group, error) {
	g, ok := st.groups[id]
	if !ok {
		return models.Group{}, database.ErrNotFound
	}
	return g, nil
}

// Groups returns all groups ordered by position, highest rank first.
func (st *Store) Groups() []models.Group {
	groups := make([]models.Group, 0, len(st.groups))
	for _, g := range st.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Position < groups[j].Position })
	return groups
}

func (st *Store) GroupCount() int { return len(st.groups) }

func (st *Store) InsertGroup(g models.Group) error {
	if err := st.db.CreateGroup(g); err != nil {
		return err
	}
	st.groups[g.ID] = g
	return nil
}

func (st *Store) UpdateGroup(g models.Group) error {
	if _, ok := st.groups[g.ID]; !ok {
		return database.ErrNotFound
	}
	if err := st.db.UpdateGroup(g); err != nil {
		return err
	}
	st.groups[g.ID] = g
	return nil
}

// DeleteGroup removes the group and strips it from every member's group
// list. Position compaction is the caller's job.
func (st *Store) DeleteGroup(id int64) error {
	if _, ok := st.groups[id]; !ok {
		return database.ErrNotFound
	}
	if err := st.db.DeleteGroup(id); err != nil {
		return err
	}
	delete(st.groups, id)

	for _, u := range st.users {
		if !u.InGroup(id) {
			continue
		}
		// Fresh slice: the cached user shares u.Groups' backing array,
		// and a failed write must leave it untouched.
		kept := make([]int64, 0, len(u.Groups))
		for _, g := range u.Groups {
			if g != id {
				kept = append(kept, g)
			}
		}
		u.Groups = kept
		if err := st.UpdateUser(u); err != nil {
			return err
		}
	}
	return nil
}

// DefaultGroups returns the group ids assigned to a new user: every group
// for the very first account, otherwise only the lowest-ranked one.
func (st *Store) DefaultGroups(first bool) []int64 {
	groups := st.Groups()
	if len(groups) == 0 {
		return nil
	}
	if first {
		ids := make([]int64, len(groups))
		for i, g := range groups {
			ids[i] = g.ID
		}
		return ids
	}
	return []int64{groups[len(groups)-1].ID}
}

// Channels

func (st *Store) Channel(id int64) (models.Channel, error) {
	c, ok := st.channels[id]
	if !ok {
		return models.Channel{}, database.ErrNotFound
	}
	return c, nil
}

// Channels returns all channels in display order.
func (st *Store) Channels() []models.Channel {
	channels := make([]models.Channel, 0, len(st.channels))
	for _, c := range st.channels {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })
	return channels
}

func (st *Store) ChannelCount() int { return len(st.channels) }

func (st *Store) InsertChannel(c models.Channel) error {
	if err := st.db.CreateChannel(c); err != nil {
		return err
	}
	st.channels[c.ID] = c
	return nil
}

func (st *Store) UpdateChannel(c models.Channel) error {
	if _, ok := st.channels[c.ID]; !ok {
		return database.ErrNotFound
	}
	if err := st.db.UpdateChannel(c); err != nil {
		return err
	}
	st.channels[c.ID] = c
	return nil
}

// DeleteChannel removes the channel together with its message history and
// kicks any voice participants. Position compaction is the caller's job.
func (st *Store) DeleteChannel(id int64) error {
	if _, ok := st.channels[id]; !ok {
		return database.ErrNotFound
	}
	if err := st.db.DeleteChannel(id); err != nil {
		return err
	}
	if err := st.db.DeleteChannelMessages(id); err != nil {
		return err
	}
	delete(st.channels, id)

	for userID, chID := range st.voice {
		if chID == id {
			delete(st.voice, userID)
		}
	}
	return nil
}

// Messages

// AddToHistory persists the message, stamping it with the next monotonic
// sequence number.
func (st *Store) AddToHistory(msg *models.Message) error {
	msg.Sequence = st.nextSeq
	msg.Timestamp = time.Now().Unix()
	if err := st.db.AppendMessage(*msg); err != nil {
		return err
	}
	st.nextSeq++
	return nil
}

func (st *Store) Message(id int64) (models.Message, error) {
	return st.db.GetMessage(id)
}

func (st *Store) UpdateMessage(msg models.Message) error {
	return st.db.UpdateMessage(msg)
}

func (st *Store) DeleteMessage(id int64) error {
	return st.db.DeleteMessage(id)
}

// History pages a channel's messages, oldest first. beforeID names the
// message whose sequence bounds the page from above; 0 means newest page.
func (st *Store) History(channelID, beforeID int64, limit int) ([]models.Message, error) {
	var beforeSeq int64
	if beforeID != 0 {
		msg, err := st.db.GetMessage(beforeID)
		if err != nil {
			return nil, err
		}
		beforeSeq = msg.Sequence
	}
	return st.db.History(channelID, beforeSeq, limit)
}

// Presence

// Connect records one live authenticated connection for the user and
// reports whether the user just came online.
func (st *Store) Connect(userID int64) bool {
	st.online[userID]++
	return st.online[userID] == 1
}

// Disconnect drops one connection and reports whether the user went
// offline. The last connection also clears voice presence.
func (st *Store) Disconnect(userID int64) bool {
	if st.online[userID] == 0 {
		return false
	}
	st.online[userID]--
	if st.online[userID] > 0 {
		return false
	}
	delete(st.online, userID)
	delete(st.voice, userID)
	return true
}

// Online returns the ids of currently connected users, ascending.
func (st *Store) Online() []int64 {
	ids := make([]int64, 0, len(st.online))
	for id := range st.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (st *Store) IsOnline(userID int64) bool { return st.online[userID] > 0 }

// Voice presence

// JoinVoice moves the user's voice presence to the channel, returning the
// channel they left (0 if none).
func (st *Store) JoinVoice(userID, channelID int64) int64 {
	prev := st.voice[userID]
	st.voice[userID] = channelID
	return prev
}

// LeaveVoice clears the user's voice presence, returning the channel they
// left (0 if none).
func (st *Store) LeaveVoice(userID int64) int64 {
	prev := st.voice[userID]
	delete(st.voice, userID)
	return prev
}

// VoiceChannel returns the channel the user is in voice on, 0 if none.
func (st *Store) VoiceChannel(userID int64) int64 {
	return st.voice[userID]
}

// VoiceRoster returns the users present in a channel's voice, ascending.
func (st *Store) VoiceRoster(channelID int64) []int64 {
	var ids []int64
	for userID, chID := range st.voice {
		if chID == channelID {
			ids = append(ids, userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Server metadata

func (st *Store) Info() models.ServerInfo { return st.info }

func (st *Store) SetInfo(info models.ServerInfo) error {
	if err := st.db.UpdateServerInfo(info); err != nil {
		return err
	}
	st.info = info
	return nil
}

func (st *Store) Health() map[string]string { return st.db.Health() }
