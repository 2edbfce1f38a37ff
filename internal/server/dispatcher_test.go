package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lxzan/event_emitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohaven/internal/auth"
	"gohaven/internal/database"
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/state"
)

type fakeSession struct {
	m map[string]any
}

func (s *fakeSession) Len() int { return len(s.m) }

func (s *fakeSession) Load(key string) (any, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *fakeSession) Delete(key string) { delete(s.m, key) }

func (s *fakeSession) Store(key string, value any) { s.m[key] = value }

func (s *fakeSession) Range(f func(key string, value any) bool) {
	for k, v := range s.m {
		if !f(k, v) {
			return
		}
	}
}

// fakePeer stands in for a websocket connection so commands can be driven
// through the dispatcher directly.
type fakePeer struct {
	id       int64
	session  *fakeSession
	userID   int64
	readable map[int64]bool
	frames   [][]byte
	closed   bool
}

func (p *fakePeer) GetSubscriberID() int64 { return p.id }

func (p *fakePeer) GetMetadata() event_emitter.Metadata { return p.session }

func (p *fakePeer) UserID() int64 { return p.userID }

func (p *fakePeer) SetUserID(id int64) { p.userID = id }

func (p *fakePeer) Readable() map[int64]bool { return p.readable }

func (p *fakePeer) SetReadable(channels map[int64]bool) { p.readable = channels }

func (p *fakePeer) Queue(payload []byte) {
	if !p.closed {
		p.frames = append(p.frames, payload)
	}
}

func (p *fakePeer) Close() { p.closed = true }

// envelope mirrors protocol.Response with a raw body so tests can decode
// the payload into whatever type the command returns.
type envelope struct {
	Command string          `json:"command"`
	Status  protocol.Status `json:"status"`
	Data    json.RawMessage `json:"data"`
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return newDispatcherOver(t, database.NewMemory())
}

func newDispatcherOver(t *testing.T, db database.Service) *Dispatcher {
	t.Helper()
	st, err := state.New(db)
	require.NoError(t, err)
	return NewDispatcher(st, NewHub(), auth.New())
}

// flakyService injects write failures into an otherwise working in-memory
// service.
type flakyService struct {
	database.Service
	updateChannelErr error
	appendErr        error
}

func (f *flakyService) UpdateChannel(ch models.Channel) error {
	if f.updateChannelErr != nil {
		return f.updateChannelErr
	}
	return f.Service.UpdateChannel(ch)
}

func (f *flakyService) AppendMessage(msg models.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Service.AppendMessage(msg)
}

var nextPeerID int64

func connect(d *Dispatcher) *fakePeer {
	nextPeerID++
	peer := &fakePeer{id: nextPeerID, session: &fakeSession{m: map[string]any{}}}
	d.Connect(peer)
	return peer
}

func send(t *testing.T, d *Dispatcher, peer *fakePeer, command string, payload any) envelope {
	t.Helper()
	var req protocol.Request
	req.Command = command
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Data = data
	}
	frame, err := json.Marshal(req)
	require.NoError(t, err)

	d.Handle(peer, frame)
	require.NotEmpty(t, peer.frames)

	var resp envelope
	require.NoError(t, json.Unmarshal(peer.frames[len(peer.frames)-1], &resp))
	return resp
}

func decodeAs[T any](t *testing.T, resp envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func register(t *testing.T, d *Dispatcher, peer *fakePeer, username string) models.PublicUser {
	t.Helper()
	resp := send(t, d, peer, protocol.CmdRegister, protocol.Register{Username: username, Password: "hunter22"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	return decodeAs[protocol.Identity](t, resp).User
}

func generalChannel(t *testing.T, d *Dispatcher, peer *fakePeer) models.Channel {
	t.Helper()
	resp := send(t, d, peer, protocol.CmdChannelList, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	for _, ch := range decodeAs[[]models.Channel](t, resp) {
		if ch.Name == "general" {
			return ch
		}
	}
	t.Fatal("seeded channel missing")
	return models.Channel{}
}

func TestRegisterReturnsFreshIdentity(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)

	user := register(t, d, peer, "alice")
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Len(t, user.Groups, 2) // first account joins every seeded group

	resp := send(t, d, peer, protocol.CmdRegister, protocol.Register{Username: "bob", Password: "pw"})
	assert.Equal(t, protocol.StatusMethodNotAllowed, resp.Status)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	d := newTestDispatcher(t)
	register(t, d, connect(d), "alice")

	resp := send(t, d, connect(d), protocol.CmdRegister, protocol.Register{Username: "alice", Password: "pw"})
	assert.Equal(t, protocol.StatusConflict, resp.Status)
}

func TestRegisterValidation(t *testing.T) {
	d := newTestDispatcher(t)

	resp := send(t, d, connect(d), protocol.CmdRegister, protocol.Register{Username: "  ", Password: "pw"})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)

	resp = send(t, d, connect(d), protocol.CmdRegister, protocol.Register{Username: "bob"})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)
}

func TestLogin(t *testing.T) {
	d := newTestDispatcher(t)
	register(t, d, connect(d), "alice")

	peer := connect(d)
	resp := send(t, d, peer, protocol.CmdLogin, protocol.Login{Username: "alice", Password: "wrong"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	// Unknown names fail the same way as bad passwords.
	resp = send(t, d, peer, protocol.CmdLogin, protocol.Login{Username: "nobody", Password: "pw"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	resp = send(t, d, peer, protocol.CmdLogin, protocol.Login{Username: "alice", Password: "hunter22"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, "alice", decodeAs[protocol.Identity](t, resp).User.Username)
}

func TestUnauthenticatedGate(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)

	resp := send(t, d, peer, protocol.CmdServerInfo, nil)
	assert.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, peer, protocol.CmdUsers, nil)
	assert.Equal(t, protocol.StatusOk, resp.Status)

	for _, command := range []string{
		protocol.CmdMessage, protocol.CmdHistory, protocol.CmdChannelList,
		protocol.CmdChannelCreate, protocol.CmdGroupList, protocol.CmdOnline,
		protocol.CmdVoiceJoin, protocol.CmdBan,
	} {
		resp = send(t, d, peer, command, nil)
		assert.Equal(t, protocol.StatusUnauthenticated, resp.Status, command)
	}
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")

	resp := send(t, d, peer, "bogus", nil)
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)
}

func TestMalformedFrame(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)

	d.Handle(peer, []byte("{not json"))
	var resp envelope
	require.NoError(t, json.Unmarshal(peer.frames[len(peer.frames)-1], &resp))
	assert.Equal(t, protocol.CmdError, resp.Command)
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)
}

func TestSendMessageAndHistory(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	user := register(t, d, peer, "alice")
	general := generalChannel(t, d, peer)

	var ids []int64
	for _, content := range []string{"one", "two", "three"} {
		resp := send(t, d, peer, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: content})
		require.Equal(t, protocol.StatusOk, resp.Status)
		msg := decodeAs[models.Message](t, resp)
		assert.Equal(t, user.ID, msg.AuthorID)
		assert.NotZero(t, msg.Timestamp)
		ids = append(ids, msg.ID)
	}

	resp := send(t, d, peer, protocol.CmdHistory, protocol.History{ChannelID: general.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)
	page := decodeAs[[]models.Message](t, resp)
	require.Len(t, page, 3)
	assert.Equal(t, "one", page[0].Content)
	assert.Equal(t, "three", page[2].Content)

	// Paging: everything before the last message.
	resp = send(t, d, peer, protocol.CmdHistory, protocol.History{ChannelID: general.ID, Before: ids[2], Limit: 1})
	require.Equal(t, protocol.StatusOk, resp.Status)
	page = decodeAs[[]models.Message](t, resp)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Content)
}

func TestSendMessageValidation(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")
	general := generalChannel(t, d, peer)

	resp := send(t, d, peer, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "   "})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)

	resp = send(t, d, peer, protocol.CmdMessage, protocol.SendMessage{ChannelID: 42, Content: "hi"})
	assert.Equal(t, protocol.StatusNotFound, resp.Status)

	resp = send(t, d, peer, protocol.CmdHistory, protocol.History{ChannelID: general.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Empty(t, decodeAs[[]models.Message](t, resp))
}

func TestMessageEditAndDelete(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")
	general := generalChannel(t, d, admin)

	member := connect(d)
	register(t, d, member, "bob")

	resp := send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	msg := decodeAs[models.Message](t, resp)

	// The author edits their own message.
	resp = send(t, d, member, protocol.CmdMessageEdit, protocol.EditMessage{MessageID: msg.ID, Content: "hi!"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.True(t, decodeAs[models.Message](t, resp).Edited)

	// A plain member cannot touch someone else's message.
	resp = send(t, d, admin, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "admin note"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	adminMsg := decodeAs[models.Message](t, resp)

	resp = send(t, d, member, protocol.CmdMessageDelete, protocol.DeleteMessage{MessageID: adminMsg.ID})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	// The admin group carries manage_messages and may delete anything.
	resp = send(t, d, admin, protocol.CmdMessageDelete, protocol.DeleteMessage{MessageID: msg.ID})
	assert.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdMessageEdit, protocol.EditMessage{MessageID: msg.ID, Content: "gone"})
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestChannelCreatePositions(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")

	// Appending at the current count is the last valid position.
	resp := send(t, d, peer, protocol.CmdChannelCreate, protocol.CreateChannel{Name: "random", Position: 1})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, 1, decodeAs[models.Channel](t, resp).Position)

	resp = send(t, d, peer, protocol.CmdChannelCreate, protocol.CreateChannel{Name: "late", Position: 3})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)

	// Inserting at the front shifts the rest down.
	resp = send(t, d, peer, protocol.CmdChannelCreate, protocol.CreateChannel{Name: "rules", Position: 0})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, 0, decodeAs[models.Channel](t, resp).Position)

	resp = send(t, d, peer, protocol.CmdChannelList, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	names := map[int]string{}
	for _, ch := range decodeAs[[]models.Channel](t, resp) {
		names[ch.Position] = ch.Name
	}
	assert.Equal(t, map[int]string{0: "rules", 1: "general", 2: "random"}, names)
}

func TestChannelUpdateAndDelete(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")
	general := generalChannel(t, d, peer)

	resp := send(t, d, peer, protocol.CmdChannelCreate, protocol.CreateChannel{Name: "random", Position: 1})
	require.Equal(t, protocol.StatusOk, resp.Status)
	random := decodeAs[models.Channel](t, resp)

	name := "lounge"
	pos := 0
	resp = send(t, d, peer, protocol.CmdChannelUpdate, protocol.UpdateChannel{ChannelID: random.ID, Name: &name, Position: &pos})
	require.Equal(t, protocol.StatusOk, resp.Status)
	updated := decodeAs[models.Channel](t, resp)
	assert.Equal(t, "lounge", updated.Name)
	assert.Equal(t, 0, updated.Position)

	bad := 5
	resp = send(t, d, peer, protocol.CmdChannelUpdate, protocol.UpdateChannel{ChannelID: random.ID, Position: &bad})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)

	resp = send(t, d, peer, protocol.CmdChannelDelete, protocol.DeleteChannel{ChannelID: random.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)

	// The survivor compacts back to position zero.
	resp = send(t, d, peer, protocol.CmdChannelList, nil)
	channels := decodeAs[[]models.Channel](t, resp)
	require.Len(t, channels, 1)
	assert.Equal(t, general.ID, channels[0].ID)
	assert.Equal(t, 0, channels[0].Position)
}

func TestChannelCommandsNeedPermission(t *testing.T) {
	d := newTestDispatcher(t)
	register(t, d, connect(d), "alice")

	member := connect(d)
	register(t, d, member, "bob")

	resp := send(t, d, member, protocol.CmdChannelCreate, protocol.CreateChannel{Name: "random", Position: 1})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	resp = send(t, d, member, protocol.CmdGroupCreate, protocol.CreateGroup{Name: "mods", Position: 2})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestGroupRankProtection(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")

	// Even the admin cannot create a group at or above their own rank.
	resp := send(t, d, admin, protocol.CmdGroupCreate, protocol.CreateGroup{Name: "super", Position: 0})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	resp = send(t, d, admin, protocol.CmdGroupCreate, protocol.CreateGroup{
		Name:     "mods",
		Position: 1,
		Perms:    permission.Permissions{ManageMessages: permission.Allow},
	})
	require.Equal(t, protocol.StatusOk, resp.Status)
	mods := decodeAs[models.Group](t, resp)
	assert.Equal(t, 1, mods.Position)

	// Moving a group to position zero would outrank the actor.
	zero := 0
	resp = send(t, d, admin, protocol.CmdGroupUpdate, protocol.UpdateGroup{GroupID: mods.ID, Position: &zero})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	// The admin group itself sits at the actor's own rank.
	resp = send(t, d, admin, protocol.CmdGroupList, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	var adminGroup models.Group
	for _, g := range decodeAs[[]models.Group](t, resp) {
		if g.Position == 0 {
			adminGroup = g
		}
	}
	require.NotZero(t, adminGroup.ID)

	resp = send(t, d, admin, protocol.CmdGroupDelete, protocol.DeleteGroup{GroupID: adminGroup.ID})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestGroupDeleteCompactsAndStripsMembers(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	adminUser := register(t, d, admin, "alice")

	resp := send(t, d, admin, protocol.CmdGroupCreate, protocol.CreateGroup{Name: "mods", Position: 1})
	require.Equal(t, protocol.StatusOk, resp.Status)
	mods := decodeAs[models.Group](t, resp)

	resp = send(t, d, admin, protocol.CmdUserGroups, protocol.UserGroups{
		UserID:   adminUser.ID,
		GroupIDs: append(adminUser.Groups, mods.ID),
	})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Contains(t, decodeAs[models.PublicUser](t, resp).Groups, mods.ID)

	resp = send(t, d, admin, protocol.CmdGroupDelete, protocol.DeleteGroup{GroupID: mods.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, admin, protocol.CmdGroupList, nil)
	groups := decodeAs[[]models.Group](t, resp)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.NotEqual(t, mods.ID, g.ID)
		assert.Less(t, g.Position, 2)
	}

	resp = send(t, d, admin, protocol.CmdUsers, nil)
	for _, u := range decodeAs[[]models.PublicUser](t, resp) {
		assert.NotContains(t, u.Groups, mods.ID)
	}
}

func TestUserGroupsRankRules(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")

	member := connect(d)
	memberUser := register(t, d, member, "bob")

	resp := send(t, d, admin, protocol.CmdGroupList, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	var adminGroup models.Group
	for _, g := range decodeAs[[]models.Group](t, resp) {
		if g.Position == 0 {
			adminGroup = g
		}
	}

	// Promoting someone into a group at the actor's own rank is refused.
	resp = send(t, d, admin, protocol.CmdUserGroups, protocol.UserGroups{
		UserID:   memberUser.ID,
		GroupIDs: append(memberUser.Groups, adminGroup.ID),
	})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	// Stripping all memberships is fine; they all sit below the admin.
	resp = send(t, d, admin, protocol.CmdUserGroups, protocol.UserGroups{UserID: memberUser.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Empty(t, decodeAs[models.PublicUser](t, resp).Groups)
}

func TestChannelOverridePrecedence(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")
	general := generalChannel(t, d, admin)

	member := connect(d)
	memberUser := register(t, d, member, "bob")
	membersGroup := memberUser.Groups[0]

	// A group-level deny on the channel beats the server-wide allow.
	deny := permission.Permissions{SendMessages: permission.Deny}
	resp := send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityGroup, ID: membersGroup},
		Perms:     &deny,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	// A user-level allow beats the group-level deny.
	allow := permission.Permissions{SendMessages: permission.Allow}
	resp = send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
		Perms:     &allow,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	assert.Equal(t, protocol.StatusOk, resp.Status)

	// Clearing the user override restores the group deny.
	resp = send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestReadDenyHidesChannel(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")
	general := generalChannel(t, d, admin)

	member := connect(d)
	memberUser := register(t, d, member, "bob")

	deny := permission.Permissions{ReadMessages: permission.Deny}
	resp := send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
		Perms:     &deny,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdChannelList, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Empty(t, decodeAs[[]models.Channel](t, resp))

	resp = send(t, d, member, protocol.CmdHistory, protocol.History{ChannelID: general.ID})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestProfileCommands(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")

	resp := send(t, d, peer, protocol.CmdNick, protocol.Nick{DisplayName: "Alice A."})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, "Alice A.", decodeAs[models.PublicUser](t, resp).DisplayName)

	resp = send(t, d, peer, protocol.CmdAvatar, protocol.Avatar{Avatar: "https://cdn.example/a.png"})
	require.Equal(t, protocol.StatusOk, resp.Status)

	other := connect(d)
	register(t, d, other, "bob")

	resp = send(t, d, peer, protocol.CmdRename, protocol.Rename{Username: "bob"})
	assert.Equal(t, protocol.StatusConflict, resp.Status)

	resp = send(t, d, peer, protocol.CmdRename, protocol.Rename{Username: "alicia"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, "alicia", decodeAs[models.PublicUser](t, resp).Username)
}

func TestPasswordChange(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	register(t, d, peer, "alice")

	resp := send(t, d, peer, protocol.CmdPassword, protocol.Password{Old: "wrong", New: "next"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)

	resp = send(t, d, peer, protocol.CmdPassword, protocol.Password{Old: "hunter22", New: "hunter23"})
	require.Equal(t, protocol.StatusOk, resp.Status)

	fresh := connect(d)
	resp = send(t, d, fresh, protocol.CmdLogin, protocol.Login{Username: "alice", Password: "hunter23"})
	assert.Equal(t, protocol.StatusOk, resp.Status)
}

func TestServerUpdate(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")

	name := "harbor"
	resp := send(t, d, admin, protocol.CmdServerUpdate, protocol.UpdateServer{Name: &name})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, admin, protocol.CmdServerInfo, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Equal(t, "harbor", decodeAs[models.ServerInfo](t, resp).Name)

	member := connect(d)
	register(t, d, member, "bob")
	other := "nope"
	resp = send(t, d, member, protocol.CmdServerUpdate, protocol.UpdateServer{Name: &other})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestBan(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	adminUser := register(t, d, admin, "alice")

	member := connect(d)
	memberUser := register(t, d, member, "bob")

	// Nobody bans themselves.
	resp := send(t, d, admin, protocol.CmdBan, protocol.Ban{UserID: adminUser.ID})
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)

	resp = send(t, d, admin, protocol.CmdBan, protocol.Ban{UserID: memberUser.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.True(t, member.closed)

	resp = send(t, d, admin, protocol.CmdOnline, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.NotContains(t, decodeAs[[]int64](t, resp), memberUser.ID)

	fresh := connect(d)
	resp = send(t, d, fresh, protocol.CmdLogin, protocol.Login{Username: "bob", Password: "hunter22"})
	assert.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestVoice(t *testing.T) {
	d := newTestDispatcher(t)
	peer := connect(d)
	user := register(t, d, peer, "alice")
	general := generalChannel(t, d, peer)

	resp := send(t, d, peer, protocol.CmdVoiceJoin, protocol.VoiceJoin{ChannelID: general.ID})
	require.Equal(t, protocol.StatusOk, resp.Status)
	roster := decodeAs[protocol.VoiceState](t, resp)
	assert.Equal(t, general.ID, roster.ChannelID)
	assert.Contains(t, roster.Users, user.ID)

	resp = send(t, d, peer, protocol.CmdVoiceJoin, protocol.VoiceJoin{ChannelID: 42})
	assert.Equal(t, protocol.StatusNotFound, resp.Status)

	resp = send(t, d, peer, protocol.CmdVoiceLeave, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, peer, protocol.CmdVoiceLeave, nil)
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestPresenceTracksConnections(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")

	first := connect(d)
	resp := send(t, d, first, protocol.CmdLogin, protocol.Login{Username: "alice", Password: "hunter22"})
	require.Equal(t, protocol.StatusOk, resp.Status)

	// Dropping one of two connections keeps the user online.
	d.Disconnect(first)
	resp = send(t, d, admin, protocol.CmdOnline, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Len(t, decodeAs[[]int64](t, resp), 1)

	observer := connect(d)
	register(t, d, observer, "bob")
	d.Disconnect(admin)

	resp = send(t, d, observer, protocol.CmdOnline, nil)
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Len(t, decodeAs[[]int64](t, resp), 1)
}

func TestBroadcastReachesOtherPeers(t *testing.T) {
	d := newTestDispatcher(t)
	sender := connect(d)
	register(t, d, sender, "alice")
	general := generalChannel(t, d, sender)

	receiver := connect(d)
	register(t, d, receiver, "bob")
	before := len(receiver.frames)

	resp := send(t, d, sender, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hello"})
	require.Equal(t, protocol.StatusOk, resp.Status)

	require.Greater(t, len(receiver.frames), before)
	var note envelope
	require.NoError(t, json.Unmarshal(receiver.frames[len(receiver.frames)-1], &note))
	assert.Equal(t, protocol.CmdMessage, note.Command)
	assert.Equal(t, "hello", decodeAs[models.Message](t, note).Content)
}

func TestHiddenChannelGetsNoBroadcast(t *testing.T) {
	d := newTestDispatcher(t)
	admin := connect(d)
	register(t, d, admin, "alice")
	general := generalChannel(t, d, admin)

	member := connect(d)
	memberUser := register(t, d, member, "bob")

	deny := permission.Permissions{ReadMessages: permission.Deny}
	resp := send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
		Perms:     &deny,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)
	before := len(member.frames)

	resp = send(t, d, admin, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "secret"})
	require.Equal(t, protocol.StatusOk, resp.Status)
	assert.Len(t, member.frames, before)
}

func TestBackendFailureMapsToInternalError(t *testing.T) {
	db := &flakyService{Service: database.NewMemory()}
	d := newDispatcherOver(t, db)
	peer := connect(d)
	register(t, d, peer, "alice")
	general := generalChannel(t, d, peer)

	db.appendErr = errors.New("disk full")
	resp := send(t, d, peer, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	assert.Equal(t, protocol.StatusInternalError, resp.Status)

	db.appendErr = nil
	resp = send(t, d, peer, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	assert.Equal(t, protocol.StatusOk, resp.Status)
}

func TestFailedOverrideClearKeepsEffectivePermissions(t *testing.T) {
	db := &flakyService{Service: database.NewMemory()}
	d := newDispatcherOver(t, db)
	admin := connect(d)
	register(t, d, admin, "alice")
	general := generalChannel(t, d, admin)

	member := connect(d)
	memberUser := register(t, d, member, "bob")

	// Group deny underneath a user allow: bob can send only through the
	// user-level override.
	deny := permission.Permissions{SendMessages: permission.Deny}
	resp := send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityGroup, ID: memberUser.Groups[0]},
		Perms:     &deny,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	allow := permission.Permissions{SendMessages: permission.Allow}
	resp = send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
		Perms:     &allow,
	})
	require.Equal(t, protocol.StatusOk, resp.Status)

	resp = send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "hi"})
	require.Equal(t, protocol.StatusOk, resp.Status)

	// Clearing the user override fails at the database; the cached
	// overrides must be left exactly as they were.
	db.updateChannelErr = errors.New("write failed")
	resp = send(t, d, admin, protocol.CmdChannelPerms, protocol.ChannelPerms{
		ChannelID: general.ID,
		Entity:    models.Entity{Kind: models.EntityUser, ID: memberUser.ID},
	})
	assert.Equal(t, protocol.StatusInternalError, resp.Status)

	resp = send(t, d, member, protocol.CmdMessage, protocol.SendMessage{ChannelID: general.ID, Content: "still here"})
	assert.Equal(t, protocol.StatusOk, resp.Status)
}

func TestDisconnectUnsubscribesPeer(t *testing.T) {
	d := newTestDispatcher(t)

	var peers []*fakePeer
	for i := 0; i < 100; i++ {
		peers = append(peers, connect(d))
	}
	require.Equal(t, 100, d.hub.emitter.CountSubscriberByTopic(topicGlobal))

	for _, p := range peers {
		d.Disconnect(p)
	}
	assert.Equal(t, 0, d.hub.emitter.CountSubscriberByTopic(topicGlobal))
}

func TestSocketQueueOverflowCloses(t *testing.T) {
	s := newSocket(nil, 1)

	for i := 0; i < sendBuffer; i++ {
		s.Queue([]byte("frame"))
	}
	select {
	case <-s.done:
		t.Fatal("socket closed before the buffer filled")
	default:
	}

	s.Queue([]byte("one too many"))
	select {
	case <-s.done:
	default:
		t.Fatal("overflowing the buffer must close the socket")
	}

	// Queue after close stays a no-op.
	s.Queue([]byte("late"))
}
