package server

import (
	"encoding/json"
	"errors"
	"log"

	"gohaven/internal/auth"
	"gohaven/internal/database"
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/state"
)

// Dispatcher turns inbound frames into state changes. Every request runs
// under the store lock for its whole authorize-apply-respond-broadcast
// cycle, so commands never interleave their effects on shared state.
type Dispatcher struct {
	store *state.Store
	hub   *Hub
	creds auth.Service
}

func NewDispatcher(store *state.Store, hub *Hub, creds auth.Service) *Dispatcher {
	return &Dispatcher{store: store, hub: hub, creds: creds}
}

// Connect registers a fresh, unauthenticated peer.
func (d *Dispatcher) Connect(peer Peer) {
	d.store.Lock()
	defer d.store.Unlock()

	channels := d.store.Channels()
	ids := make([]int64, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	peer.SetReadable(map[int64]bool{})
	d.hub.Register(peer, ids)
}

// Disconnect tears a peer down. Closing a connection never cancels a
// mutation it started; by the time this runs, any in-flight command has
// already left the exclusive section.
func (d *Dispatcher) Disconnect(peer Peer) {
	d.hub.Unregister(peer)

	userID := peer.UserID()
	if userID == 0 {
		return
	}

	d.store.Lock()
	defer d.store.Unlock()

	voiceChannel := d.store.VoiceChannel(userID)
	if d.store.Disconnect(userID) {
		d.broadcastOnline()
		if voiceChannel != 0 {
			d.broadcastVoice(protocol.CmdVoiceLeave, voiceChannel)
		}
	}
}

// Handle processes one inbound frame and queues exactly one response on the
// peer, plus whatever notifications the command fans out.
func (d *Dispatcher) Handle(peer Peer, frame []byte) {
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil || req.Command == "" {
		d.reply(peer, protocol.Fail(protocol.CmdError, protocol.StatusBadRequest))
		return
	}

	d.store.Lock()
	defer d.store.Unlock()
	d.reply(peer, d.route(peer, req))
}

func (d *Dispatcher) route(peer Peer, req protocol.Request) protocol.Response {
	switch req.Command {
	case protocol.CmdRegister:
		return d.register(peer, req)
	case protocol.CmdLogin:
		return d.login(peer, req)
	case protocol.CmdServerInfo:
		return protocol.Ok(req.Command, d.store.Info())
	case protocol.CmdUsers:
		return protocol.Ok(req.Command, d.publicUsers())
	}

	userID := peer.UserID()
	if userID == 0 {
		return protocol.Fail(req.Command, protocol.StatusUnauthenticated)
	}

	switch req.Command {
	case protocol.CmdMessage:
		return d.sendMessage(userID, req)
	case protocol.CmdMessageEdit:
		return d.editMessage(userID, req)
	case protocol.CmdMessageDelete:
		return d.deleteMessage(userID, req)
	case protocol.CmdHistory:
		return d.history(userID, req)
	case protocol.CmdChannelCreate:
		return d.createChannel(userID, req)
	case protocol.CmdChannelUpdate:
		return d.updateChannel(userID, req)
	case protocol.CmdChannelDelete:
		return d.deleteChannel(userID, req)
	case protocol.CmdChannelList:
		return protocol.Ok(req.Command, d.visibleChannels(userID))
	case protocol.CmdChannelPerms:
		return d.channelPerms(userID, req)
	case protocol.CmdGroupCreate:
		return d.createGroup(userID, req)
	case protocol.CmdGroupUpdate:
		return d.updateGroup(userID, req)
	case protocol.CmdGroupDelete:
		return d.deleteGroup(userID, req)
	case protocol.CmdGroupList:
		return protocol.Ok(req.Command, d.store.Groups())
	case protocol.CmdUserGroups:
		return d.userGroups(userID, req)
	case protocol.CmdOnline:
		return protocol.Ok(req.Command, d.store.Online())
	case protocol.CmdNick:
		return d.nick(userID, req)
	case protocol.CmdRename:
		return d.rename(userID, req)
	case protocol.CmdAvatar:
		return d.avatar(userID, req)
	case protocol.CmdPassword:
		return d.password(userID, req)
	case protocol.CmdBan:
		return d.ban(userID, req)
	case protocol.CmdServerUpdate:
		return d.updateServer(userID, req)
	case protocol.CmdVoiceJoin:
		return d.voiceJoin(userID, req)
	case protocol.CmdVoiceLeave:
		return d.voiceLeave(userID)
	default:
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}
}

// decode unmarshals a request payload, tolerating an absent body so that
// commands with all-optional fields stay callable without one.
func decode[T any](req protocol.Request) (T, bool) {
	var v T
	if len(req.Data) == 0 {
		return v, true
	}
	return v, json.Unmarshal(req.Data, &v) == nil
}

// fail maps an internal error onto a protocol status. Backing-store
// failures are logged in full here and reach the client as a bare
// InternalError.
func fail(command string, err error) protocol.Response {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, state.ErrUnknownUser),
		errors.Is(err, state.ErrUnknownChannel):
		return protocol.Fail(command, protocol.StatusNotFound)
	default:
		log.Println(command+":", err)
		return protocol.Fail(command, protocol.StatusInternalError)
	}
}

func (d *Dispatcher) reply(peer Peer, resp protocol.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Println("encoding response:", err)
		payload, _ = json.Marshal(protocol.Fail(resp.Command, protocol.StatusInternalError))
	}
	peer.Queue(payload)
}

// Broadcast helpers. All run inside the exclusive section; delivery to each
// peer is asynchronous through its outbound queue.

func (d *Dispatcher) broadcast(topic string, resp protocol.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Println("encoding broadcast:", err)
		return
	}
	d.hub.Publish(topic, payload)
}

func (d *Dispatcher) broadcastOnline() {
	d.broadcast(topicGlobal, protocol.Ok(protocol.CmdOnline, d.store.Online()))
}

func (d *Dispatcher) broadcastGroups() {
	d.broadcast(topicGlobal, protocol.Ok(protocol.CmdGroupList, d.store.Groups()))
}

func (d *Dispatcher) broadcastUsers() {
	d.broadcast(topicGlobal, protocol.Ok(protocol.CmdUsers, d.publicUsers()))
}

func (d *Dispatcher) broadcastServerInfo() {
	d.broadcast(topicGlobal, protocol.Ok(protocol.CmdServerInfo, d.store.Info()))
}

func (d *Dispatcher) broadcastVoice(command string, channelID int64) {
	d.broadcast(channelTopic(channelID), protocol.Ok(command, protocol.VoiceState{
		ChannelID: channelID,
		Users:     d.store.VoiceRoster(channelID),
	}))
}

func (d *Dispatcher) publicUsers() []models.PublicUser {
	users := d.store.Users()
	public := make([]models.PublicUser, len(users))
	for i, u := range users {
		public[i] = u.Public()
	}
	return public
}

func (d *Dispatcher) visibleChannels(userID int64) []models.Channel {
	var visible []models.Channel
	for _, ch := range d.store.Channels() {
		if d.store.AllowedInChannel(userID, ch.ID, permission.ReadMessages) {
			visible = append(visible, ch)
		}
	}
	if visible == nil {
		visible = []models.Channel{}
	}
	return visible
}

// refreshView recomputes one peer's readable set and pushes its filtered
// channel list.
func (d *Dispatcher) refreshView(peer Peer) {
	userID := peer.UserID()
	if userID == 0 {
		peer.SetReadable(map[int64]bool{})
		return
	}

	visible := d.visibleChannels(userID)
	readable := make(map[int64]bool, len(visible))
	for _, ch := range visible {
		readable[ch.ID] = true
	}
	peer.SetReadable(readable)

	payload, err := json.Marshal(protocol.Ok(protocol.CmdChannelList, visible))
	if err != nil {
		log.Println("encoding channel list:", err)
		return
	}
	peer.Queue(payload)
}

// refreshViews re-derives every connection's channel view after anything
// that may have changed visibility: channel mutations, overrides, group
// permission or membership changes.
func (d *Dispatcher) refreshViews() {
	d.hub.Each(func(peer Peer) {
		d.refreshView(peer)
	})
}
