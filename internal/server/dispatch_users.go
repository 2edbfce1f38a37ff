package server

import (
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/utils"
)

func (d *Dispatcher) nick(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.Nick](req)
	if !ok || utils.Blank(body.DisplayName) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	u, err := d.store.User(userID)
	if err != nil {
		return fail(req.Command, err)
	}
	u.DisplayName = body.DisplayName
	if err := d.store.UpdateUser(u); err != nil {
		return fail(req.Command, err)
	}

	d.broadcastUsers()
	return protocol.Ok(req.Command, u.Public())
}

func (d *Dispatcher) rename(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.Rename](req)
	if !ok || utils.Blank(body.Username) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	u, err := d.store.User(userID)
	if err != nil {
		return fail(req.Command, err)
	}
	if other, err := d.store.UserByName(body.Username); err == nil && other.ID != u.ID {
		return protocol.Fail(req.Command, protocol.StatusConflict)
	}
	u.Username = body.Username
	if err := d.store.UpdateUser(u); err != nil {
		return fail(req.Command, err)
	}

	d.broadcastUsers()
	return protocol.Ok(req.Command, u.Public())
}

func (d *Dispatcher) avatar(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.Avatar](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	u, err := d.store.User(userID)
	if err != nil {
		return fail(req.Command, err)
	}
	u.Avatar = body.Avatar
	if err := d.store.UpdateUser(u); err != nil {
		return fail(req.Command, err)
	}

	d.broadcastUsers()
	return protocol.Ok(req.Command, u.Public())
}

func (d *Dispatcher) password(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.Password](req)
	if !ok || body.New == "" {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	u, err := d.store.User(userID)
	if err != nil {
		return fail(req.Command, err)
	}
	match, err := d.creds.Verify(body.Old, u.Password)
	if err != nil {
		return fail(req.Command, err)
	}
	if !match {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	hash, err := d.creds.Hash(body.New)
	if err != nil {
		return fail(req.Command, err)
	}
	u.Password = hash
	if err := d.store.UpdateUser(u); err != nil {
		return fail(req.Command, err)
	}
	return protocol.Ok(req.Command, nil)
}

// ban marks a user banned and severs every connection they hold. The
// presence count is drained here, inside the exclusive section, so the
// asynchronous close callbacks that follow find nothing left to release.
func (d *Dispatcher) ban(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.BanUsers) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.Ban](req)
	if !ok || body.UserID == userID {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	target, err := d.store.User(body.UserID)
	if err != nil {
		return fail(req.Command, err)
	}
	target.Banned = true
	if err := d.store.UpdateUser(target); err != nil {
		return fail(req.Command, err)
	}

	voiceChannel := d.store.LeaveVoice(target.ID)
	wentOffline := false
	for d.store.IsOnline(target.ID) {
		if d.store.Disconnect(target.ID) {
			wentOffline = true
		}
	}
	if voiceChannel != 0 {
		d.broadcastVoice(protocol.CmdVoiceLeave, voiceChannel)
	}
	if wentOffline {
		d.broadcastOnline()
	}
	d.broadcastUsers()
	d.hub.CloseUser(target.ID)

	return protocol.Ok(req.Command, target.Public())
}

func (d *Dispatcher) updateServer(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyIconName) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.UpdateServer](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	info := d.store.Info()
	if body.Name != nil {
		if utils.Blank(*body.Name) {
			return protocol.Fail(req.Command, protocol.StatusBadRequest)
		}
		info.Name = *body.Name
	}
	if body.Icon != nil {
		info.Icon = *body.Icon
	}
	if err := d.store.SetInfo(info); err != nil {
		return fail(req.Command, err)
	}

	d.broadcastServerInfo()
	return protocol.Ok(req.Command, info)
}

func (d *Dispatcher) voiceJoin(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.VoiceJoin](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	if _, err := d.store.Channel(body.ChannelID); err != nil {
		return fail(req.Command, err)
	}
	if !d.store.AllowedInChannel(userID, body.ChannelID, permission.JoinVoice) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	previous := d.store.JoinVoice(userID, body.ChannelID)
	if previous != 0 && previous != body.ChannelID {
		d.broadcastVoice(protocol.CmdVoiceLeave, previous)
	}
	d.broadcastVoice(protocol.CmdVoiceJoin, body.ChannelID)

	return protocol.Ok(req.Command, protocol.VoiceState{
		ChannelID: body.ChannelID,
		Users:     d.store.VoiceRoster(body.ChannelID),
	})
}

func (d *Dispatcher) voiceLeave(userID int64) protocol.Response {
	channelID := d.store.LeaveVoice(userID)
	if channelID == 0 {
		return protocol.Fail(protocol.CmdVoiceLeave, protocol.StatusNotFound)
	}
	d.broadcastVoice(protocol.CmdVoiceLeave, channelID)
	return protocol.Ok(protocol.CmdVoiceLeave, nil)
}
