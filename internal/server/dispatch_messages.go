package server

import (
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/utils"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 100
)

func (d *Dispatcher) sendMessage(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.SendMessage](req)
	if !ok || utils.Blank(body.Content) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	if _, err := d.store.Channel(body.ChannelID); err != nil {
		return fail(req.Command, err)
	}
	if !d.store.AllowedInChannel(userID, body.ChannelID, permission.SendMessages) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	id, err := utils.RandomID()
	if err != nil {
		return fail(req.Command, err)
	}
	msg := models.Message{
		ID:        id,
		ChannelID: body.ChannelID,
		AuthorID:  userID,
		Content:   body.Content,
	}
	if err := d.store.AddToHistory(&msg); err != nil {
		return fail(req.Command, err)
	}

	d.broadcast(channelTopic(msg.ChannelID), protocol.Ok(protocol.CmdMessage, msg))
	return protocol.Ok(req.Command, msg)
}

// canManage reports whether the user may edit or delete a message: its
// author always can, anyone else needs manage_messages on the channel.
func (d *Dispatcher) canManage(userID int64, msg models.Message) bool {
	if msg.AuthorID == userID {
		return true
	}
	return d.store.AllowedInChannel(userID, msg.ChannelID, permission.ManageMessages)
}

func (d *Dispatcher) editMessage(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.EditMessage](req)
	if !ok || utils.Blank(body.Content) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	msg, err := d.store.Message(body.MessageID)
	if err != nil {
		return fail(req.Command, err)
	}
	if !d.canManage(userID, msg) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	msg.Content = body.Content
	msg.Edited = true
	if err := d.store.UpdateMessage(msg); err != nil {
		return fail(req.Command, err)
	}

	d.broadcast(channelTopic(msg.ChannelID), protocol.Ok(protocol.CmdMessageEdit, msg))
	return protocol.Ok(req.Command, msg)
}

func (d *Dispatcher) deleteMessage(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.DeleteMessage](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	msg, err := d.store.Message(body.MessageID)
	if err != nil {
		return fail(req.Command, err)
	}
	if !d.canManage(userID, msg) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	if err := d.store.DeleteMessage(msg.ID); err != nil {
		return fail(req.Command, err)
	}

	d.broadcast(channelTopic(msg.ChannelID), protocol.Ok(protocol.CmdMessageDelete, protocol.DeleteMessage{
		MessageID: msg.ID,
	}))
	return protocol.Ok(req.Command, nil)
}

func (d *Dispatcher) history(userID int64, req protocol.Request) protocol.Response {
	body, ok := decode[protocol.History](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	if _, err := d.store.Channel(body.ChannelID); err != nil {
		return fail(req.Command, err)
	}
	if !d.store.AllowedInChannel(userID, body.ChannelID, permission.ReadMessages) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	limit := body.Limit
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	page, err := d.store.History(body.ChannelID, body.Before, limit)
	if err != nil {
		return fail(req.Command, err)
	}
	if page == nil {
		page = []models.Message{}
	}
	return protocol.Ok(req.Command, page)
}
