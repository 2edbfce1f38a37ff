package server

import (
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/reorder"
	"gohaven/internal/utils"
)

func channelPosition(ch models.Channel) int { return ch.Position }

func (d *Dispatcher) applyChannelPosition(ch models.Channel, newPos int) error {
	ch.Position = newPos
	return d.store.UpdateChannel(ch)
}

func (d *Dispatcher) createChannel(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyChannels) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.CreateChannel](req)
	if !ok || utils.Blank(body.Name) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	// Position may equal the current count (append) but never exceed it.
	count := d.store.ChannelCount()
	if body.Position < 0 || body.Position > count {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	id, err := utils.RandomID()
	if err != nil {
		return fail(req.Command, err)
	}
	ch := models.Channel{ID: id, Name: body.Name, Position: count}
	if err := d.store.InsertChannel(ch); err != nil {
		return fail(req.Command, err)
	}

	if body.Position < count {
		err := reorder.Move(d.store.Channels(), channelPosition, count, body.Position, d.applyChannelPosition)
		if err != nil {
			return fail(req.Command, err)
		}
	}

	d.hub.AddChannel(ch.ID)
	d.refreshViews()

	ch, err = d.store.Channel(ch.ID)
	if err != nil {
		return fail(req.Command, err)
	}
	return protocol.Ok(req.Command, ch)
}

func (d *Dispatcher) updateChannel(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyChannels) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.UpdateChannel](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	ch, err := d.store.Channel(body.ChannelID)
	if err != nil {
		return fail(req.Command, err)
	}

	if body.Position != nil && (*body.Position < 0 || *body.Position >= d.store.ChannelCount()) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	if body.Name != nil {
		if utils.Blank(*body.Name) {
			return protocol.Fail(req.Command, protocol.StatusBadRequest)
		}
		ch.Name = *body.Name
		if err := d.store.UpdateChannel(ch); err != nil {
			return fail(req.Command, err)
		}
	}

	if body.Position != nil {
		err := reorder.Move(d.store.Channels(), channelPosition, ch.Position, *body.Position, d.applyChannelPosition)
		if err != nil {
			return fail(req.Command, err)
		}
	}

	d.refreshViews()

	ch, err = d.store.Channel(ch.ID)
	if err != nil {
		return fail(req.Command, err)
	}
	return protocol.Ok(req.Command, ch)
}

func (d *Dispatcher) deleteChannel(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyChannels) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.DeleteChannel](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	ch, err := d.store.Channel(body.ChannelID)
	if err != nil {
		return fail(req.Command, err)
	}

	if err := d.store.DeleteChannel(ch.ID); err != nil {
		return fail(req.Command, err)
	}
	if err := reorder.Remove(d.store.Channels(), channelPosition, ch.Position, d.applyChannelPosition); err != nil {
		return fail(req.Command, err)
	}

	d.refreshViews()
	return protocol.Ok(req.Command, nil)
}

// channelPerms sets or, when no bundle is supplied, clears the per-channel
// override for one user or group entity.
func (d *Dispatcher) channelPerms(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyChannels) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.ChannelPerms](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	ch, err := d.store.Channel(body.ChannelID)
	if err != nil {
		return fail(req.Command, err)
	}

	switch body.Entity.Kind {
	case models.EntityUser:
		if _, err := d.store.User(body.Entity.ID); err != nil {
			return fail(req.Command, err)
		}
	case models.EntityGroup:
		if _, err := d.store.Group(body.Entity.ID); err != nil {
			return fail(req.Command, err)
		}
	default:
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	// Fresh slice: ch aliases the store's cached channel, and a failed
	// write below must leave the cached overrides untouched.
	kept := make([]models.Override, 0, len(ch.Overrides))
	for _, o := range ch.Overrides {
		if o.Entity != body.Entity {
			kept = append(kept, o)
		}
	}
	ch.Overrides = kept
	if body.Perms != nil {
		ch.Overrides = append(ch.Overrides, models.Override{Entity: body.Entity, Perms: *body.Perms})
	}

	if err := d.store.UpdateChannel(ch); err != nil {
		return fail(req.Command, err)
	}

	d.refreshViews()
	return protocol.Ok(req.Command, ch)
}
