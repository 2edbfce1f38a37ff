package server

import (
	"errors"

	"gohaven/internal/database"
	"gohaven/internal/models"
	"gohaven/internal/protocol"
	"gohaven/internal/utils"
)

// register creates an account and authenticates the connection in one step.
// The very first account gets every seeded group, admin included.
func (d *Dispatcher) register(peer Peer, req protocol.Request) protocol.Response {
	if peer.UserID() != 0 {
		return protocol.Fail(req.Command, protocol.StatusMethodNotAllowed)
	}

	body, ok := decode[protocol.Register](req)
	if !ok || utils.Blank(body.Username) || body.Password == "" {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	if _, err := d.store.UserByName(body.Username); err == nil {
		return protocol.Fail(req.Command, protocol.StatusConflict)
	}

	hash, err := d.creds.Hash(body.Password)
	if err != nil {
		return fail(req.Command, err)
	}

	id, err := utils.RandomID()
	if err != nil {
		return fail(req.Command, err)
	}

	displayName := body.DisplayName
	if utils.Blank(displayName) {
		displayName = body.Username
	}

	user := models.User{
		ID:          id,
		Username:    body.Username,
		DisplayName: displayName,
		Password:    hash,
		Groups:      d.store.DefaultGroups(d.store.UserCount() == 0),
	}
	if err := d.store.InsertUser(user); err != nil {
		return fail(req.Command, err)
	}

	d.authenticate(peer, user)
	d.broadcastUsers()
	return protocol.Ok(req.Command, protocol.Identity{User: user.Public()})
}

// login verifies credentials against the stored hash. Unknown names and bad
// passwords fail identically so the command cannot be used to probe for
// accounts.
func (d *Dispatcher) login(peer Peer, req protocol.Request) protocol.Response {
	if peer.UserID() != 0 {
		return protocol.Fail(req.Command, protocol.StatusMethodNotAllowed)
	}

	body, ok := decode[protocol.Login](req)
	if !ok || utils.Blank(body.Username) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	user, err := d.store.UserByName(body.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return protocol.Fail(req.Command, protocol.StatusForbidden)
		}
		return fail(req.Command, err)
	}

	match, err := d.creds.Verify(body.Password, user.Password)
	if err != nil {
		return fail(req.Command, err)
	}
	if !match || user.Banned {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	d.authenticate(peer, user)
	return protocol.Ok(req.Command, protocol.Identity{User: user.Public()})
}

// authenticate flips the connection to its authenticated state. This is the
// only place the transition happens, and it happens at most once per
// connection.
func (d *Dispatcher) authenticate(peer Peer, user models.User) {
	peer.SetUserID(user.ID)
	if d.store.Connect(user.ID) {
		d.broadcastOnline()
	}
	d.refreshView(peer)
}
