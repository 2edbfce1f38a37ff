package server

import (
	"gohaven/internal/models"
	"gohaven/internal/permission"
	"gohaven/internal/protocol"
	"gohaven/internal/reorder"
	"gohaven/internal/utils"
)

func groupPosition(g models.Group) int { return g.Position }

func (d *Dispatcher) applyGroupPosition(g models.Group, newPos int) error {
	g.Position = newPos
	return d.store.UpdateGroup(g)
}

// outranks reports whether the actor may touch a group sitting at pos. A
// user only ever controls groups ranked strictly below their own best
// group, so admins cannot be edited out from underneath themselves.
func (d *Dispatcher) outranks(userID int64, pos int) bool {
	return pos > d.store.BestRank(userID)
}

func (d *Dispatcher) createGroup(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyGroups) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.CreateGroup](req)
	if !ok || utils.Blank(body.Name) {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	count := d.store.GroupCount()
	if body.Position < 0 || body.Position > count {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}
	if !d.outranks(userID, body.Position) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	id, err := utils.RandomID()
	if err != nil {
		return fail(req.Command, err)
	}
	g := models.Group{ID: id, Name: body.Name, Color: body.Color, Position: count, Perms: body.Perms}
	if err := d.store.InsertGroup(g); err != nil {
		return fail(req.Command, err)
	}

	if body.Position < count {
		err := reorder.Move(d.store.Groups(), groupPosition, count, body.Position, d.applyGroupPosition)
		if err != nil {
			return fail(req.Command, err)
		}
	}

	d.broadcastGroups()
	d.refreshViews()

	g, err = d.store.Group(g.ID)
	if err != nil {
		return fail(req.Command, err)
	}
	return protocol.Ok(req.Command, g)
}

func (d *Dispatcher) updateGroup(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyGroups) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.UpdateGroup](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	g, err := d.store.Group(body.GroupID)
	if err != nil {
		return fail(req.Command, err)
	}
	if !d.outranks(userID, g.Position) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	if body.Position != nil {
		if *body.Position < 0 || *body.Position >= d.store.GroupCount() {
			return protocol.Fail(req.Command, protocol.StatusBadRequest)
		}
		if !d.outranks(userID, *body.Position) {
			return protocol.Fail(req.Command, protocol.StatusForbidden)
		}
	}

	if body.Name != nil {
		if utils.Blank(*body.Name) {
			return protocol.Fail(req.Command, protocol.StatusBadRequest)
		}
		g.Name = *body.Name
	}
	if body.Color != nil {
		g.Color = *body.Color
	}
	if body.Perms != nil {
		g.Perms = *body.Perms
	}
	if err := d.store.UpdateGroup(g); err != nil {
		return fail(req.Command, err)
	}

	if body.Position != nil {
		err := reorder.Move(d.store.Groups(), groupPosition, g.Position, *body.Position, d.applyGroupPosition)
		if err != nil {
			return fail(req.Command, err)
		}
	}

	d.broadcastGroups()
	d.refreshViews()

	g, err = d.store.Group(g.ID)
	if err != nil {
		return fail(req.Command, err)
	}
	return protocol.Ok(req.Command, g)
}

func (d *Dispatcher) deleteGroup(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyGroups) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.DeleteGroup](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	g, err := d.store.Group(body.GroupID)
	if err != nil {
		return fail(req.Command, err)
	}
	if !d.outranks(userID, g.Position) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	if err := d.store.DeleteGroup(g.ID); err != nil {
		return fail(req.Command, err)
	}
	if err := reorder.Remove(d.store.Groups(), groupPosition, g.Position, d.applyGroupPosition); err != nil {
		return fail(req.Command, err)
	}

	// Deleting a group also strips it from every member.
	d.broadcastGroups()
	d.broadcastUsers()
	d.refreshViews()
	return protocol.Ok(req.Command, nil)
}

// userGroups replaces a user's group memberships. Only groups ranked
// strictly below the actor may enter or leave the set.
func (d *Dispatcher) userGroups(userID int64, req protocol.Request) protocol.Response {
	if !d.store.Allowed(userID, permission.ModifyUserGroups) {
		return protocol.Fail(req.Command, protocol.StatusForbidden)
	}

	body, ok := decode[protocol.UserGroups](req)
	if !ok {
		return protocol.Fail(req.Command, protocol.StatusBadRequest)
	}

	target, err := d.store.User(body.UserID)
	if err != nil {
		return fail(req.Command, err)
	}

	next := make(map[int64]bool, len(body.GroupIDs))
	for _, gid := range body.GroupIDs {
		if next[gid] {
			return protocol.Fail(req.Command, protocol.StatusBadRequest)
		}
		next[gid] = true
	}
	current := make(map[int64]bool, len(target.Groups))
	for _, gid := range target.Groups {
		current[gid] = true
	}

	for gid := range next {
		g, err := d.store.Group(gid)
		if err != nil {
			return fail(req.Command, err)
		}
		if !current[gid] && !d.outranks(userID, g.Position) {
			return protocol.Fail(req.Command, protocol.StatusForbidden)
		}
	}
	for gid := range current {
		if next[gid] {
			continue
		}
		g, err := d.store.Group(gid)
		if err != nil {
			return fail(req.Command, err)
		}
		if !d.outranks(userID, g.Position) {
			return protocol.Fail(req.Command, protocol.StatusForbidden)
		}
	}

	target.Groups = append([]int64(nil), body.GroupIDs...)
	if err := d.store.UpdateUser(target); err != nil {
		return fail(req.Command, err)
	}

	d.broadcastUsers()
	d.refreshViews()
	return protocol.Ok(req.Command, target.Public())
}
