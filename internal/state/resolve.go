package state

import (
	"errors"
	"math"

	"gohaven/internal/models"
	"gohaven/internal/permission"
)

// Resolution of effective permissions. Callers are expected to have verified
// the user exists; an unknown id is reported, never silently defaulted.

var (
	ErrUnknownUser    = errors.New("state: unknown user")
	ErrUnknownChannel = errors.New("state: unknown channel")
)

// EffectiveServerPerm resolves the server-wide value of one field for a
// user: among the user's groups, the highest-ranked (lowest-position) group
// with a non-Default value wins. No opinion anywhere yields Default, which
// never authorizes.
func (st *Store) EffectiveServerPerm(userID int64, f permission.Field) (permission.Perm, error) {
	u, ok := st.users[userID]
	if !ok {
		return permission.Default, ErrUnknownUser
	}

	for _, g := range st.Groups() {
		if !u.InGroup(g.ID) {
			continue
		}
		if v := g.Perms.Get(f); v != permission.Default {
			return v, nil
		}
	}
	return permission.Default, nil
}

// EffectiveChannelPerm resolves one field for a user in a channel. Highest
// precedence first: the channel's override for this specific user, then the
// channel's overrides for the user's groups by rank, then the server-wide
// effective value. The first non-Default value wins.
func (st *Store) EffectiveChannelPerm(userID, channelID int64, f permission.Field) (permission.Perm, error) {
	u, ok := st.users[userID]
	if !ok {
		return permission.Default, ErrUnknownUser
	}
	ch, ok := st.channels[channelID]
	if !ok {
		return permission.Default, ErrUnknownChannel
	}

	if o, found := ch.FindOverride(models.Entity{Kind: models.EntityUser, ID: userID}); found {
		if v := o.Perms.Get(f); v != permission.Default {
			return v, nil
		}
	}

	for _, g := range st.Groups() {
		if !u.InGroup(g.ID) {
			continue
		}
		o, found := ch.FindOverride(models.Entity{Kind: models.EntityGroup, ID: g.ID})
		if !found {
			continue
		}
		if v := o.Perms.Get(f); v != permission.Default {
			return v, nil
		}
	}

	return st.EffectiveServerPerm(userID, f)
}

// Allowed reports whether the server-wide effective value is Allow.
func (st *Store) Allowed(userID int64, f permission.Field) bool {
	v, err := st.EffectiveServerPerm(userID, f)
	return err == nil && v == permission.Allow
}

// AllowedInChannel reports whether the channel effective value is Allow.
func (st *Store) AllowedInChannel(userID, channelID int64, f permission.Field) bool {
	v, err := st.EffectiveChannelPerm(userID, channelID, f)
	return err == nil && v == permission.Allow
}

// BestRank returns the user's highest privilege rank, i.e. the lowest
// position among their groups. A user with no groups ranks below everything.
func (st *Store) BestRank(userID int64) int {
	best := math.MaxInt
	u, ok := st.users[userID]
	if !ok {
		return best
	}
	for _, gid := range u.Groups {
		if g, found := st.groups[gid]; found && g.Position < best {
			best = g.Position
		}
	}
	return best
}
