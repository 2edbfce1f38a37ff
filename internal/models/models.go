package models

import "gohaven/internal/permission"

// User ids (and every other entity id) are 63-bit random integers. The
// Password field holds the argon2id hash and only ever travels between the
// store and the database; anything sent to a client goes through Public.
type User struct {
	ID          int64   `json:"uuid"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Avatar      string  `json:"avatar,omitempty"`
	Password    string  `json:"password,omitempty"`
	Groups      []int64 `json:"groups"`
	Banned      bool    `json:"banned,omitempty"`
}

// PublicUser is the client-visible projection of a User.
type PublicUser struct {
	ID          int64   `json:"uuid"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Avatar      string  `json:"avatar,omitempty"`
	Groups      []int64 `json:"groups"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Groups:      u.Groups,
	}
}

// InGroup reports whether the user is a member of the given group.
func (u User) InGroup(groupID int64) bool {
	for _, g := range u.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Group positions are a dense 0..N-1 permutation across all groups; a lower
// position means a higher privilege rank.
type Group struct {
	ID       int64                  `json:"uuid"`
	Name     string                 `json:"name"`
	Color    string                 `json:"color,omitempty"`
	Position int                    `json:"position"`
	Perms    permission.Permissions `json:"perms"`
}

// EntityKind discriminates the key of a per-channel permission override.
type EntityKind string

const (
	EntityUser  EntityKind = "user"
	EntityGroup EntityKind = "group"
)

// Entity keys a channel override to a specific user or group.
type Entity struct {
	Kind EntityKind `json:"kind"`
	ID   int64      `json:"uuid"`
}

// Override carries a per-channel tri-state permission bundle for one entity.
type Override struct {
	Entity Entity                 `json:"entity"`
	Perms  permission.Permissions `json:"perms"`
}

// Channel positions are a dense 0..N-1 permutation; display order only, no
// privilege semantics.
type Channel struct {
	ID        int64      `json:"uuid"`
	Name      string     `json:"name"`
	Position  int        `json:"position"`
	Overrides []Override `json:"overrides,omitempty"`
}

// FindOverride returns the override for an entity, if present.
func (c Channel) FindOverride(e Entity) (Override, bool) {
	for _, o := range c.Overrides {
		if o.Entity == e {
			return o, true
		}
	}
	return Override{}, false
}

// Message records one channel message. Sequence is assigned by the store on
// insert, monotonic across all messages, and drives history pagination; ID
// is the public identifier.
type Message struct {
	ID        int64  `json:"uuid"`
	ChannelID int64  `json:"channel_id"`
	AuthorID  int64  `json:"author_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Edited    bool   `json:"edited"`
	Sequence  int64  `json:"sequence"`
}

// ServerInfo is the server-wide display metadata.
type ServerInfo struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}
