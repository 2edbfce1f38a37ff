// Package protocol defines the envelope exchanged over a connection: one
// JSON object per frame, requests and responses sharing the command tag.
// Server-initiated notifications reuse the envelope and the command tag of
// the response they correspond to.
package protocol

import (
	"encoding/json"

	"gohaven/internal/models"
	"gohaven/internal/permission"
)

// Status is the numeric outcome of a request. The values track HTTP so they
// read naturally in logs, but they are protocol statuses, not HTTP ones.
type Status int

const (
	StatusOk               Status = 200
	StatusBadRequest       Status = 400
	StatusUnauthenticated  Status = 401
	StatusForbidden        Status = 403
	StatusNotFound         Status = 404
	StatusMethodNotAllowed Status = 405
	StatusConflict         Status = 409
	StatusInternalError    Status = 500
)

// Command tags. Request, response and notification for one concern all share
// a tag.
const (
	CmdRegister      = "register"
	CmdLogin         = "login"
	CmdMessage       = "message"
	CmdMessageEdit   = "message_edit"
	CmdMessageDelete = "message_delete"
	CmdHistory       = "history"
	CmdChannelCreate = "channel_create"
	CmdChannelUpdate = "channel_update"
	CmdChannelDelete = "channel_delete"
	CmdChannelList   = "channel_list"
	CmdChannelPerms  = "channel_perms"
	CmdGroupCreate   = "group_create"
	CmdGroupUpdate   = "group_update"
	CmdGroupDelete   = "group_delete"
	CmdGroupList     = "group_list"
	CmdUserGroups    = "user_groups"
	CmdOnline        = "online"
	CmdUsers         = "users"
	CmdNick          = "nick"
	CmdRename        = "rename"
	CmdAvatar        = "avatar"
	CmdPassword      = "password"
	CmdBan           = "ban"
	CmdServerInfo    = "server_info"
	CmdServerUpdate  = "server_update"
	CmdVoiceJoin     = "voice_join"
	CmdVoiceLeave    = "voice_leave"
	CmdError         = "error"
)

type Request struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	Command string `json:"command"`
	Status  Status `json:"status"`
	Data    any    `json:"data,omitempty"`
}

func Ok(command string, data any) Response {
	return Response{Command: command, Status: StatusOk, Data: data}
}

func Fail(command string, status Status) Response {
	return Response{Command: command, Status: status}
}

// Request payloads. Pointer fields mean "leave unchanged" on update commands.

type Register struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SendMessage struct {
	ChannelID int64  `json:"channel_id"`
	Content   string `json:"content"`
}

type EditMessage struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID int64 `json:"message_id"`
}

type History struct {
	ChannelID int64 `json:"channel_id"`
	Before    int64 `json:"before,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

type CreateChannel struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type UpdateChannel struct {
	ChannelID int64   `json:"channel_id"`
	Name      *string `json:"name,omitempty"`
	Position  *int    `json:"position,omitempty"`
}

type DeleteChannel struct {
	ChannelID int64 `json:"channel_id"`
}

// ChannelPerms sets (or, with a nil Perms, clears) the per-channel override
// for one entity.
type ChannelPerms struct {
	ChannelID int64                   `json:"channel_id"`
	Entity    models.Entity           `json:"entity"`
	Perms     *permission.Permissions `json:"perms,omitempty"`
}

type CreateGroup struct {
	Name     string                 `json:"name"`
	Color    string                 `json:"color,omitempty"`
	Position int                    `json:"position"`
	Perms    permission.Permissions `json:"perms"`
}

type UpdateGroup struct {
	GroupID  int64                   `json:"group_id"`
	Name     *string                 `json:"name,omitempty"`
	Color    *string                 `json:"color,omitempty"`
	Position *int                    `json:"position,omitempty"`
	Perms    *permission.Permissions `json:"perms,omitempty"`
}

type DeleteGroup struct {
	GroupID int64 `json:"group_id"`
}

type UserGroups struct {
	UserID   int64   `json:"user_id"`
	GroupIDs []int64 `json:"group_ids"`
}

type Nick struct {
	DisplayName string `json:"display_name"`
}

type Rename struct {
	Username string `json:"username"`
}

type Avatar struct {
	Avatar string `json:"avatar"`
}

type Password struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type Ban struct {
	UserID int64 `json:"user_id"`
}

type UpdateServer struct {
	Name *string `json:"name,omitempty"`
	Icon *string `json:"icon,omitempty"`
}

type VoiceJoin struct {
	ChannelID int64 `json:"channel_id"`
}

// Notification payloads.

// VoiceState is broadcast on a channel topic when its voice roster changes.
type VoiceState struct {
	ChannelID int64   `json:"channel_id"`
	Users     []int64 `json:"users"`
}

// Identity is returned by register and login.
type Identity struct {
	User models.PublicUser `json:"user"`
}
