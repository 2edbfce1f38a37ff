package permission

import "encoding/json"

// Perm is a tri-state permission value. Default means "no opinion": it never
// authorizes anything on its own and defers to lower-precedence layers.
type Perm uint8

const (
	Default Perm = iota
	Allow
	Deny
)

func (p Perm) String() string {
	switch p {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "default"
	}
}

// Field names one of the nine permission slots.
type Field int

const (
	ModifyChannels Field = iota
	ModifyIconName
	ModifyGroups
	ModifyUserGroups
	BanUsers
	SendMessages
	ReadMessages
	ManageMessages
	JoinVoice

	fieldCount
)

// Permissions bundles the nine tri-state fields carried by a group or a
// per-channel override.
type Permissions struct {
	ModifyChannels   Perm
	ModifyIconName   Perm
	ModifyGroups     Perm
	ModifyUserGroups Perm
	BanUsers         Perm
	SendMessages     Perm
	ReadMessages     Perm
	ManageMessages   Perm
	JoinVoice        Perm
}

// Get returns the value of a single field. Unknown fields read as Default.
func (p Permissions) Get(f Field) Perm {
	switch f {
	case ModifyChannels:
		return p.ModifyChannels
	case ModifyIconName:
		return p.ModifyIconName
	case ModifyGroups:
		return p.ModifyGroups
	case ModifyUserGroups:
		return p.ModifyUserGroups
	case BanUsers:
		return p.BanUsers
	case SendMessages:
		return p.SendMessages
	case ReadMessages:
		return p.ReadMessages
	case ManageMessages:
		return p.ManageMessages
	case JoinVoice:
		return p.JoinVoice
	default:
		return Default
	}
}

// Set writes a single field, returning the updated bundle.
func (p Permissions) Set(f Field, v Perm) Permissions {
	switch f {
	case ModifyChannels:
		p.ModifyChannels = v
	case ModifyIconName:
		p.ModifyIconName = v
	case ModifyGroups:
		p.ModifyGroups = v
	case ModifyUserGroups:
		p.ModifyUserGroups = v
	case BanUsers:
		p.BanUsers = v
	case SendMessages:
		p.SendMessages = v
	case ReadMessages:
		p.ReadMessages = v
	case ManageMessages:
		p.ManageMessages = v
	case JoinVoice:
		p.JoinVoice = v
	}
	return p
}

// AllAllow returns a bundle with every field set to Allow.
func AllAllow() Permissions {
	var p Permissions
	for f := Field(0); f < fieldCount; f++ {
		p = p.Set(f, Allow)
	}
	return p
}

// Encode packs the nine fields into three bytes, two bits per field, four
// fields per byte, in Field order.
func (p Permissions) Encode() []byte {
	buf := make([]byte, 3)
	for f := Field(0); f < fieldCount; f++ {
		v := p.Get(f)
		if v > Deny {
			v = Default
		}
		buf[f/4] |= byte(v) << ((f % 4) * 2)
	}
	return buf
}

// Decode unpacks a byte sequence produced by Encode. Short or otherwise
// malformed input is not an error: every slot that cannot be read, and every
// slot holding an out-of-range value, decodes to Default.
func Decode(buf []byte) Permissions {
	var p Permissions
	for f := Field(0); f < fieldCount; f++ {
		if int(f/4) >= len(buf) {
			break
		}
		v := Perm(buf[f/4] >> ((f % 4) * 2) & 0b11)
		if v > Deny {
			v = Default
		}
		p = p.Set(f, v)
	}
	return p
}

// The packed form is also the canonical JSON representation, so a bundle
// round-trips identically over the wire and through the database.

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Encode())
}

func (p *Permissions) UnmarshalJSON(data []byte) error {
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Decode(raw)
	return nil
}
