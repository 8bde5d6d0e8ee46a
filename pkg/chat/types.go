package chat

import "time"

// Member is a community member as reported by the chat platform.
// Members are ephemeral: they are reconstructed from the platform on each
// lookup and never owned long-term by this process.
type Member struct {
	ID          int64
	Tag         string // platform handle, e.g. "name#1234"
	DisplayName string
	Bot         bool
	JoinedAt    time.Time // zero when the platform has no recorded join time
	RoleIDs     []int64
	Presence    *Presence // nil when no live connection data is available
}

// HasRole reports whether the member currently carries the given role.
func (m *Member) HasRole(roleID int64) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Presence describes a member's raw per-surface connection status.
// Both representations may be present; either may be partial. A status of
// "" or "offline" means the surface is not live.
type Presence struct {
	DesktopStatus string
	MobileStatus  string
	WebStatus     string
	ClientStatus  map[string]string // raw surface name -> status
}

// Role is an access tag on the platform.
type Role struct {
	ID   int64
	Name string
}

// Message is a message posted to a channel.
type Message struct {
	ID        int64
	ChannelID int64
	AuthorID  int64
	Content   string
}

// Component is an interactive control attached to a message.
type Component struct {
	CustomID string
	Label    string
	Style    string // "primary", "success", "danger", "secondary"
}

// SelectOption is a single entry of a select menu.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectMenu is a multi-select control attached to a message.
type SelectMenu struct {
	CustomID    string
	Placeholder string
	MinValues   int
	MaxValues   int
	Options     []SelectOption
}

// SendOptions tunes message delivery.
type SendOptions struct {
	// SilentMentions keeps any mention text in the message body without
	// producing a notification for the mentioned users.
	SilentMentions bool
	// AttachmentPath attaches a local file to the message.
	AttachmentPath string
	Components     []Component
	Select         *SelectMenu
}

// Dialog is a private single-input form opened in response to an interaction.
type Dialog struct {
	CustomID    string
	Title       string
	Label       string
	Placeholder string
}

// Reply is the response to an interaction.
type Reply struct {
	Content string
	// Private makes the reply visible only to the interacting user.
	Private    bool
	Components []Component
	Select     *SelectMenu
	// EditOriginal replaces the content and controls of the message the
	// interaction was attached to instead of sending a new reply.
	EditOriginal bool
}

// InteractionType discriminates interaction events.
type InteractionType int

const (
	// InteractionComponent is a click on a button or a select submission.
	InteractionComponent InteractionType = iota
	// InteractionDialog is a submitted dialog form.
	InteractionDialog
)

// Interaction is a user action on an interactive control.
type Interaction struct {
	ID          string
	Type        InteractionType
	CustomID    string
	UserID      int64
	CommunityID int64
	ChannelID   int64
	MessageID   int64 // message the component belongs to, 0 for dialogs
	Values      []string
	Input       string // dialog text input
}
