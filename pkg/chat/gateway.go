// Package chat defines the surface this process expects from its chat
// platform collaborator. The collaborator owns transport, auth and the wire
// protocol; everything here is expressed in terms of already-authenticated
// platform operations. Implementations must be safe for concurrent use.
package chat

import "context"

// EventType discriminates gateway events.
type EventType int

const (
	// EventMessage is a message posted to a channel the process can see.
	EventMessage EventType = iota
	// EventMemberJoin is a new member joining the community.
	EventMemberJoin
	// EventInteraction is a component click or dialog submission.
	EventInteraction
	// EventCommand is a structured command invocation. Structured commands
	// carry pre-parsed arguments but are semantically identical to their
	// text-prefix counterparts.
	EventCommand
)

// Event is a single inbound platform event. Exactly one payload field is
// non-nil, matching Type.
type Event struct {
	Type        EventType
	Message     *Message
	Member      *Member
	Interaction *Interaction
	Command     *Command
}

// Command is a structured command invocation with named arguments.
type Command struct {
	Name      string
	Args      map[string]string
	UserID    int64
	ChannelID int64
	// Interaction carries the originating interaction when the platform
	// delivered the command interactively, so replies can be private.
	Interaction *Interaction
}

// Gateway is the single collaborator interface to the chat platform.
//
// Member lookups follow a cache-then-fetch discipline: Member consults the
// collaborator's local cache first and falls back to one live fetch; a final
// miss yields ErrNotFound. RefreshMember always performs a live fetch.
type Gateway interface {
	// CommunityID is the monitored community.
	CommunityID() int64
	// BotUserID is the platform identity of this process.
	BotUserID() int64

	// Events delivers inbound platform events. The channel is closed when
	// the gateway shuts down.
	Events() <-chan Event

	// SendMessage posts to a channel. opts may be nil.
	SendMessage(ctx context.Context, channelID int64, content string, opts *SendOptions) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID int64, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	FetchMessage(ctx context.Context, channelID, messageID int64) (*Message, error)
	// ChannelMessages returns up to limit recent messages, newest first.
	ChannelMessages(ctx context.Context, channelID int64, limit int) ([]*Message, error)

	// ChannelExists reports whether a channel can be resolved.
	ChannelExists(ctx context.Context, channelID int64) bool
	// ChannelIDs lists every channel in the community.
	ChannelIDs(ctx context.Context) ([]int64, error)

	Member(ctx context.Context, userID int64) (*Member, error)
	RefreshMember(ctx context.Context, userID int64) (*Member, error)
	// CachedMembers returns the collaborator's warm local member list. It
	// may be empty or partial; callers needing the full population should
	// prefer FetchMembers.
	CachedMembers() []*Member
	// FetchMembers enumerates the full population from the platform.
	FetchMembers(ctx context.Context) ([]*Member, error)

	// RoleByName resolves a role by display name.
	RoleByName(ctx context.Context, name string) (*Role, error)
	RoleByID(ctx context.Context, roleID int64) (*Role, error)
	CreateRole(ctx context.Context, name, reason string) (*Role, error)
	AddRole(ctx context.Context, userID, roleID int64, reason string) error
	RemoveRole(ctx context.Context, userID, roleID int64, reason string) error
	// SetChannelRoleVisibility grants or denies a role's view access on one
	// channel.
	SetChannelRoleVisibility(ctx context.Context, channelID, roleID int64, visible bool) error

	// IsOwner reports platform-asserted community ownership.
	IsOwner(userID int64) bool
	// HasAdministrator reports the platform-asserted administrator permission.
	HasAdministrator(userID int64) bool

	Respond(ctx context.Context, i *Interaction, r Reply) error
	OpenDialog(ctx context.Context, i *Interaction, d Dialog) error

	// Close shuts the gateway down and closes the event channel.
	Close() error
}
