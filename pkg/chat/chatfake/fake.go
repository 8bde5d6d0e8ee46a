// Package chatfake provides an in-memory chat.Gateway for tests and local
// dry runs. It plays the role miniredis plays for Redis-backed code: a real
// implementation of the collaborator surface with no network underneath.
package chatfake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// RoleMutation records one applied access-tag change.
type RoleMutation struct {
	UserID int64
	RoleID int64
	Add    bool
	Reason string
	At     time.Time
}

// RecordedReply records one interaction response.
type RecordedReply struct {
	Interaction *chat.Interaction
	Reply       chat.Reply
}

// Fake is an in-memory Gateway. All methods are safe for concurrent use.
// The zero value is not usable; construct with New.
type Fake struct {
	mu sync.Mutex

	communityID int64
	botUserID   int64
	ownerID     int64

	members map[int64]*chat.Member
	cached  map[int64]bool
	admins  map[int64]bool

	channels   map[int64][]*chat.Message
	nextMsgID  int64
	nextRoleID int64
	roles      map[int64]*chat.Role

	visibility map[int64]map[int64]bool // channelID -> roleID -> visible

	roleMutations []RoleMutation
	replies       []RecordedReply
	dialogs       []chat.Dialog
	attachments   []string

	// Failure injection. When set, the corresponding operations fail with
	// a generic transient error.
	FailSends         bool
	FailRoleMutations bool
	FailFetchMembers  bool

	events chan chat.Event
	closed bool
}

// New creates a fake gateway for the given community.
func New(communityID int64) *Fake {
	return &Fake{
		communityID: communityID,
		botUserID:   1,
		members:     make(map[int64]*chat.Member),
		cached:      make(map[int64]bool),
		admins:      make(map[int64]bool),
		channels:    make(map[int64][]*chat.Message),
		roles:       make(map[int64]*chat.Role),
		visibility:  make(map[int64]map[int64]bool),
		nextMsgID:   1000,
		nextRoleID:  1,
		events:      make(chan chat.Event, 64),
	}
}

func (f *Fake) CommunityID() int64 { return f.communityID }
func (f *Fake) BotUserID() int64   { return f.botUserID }

func (f *Fake) Events() <-chan chat.Event { return f.events }

// Close closes the event channel. Safe to call more than once.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Emit injects a platform event.
func (f *Fake) Emit(ev chat.Event) {
	f.events <- ev
}

// EmitMessage injects a channel message event authored by userID.
func (f *Fake) EmitMessage(channelID, userID int64, content string) *chat.Message {
	f.mu.Lock()
	f.nextMsgID++
	msg := &chat.Message{ID: f.nextMsgID, ChannelID: channelID, AuthorID: userID, Content: content}
	f.mu.Unlock()
	f.Emit(chat.Event{Type: chat.EventMessage, Message: msg})
	return msg
}

// EmitJoin injects a member-join event and adds the member.
func (f *Fake) EmitJoin(m *chat.Member) {
	f.AddMember(m)
	f.Emit(chat.Event{Type: chat.EventMemberJoin, Member: copyMember(m)})
}

// EmitInteraction injects an interaction event, assigning it an ID.
func (f *Fake) EmitInteraction(i *chat.Interaction) {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CommunityID == 0 {
		i.CommunityID = f.communityID
	}
	f.Emit(chat.Event{Type: chat.EventInteraction, Interaction: i})
}

// EmitCommand injects a structured command event.
func (f *Fake) EmitCommand(cmd *chat.Command) {
	f.Emit(chat.Event{Type: chat.EventCommand, Command: cmd})
}

// AddChannel makes a channel resolvable.
func (f *Fake) AddChannel(channelID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		f.channels[channelID] = nil
	}
}

// AddMember adds or replaces a member and places it in the warm cache.
func (f *Fake) AddMember(m *chat.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.ID] = copyMember(m)
	f.cached[m.ID] = true
}

// AddUncachedMember adds a member reachable only via live fetch.
func (f *Fake) AddUncachedMember(m *chat.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.ID] = copyMember(m)
	delete(f.cached, m.ID)
}

// SetPresence replaces a member's presence.
func (f *Fake) SetPresence(userID int64, p *chat.Presence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[userID]; ok {
		m.Presence = p
	}
}

// SetOwner marks the community owner.
func (f *Fake) SetOwner(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownerID = userID
}

// SetAdministrator grants or revokes the administrator permission.
func (f *Fake) SetAdministrator(userID int64, admin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[userID] = admin
}

func (f *Fake) IsOwner(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownerID != 0 && f.ownerID == userID
}

func (f *Fake) HasAdministrator(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID]
}

func (f *Fake) SendMessage(ctx context.Context, channelID int64, content string, opts *chat.SendOptions) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends {
		return nil, fmt.Errorf("chatfake: send failed (injected)")
	}
	if _, ok := f.channels[channelID]; !ok {
		return nil, chat.ErrNotFound
	}
	f.nextMsgID++
	msg := &chat.Message{ID: f.nextMsgID, ChannelID: channelID, AuthorID: f.botUserID, Content: content}
	f.channels[channelID] = append(f.channels[channelID], msg)
	if opts != nil && opts.AttachmentPath != "" {
		f.attachments = append(f.attachments, opts.AttachmentPath)
	}
	return &chat.Message{ID: msg.ID, ChannelID: msg.ChannelID, AuthorID: msg.AuthorID, Content: msg.Content}, nil
}

func (f *Fake) EditMessage(ctx context.Context, channelID, messageID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			m.Content = content
			return nil
		}
	}
	return chat.ErrNotFound
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.channels[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.channels[channelID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return chat.ErrNotFound
}

func (f *Fake) FetchMessage(ctx context.Context, channelID, messageID int64) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			return &chat.Message{ID: m.ID, ChannelID: m.ChannelID, AuthorID: m.AuthorID, Content: m.Content}, nil
		}
	}
	return nil, chat.ErrNotFound
}

func (f *Fake) ChannelMessages(ctx context.Context, channelID int64, limit int) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.channels[channelID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	var out []*chat.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := msgs[i]
		out = append(out, &chat.Message{ID: m.ID, ChannelID: m.ChannelID, AuthorID: m.AuthorID, Content: m.Content})
	}
	return out, nil
}

func (f *Fake) ChannelExists(ctx context.Context, channelID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

func (f *Fake) ChannelIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.channels))
	for id := range f.channels {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *Fake) Member(ctx context.Context, userID int64) (*chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	// cache-then-fetch: a live fetch warms the cache
	f.cached[userID] = true
	return copyMember(m), nil
}

func (f *Fake) RefreshMember(ctx context.Context, userID int64) (*chat.Member, error) {
	return f.Member(ctx, userID)
}

func (f *Fake) CachedMembers() []*chat.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*chat.Member
	for id := range f.cached {
		if m, ok := f.members[id]; ok {
			out = append(out, copyMember(m))
		}
	}
	return out
}

func (f *Fake) FetchMembers(ctx context.Context) ([]*chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetchMembers {
		return nil, fmt.Errorf("chatfake: member enumeration failed (injected)")
	}
	out := make([]*chat.Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, copyMember(m))
	}
	return out, nil
}

func (f *Fake) RoleByName(ctx context.Context, name string) (*chat.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.Name == name {
			return &chat.Role{ID: r.ID, Name: r.Name}, nil
		}
	}
	return nil, chat.ErrNotFound
}

func (f *Fake) RoleByID(ctx context.Context, roleID int64) (*chat.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[roleID]; ok {
		return &chat.Role{ID: r.ID, Name: r.Name}, nil
	}
	return nil, chat.ErrNotFound
}

func (f *Fake) CreateRole(ctx context.Context, name, reason string) (*chat.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRoleID++
	r := &chat.Role{ID: f.nextRoleID, Name: name}
	f.roles[r.ID] = r
	return &chat.Role{ID: r.ID, Name: r.Name}, nil
}

func (f *Fake) AddRole(ctx context.Context, userID, roleID int64, reason string) error {
	return f.mutateRole(userID, roleID, reason, true)
}

func (f *Fake) RemoveRole(ctx context.Context, userID, roleID int64, reason string) error {
	return f.mutateRole(userID, roleID, reason, false)
}

func (f *Fake) mutateRole(userID, roleID int64, reason string, add bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRoleMutations {
		return fmt.Errorf("chatfake: role mutation failed (injected)")
	}
	m, ok := f.members[userID]
	if !ok {
		return chat.ErrNotFound
	}
	if add {
		if !m.HasRole(roleID) {
			m.RoleIDs = append(m.RoleIDs, roleID)
		}
	} else {
		for i, id := range m.RoleIDs {
			if id == roleID {
				m.RoleIDs = append(m.RoleIDs[:i], m.RoleIDs[i+1:]...)
				break
			}
		}
	}
	f.roleMutations = append(f.roleMutations, RoleMutation{
		UserID: userID, RoleID: roleID, Add: add, Reason: reason, At: time.Now(),
	})
	return nil
}

func (f *Fake) SetChannelRoleVisibility(ctx context.Context, channelID, roleID int64, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visibility[channelID]; !ok {
		f.visibility[channelID] = make(map[int64]bool)
	}
	f.visibility[channelID][roleID] = visible
	return nil
}

func (f *Fake) Respond(ctx context.Context, i *chat.Interaction, r chat.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends {
		return fmt.Errorf("chatfake: respond failed (injected)")
	}
	f.replies = append(f.replies, RecordedReply{Interaction: i, Reply: r})
	return nil
}

func (f *Fake) OpenDialog(ctx context.Context, i *chat.Interaction, d chat.Dialog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogs = append(f.dialogs, d)
	return nil
}

// Visibility reports a role's recorded visibility on a channel; the second
// result is false when no overwrite was ever set.
func (f *Fake) Visibility(channelID, roleID int64) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.visibility[channelID]
	if !ok {
		return false, false
	}
	v, ok := m[roleID]
	return v, ok
}

// Messages returns the messages currently present in a channel, oldest first.
func (f *Fake) Messages(channelID int64) []*chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.channels[channelID]
	out := make([]*chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &chat.Message{ID: m.ID, ChannelID: m.ChannelID, AuthorID: m.AuthorID, Content: m.Content})
	}
	return out
}

// RoleMutations returns all applied role mutations in order.
func (f *Fake) RoleMutations() []RoleMutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RoleMutation, len(f.roleMutations))
	copy(out, f.roleMutations)
	return out
}

// Replies returns all recorded interaction replies in order.
func (f *Fake) Replies() []RecordedReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedReply, len(f.replies))
	copy(out, f.replies)
	return out
}

// Dialogs returns all opened dialogs in order.
func (f *Fake) Dialogs() []chat.Dialog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Dialog, len(f.dialogs))
	copy(out, f.dialogs)
	return out
}

// Attachments returns the file paths attached to sent messages, in order.
func (f *Fake) Attachments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.attachments))
	copy(out, f.attachments)
	return out
}

// MemberState returns the current stored member, for assertions on role state.
func (f *Fake) MemberState(userID int64) *chat.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[userID]; ok {
		return copyMember(m)
	}
	return nil
}

func copyMember(m *chat.Member) *chat.Member {
	cp := *m
	cp.RoleIDs = append([]int64(nil), m.RoleIDs...)
	if m.Presence != nil {
		p := *m.Presence
		if m.Presence.ClientStatus != nil {
			p.ClientStatus = make(map[string]string, len(m.Presence.ClientStatus))
			for k, v := range m.Presence.ClientStatus {
				p.ClientStatus[k] = v
			}
		}
		cp.Presence = &p
	}
	return &cp
}
