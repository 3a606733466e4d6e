// Package feed is the client side of the channel feed protocol.
//
// A session keeps its view of a channel in sync like this:
//
//  1. subscribe to the channel (or thread) scope and wait for the
//     subscribed frame carrying the channel's commit sequence S;
//  2. fetch the newest page and Load it together with S;
//  3. Apply every event received since step 1, in arrival order.
//
// Events at or below the last applied sequence are dropped; events above
// it are applied idempotently, so an event already reflected in the page is
// harmless. A resync event means events were lost: the feed reports it and
// the caller reloads the newest page with Reload.
//
// Local sends are shown right away as tentative entries keyed by client
// nonce. The authoritative message, from the post response or from the
// message.created event carrying the same nonce, replaces the tentative
// entry; the two are never merged.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/pkg/wire"
)

// Page is one page of the message listing, newest page first.
type Page struct {
	Messages   []domain.Message `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Entry is a message as the feed shows it.
type Entry struct {
	domain.Message
	Reactions []domain.ReactionGroup `json:"reactions"`
	// Tentative entries were sent from this session and are not confirmed.
	Tentative bool   `json:"tentative"`
	Nonce     string `json:"nonce,omitempty"`
}

// Outcome tells the caller what Apply did with an event.
type Outcome int

const (
	Applied Outcome = iota
	// Ignored events belong to another scope or change nothing.
	Ignored
	// Stale events were at or below the last applied sequence.
	Stale
	// Resync means events were lost; reload the newest page.
	Resync
	// Deleted means the channel is gone.
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Stale:
		return "stale"
	case Resync:
		return "resync"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Options struct {
	// ThreadID makes the feed follow one thread instead of the channel's
	// top-level messages.
	ThreadID *uuid.UUID
	// IncludeHidden keeps moderated messages, as admins see them.
	IncludeHidden bool
}

// Feed is the local state of one channel or thread. It is safe for
// concurrent use.
type Feed struct {
	channelID uuid.UUID
	viewerID  uuid.UUID
	opts      Options

	mu        sync.Mutex
	entries   []Entry
	seq       uint64
	hasMore   bool
	cursor    string
	typing    domain.TypingSnapshot
	deleted   bool
	needsLoad bool
}

func New(channelID, viewerID uuid.UUID, opts Options) *Feed {
	return &Feed{
		channelID: channelID,
		viewerID:  viewerID,
		opts:      opts,
		typing:    domain.TypingSnapshot{ChannelID: channelID, Users: []domain.TypingUser{}},
	}
}

func (f *Feed) ChannelID() uuid.UUID { return f.channelID }

// Seq returns the last applied commit sequence.
func (f *Feed) Seq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// Load replaces the confirmed entries with the newest page. seq is the
// sequence from the subscribed frame that preceded the page request.
// Tentative entries survive until confirmed.
func (f *Feed) Load(page *Page, seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reactions := make(map[uuid.UUID][]domain.ReactionGroup, len(f.entries))
	for _, e := range f.entries {
		if !e.Tentative {
			reactions[e.ID] = e.Reactions
		}
	}

	entries := make([]Entry, 0, len(page.Messages)+len(f.entries))
	for _, m := range page.Messages {
		if !f.visible(&m) {
			continue
		}
		entries = append(entries, Entry{Message: m, Reactions: orEmpty(reactions[m.ID])})
	}
	for _, e := range f.entries {
		if e.Tentative {
			entries = append(entries, e)
		}
	}
	f.entries = entries
	f.sort()

	if seq > f.seq {
		f.seq = seq
	}
	f.hasMore = page.HasMore
	f.cursor = page.NextCursor
	f.needsLoad = false
}

// Reload replaces the confirmed entries after a resync. The sequence
// position is kept.
func (f *Feed) Reload(page *Page) {
	f.Load(page, 0)
}

// Prepend adds an older page in front of the loaded entries.
func (f *Feed) Prepend(page *Page) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range page.Messages {
		if !f.visible(&m) || f.indexOf(m.ID) >= 0 {
			continue
		}
		f.entries = append(f.entries, Entry{Message: m, Reactions: []domain.ReactionGroup{}})
	}
	f.sort()
	f.hasMore = page.HasMore
	f.cursor = page.NextCursor
}

// HasMore reports whether older pages exist and returns the cursor for the
// next one.
func (f *Feed) HasMore() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore, f.cursor
}

// NeedsReload is true after a resync until the next Load or Reload.
func (f *Feed) NeedsReload() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needsLoad
}

func (f *Feed) Deleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted
}

// AddTentative shows a message this session is sending before the server
// confirmed it.
func (f *Feed) AddTentative(nonce string, content string, attachments []domain.Attachment, now time.Time) Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	e := Entry{
		Message: domain.Message{
			ChannelID:   f.channelID,
			AuthorID:    f.viewerID,
			ParentID:    f.opts.ThreadID,
			Content:     content,
			Attachments: attachments,
			CreatedAt:   now,
			UpdatedAt:   now,
			ClientNonce: nonce,
		},
		Reactions: []domain.ReactionGroup{},
		Tentative: true,
		Nonce:     nonce,
	}
	f.entries = append(f.entries, e)
	f.sort()
	return e
}

// Confirm replaces the tentative entry for nonce with the stored message.
func (f *Feed) Confirm(nonce string, msg domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCreated(msg, nonce)
}

// Fail drops a tentative entry whose send was rejected.
func (f *Feed) Fail(nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeTentative(nonce)
}

// SetReactions installs aggregated groups fetched over HTTP.
func (f *Feed) SetReactions(groups map[uuid.UUID][]domain.ReactionGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range groups {
		if i := f.indexOf(id); i >= 0 {
			f.entries[i].Reactions = orEmpty(slices.Clone(g))
		}
	}
}

// Entries returns a copy of the feed, oldest first.
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, len(f.entries))
	for i, e := range f.entries {
		e.Reactions = cloneGroups(e.Reactions)
		out[i] = e
	}
	return out
}

// Typing returns who else is typing in the channel.
func (f *Feed) Typing() []domain.TypingUser {
	f.mu.Lock()
	defer f.mu.Unlock()

	users := make([]domain.TypingUser, 0, len(f.typing.Users))
	for _, u := range f.typing.Users {
		if u.UserID != f.viewerID {
			users = append(users, u)
		}
	}
	return users
}

// Apply folds a server event into the feed.
func (f *Feed) Apply(ev *wire.Event) (Outcome, error) {
	if ev.ChannelID != f.channelID {
		return Ignored, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Type {
	case wire.TypeResync:
		f.needsLoad = true
		if ev.Seq > 0 && ev.Seq-1 > f.seq {
			f.seq = ev.Seq - 1
		}
		return Resync, nil
	case wire.TypeTypingSync:
		var snap domain.TypingSnapshot
		if err := json.Unmarshal(ev.Payload, &snap); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		if snap.Version < f.typing.Version {
			return Stale, nil
		}
		f.typing = snap
		return Applied, nil
	case wire.TypeChannelDeleted:
		f.deleted = true
		f.entries = nil
		return Deleted, nil
	}

	if ev.Sequenced() {
		if ev.Seq <= f.seq {
			return Stale, nil
		}
		f.seq = ev.Seq
	}

	if ev.Type != wire.TypeReplyCountChanged && !f.inScope(ev.ThreadID) {
		return Ignored, nil
	}

	switch ev.Type {
	case wire.TypeMessageCreated:
		var msg domain.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		if !f.visible(&msg) {
			f.removeTentative(msg.ClientNonce)
			return Ignored, nil
		}
		f.upsertCreated(msg, msg.ClientNonce)

	case wire.TypeMessageUpdated:
		var msg domain.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		i := f.indexOf(msg.ID)
		switch {
		case !f.visible(&msg):
			if i < 0 {
				return Ignored, nil
			}
			f.entries = slices.Delete(f.entries, i, i+1)
		case i >= 0:
			f.entries[i].Message = msg
		default:
			// A message un-hidden by a moderator reappears.
			f.entries = append(f.entries, Entry{Message: msg, Reactions: []domain.ReactionGroup{}})
			f.sort()
		}

	case wire.TypeMessageDeleted:
		var p wire.MessageDeleted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		f.remove(p.ID)
		for _, id := range p.DeletedReplies {
			f.remove(id)
		}

	case wire.TypeReplyCountChanged:
		var p wire.ReplyCountChanged
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		i := f.indexOf(p.ParentID)
		if i < 0 {
			return Ignored, nil
		}
		f.entries[i].ReplyCount = p.ReplyCount

	case wire.TypeReactionCreated, wire.TypeReactionDeleted:
		var r domain.Reaction
		if err := json.Unmarshal(ev.Payload, &r); err != nil {
			return Ignored, fmt.Errorf("decoding %s: %w", ev.Type, err)
		}
		i := f.indexOf(r.MessageID)
		if i < 0 {
			return Ignored, nil
		}
		e := &f.entries[i]
		if ev.Type == wire.TypeReactionCreated {
			e.Reactions = addReaction(e.Reactions, r, f.viewerID)
		} else {
			e.Reactions = removeReaction(e.Reactions, r, f.viewerID)
		}

	default:
		return Ignored, nil
	}
	return Applied, nil
}

func (f *Feed) inScope(threadID *uuid.UUID) bool {
	if f.opts.ThreadID == nil {
		return threadID == nil
	}
	return threadID != nil && *threadID == *f.opts.ThreadID
}

func (f *Feed) visible(m *domain.Message) bool {
	return !m.IsHidden || f.opts.IncludeHidden
}

// upsertCreated inserts msg, replacing the tentative entry for nonce.
func (f *Feed) upsertCreated(msg domain.Message, nonce string) {
	f.removeTentative(nonce)
	msg.ClientNonce = ""
	if i := f.indexOf(msg.ID); i >= 0 {
		f.entries[i].Message = msg
		return
	}
	f.entries = append(f.entries, Entry{Message: msg, Reactions: []domain.ReactionGroup{}})
	f.sort()
}

func (f *Feed) removeTentative(nonce string) {
	if nonce == "" {
		return
	}
	f.entries = slices.DeleteFunc(f.entries, func(e Entry) bool {
		return e.Tentative && e.Nonce == nonce
	})
}

func (f *Feed) remove(id uuid.UUID) {
	if i := f.indexOf(id); i >= 0 {
		f.entries = slices.Delete(f.entries, i, i+1)
	}
}

func (f *Feed) indexOf(id uuid.UUID) int {
	for i := range f.entries {
		if !f.entries[i].Tentative && f.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// sort orders entries by creation time then id; tentative entries go last
// among equal timestamps.
func (f *Feed) sort() {
	slices.SortStableFunc(f.entries, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Tentative != b.Tentative {
			if a.Tentative {
				return 1
			}
			return -1
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}

func addReaction(groups []domain.ReactionGroup, r domain.Reaction, viewer uuid.UUID) []domain.ReactionGroup {
	for i := range groups {
		g := &groups[i]
		if g.Emoji != r.Emoji {
			continue
		}
		if slices.Contains(g.UserIDs, r.UserID) {
			return groups
		}
		g.UserIDs = append(g.UserIDs, r.UserID)
		g.Count = len(g.UserIDs)
		if r.UserID == viewer {
			g.HasReacted = true
		}
		return groups
	}
	return append(groups, domain.ReactionGroup{
		Emoji:      r.Emoji,
		Count:      1,
		UserIDs:    []uuid.UUID{r.UserID},
		HasReacted: r.UserID == viewer,
	})
}

func removeReaction(groups []domain.ReactionGroup, r domain.Reaction, viewer uuid.UUID) []domain.ReactionGroup {
	for i := range groups {
		g := &groups[i]
		if g.Emoji != r.Emoji {
			continue
		}
		g.UserIDs = slices.DeleteFunc(g.UserIDs, func(id uuid.UUID) bool { return id == r.UserID })
		g.Count = len(g.UserIDs)
		if r.UserID == viewer {
			g.HasReacted = false
		}
		if g.Count == 0 {
			return slices.Delete(groups, i, i+1)
		}
		return groups
	}
	return groups
}

func cloneGroups(groups []domain.ReactionGroup) []domain.ReactionGroup {
	out := make([]domain.ReactionGroup, len(groups))
	for i, g := range groups {
		g.UserIDs = slices.Clone(g.UserIDs)
		out[i] = g
	}
	return out
}

func orEmpty(groups []domain.ReactionGroup) []domain.ReactionGroup {
	if groups == nil {
		return []domain.ReactionGroup{}
	}
	return groups
}
