// Package channel tracks the set of joined channels and their runtime state:
// a bounded FIFO ring of recent messages, channel membership, and the mapping
// from display names to stable user IDs across renames. All state is owned by
// a single Registry behind one mutex; every component that needs channel or
// identity data is handed the Registry explicitly.
package channel

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatbot/telemetry"
)

// Message is one recorded chat message. Immutable once recorded; owned by its
// channel's history ring.
type Message struct {
	UserID  string
	Login   string            // login name at time of send
	Display string            // display name at time of send
	Text    string
	Tags    map[string]string // role flags, timestamps
	At      time.Time
	Seq     uint64 // position in the registry-wide sequence
}

// Identity is a read-only view of a tracked user. The stable ID never changes
// for the lifetime of the account; the current name is updated and the old
// name archived whenever a rename is observed.
type Identity struct {
	ID         string
	Name       string
	PriorNames []string
}

// Channel holds the runtime state of one joined channel. Access it only
// through Registry methods or while holding the Registry's lock via snapshot
// accessors.
type Channel struct {
	Name          string
	Live          bool
	Mod           bool // the bot holds moderator status here
	Joined        bool // end-of-names received
	Active        bool // per-channel response toggle
	ActiveOnline  bool
	ActiveOffline bool

	history []Message // FIFO ring, oldest first
	users   map[string]bool
	mods    map[string]bool
	perUser map[string][]uint64 // login -> history seqs, trimmed on eviction
}

// Responsive reports whether the channel is configured to respond in its
// current live state.
func (c *Channel) Responsive() bool {
	if !c.Active {
		return false
	}
	if c.Live {
		return c.ActiveOnline
	}
	return c.ActiveOffline
}

// Store persists the username-to-ID mapping. Implemented by the db package;
// the registry only calls through these hooks.
type Store interface {
	LoadIdentities(ctx context.Context) ([]Identity, error)
	SaveIdentities(ctx context.Context, ids []Identity) error
}

// Registry owns all channel and identity state.
type Registry struct {
	mu    sync.Mutex
	limit int
	store Store // may be nil

	channels   map[string]*Channel
	identities map[string]*Identity // by stable ID
	byName     map[string]string    // lowercased current name -> ID
	dirty      map[string]bool      // IDs with unsaved rename history
	seq        uint64
}

// NewRegistry returns a Registry whose history rings hold at most limit
// messages. store may be nil when identity persistence is disabled.
func NewRegistry(limit int, store Store) *Registry {
	if limit <= 0 {
		limit = 1
	}
	return &Registry{
		limit:      limit,
		store:      store,
		channels:   make(map[string]*Channel),
		identities: make(map[string]*Identity),
		byName:     make(map[string]string),
		dirty:      make(map[string]bool),
	}
}

// Join adds a channel if absent and returns it. Idempotent; sending the
// protocol JOIN request is the session's job.
func (r *Registry) Join(name string, activeOnline, activeOffline bool) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		Name:          name,
		Live:          true,
		Active:        true,
		ActiveOnline:  activeOnline,
		ActiveOffline: activeOffline,
		users:         make(map[string]bool),
		mods:          make(map[string]bool),
		perUser:       make(map[string][]uint64),
	}
	r.channels[name] = ch
	telemetry.SetJoinedChannels(len(r.channels))
	return ch
}

// Part removes all channel state. Sending the protocol PART request is the
// session's job.
func (r *Registry) Part(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
	telemetry.SetJoinedChannels(len(r.channels))
}

// Get returns the channel by name, or nil. Any component may look up any
// channel: cross-channel relays depend on this.
func (r *Registry) Get(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[name]
}

// Names returns the joined channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// View is a point-in-time copy of a channel's flags, safe to read without
// holding the registry lock.
type View struct {
	Name          string
	Live          bool
	Mod           bool
	Joined        bool
	Active        bool
	ActiveOnline  bool
	ActiveOffline bool
	Responsive    bool
}

// Snapshot copies the named channel's flags. It returns false when the
// channel is unknown.
func (r *Registry) Snapshot(name string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return View{}, false
	}
	return View{
		Name:          ch.Name,
		Live:          ch.Live,
		Mod:           ch.Mod,
		Joined:        ch.Joined,
		Active:        ch.Active,
		ActiveOnline:  ch.ActiveOnline,
		ActiveOffline: ch.ActiveOffline,
		Responsive:    ch.Responsive(),
	}, true
}

// Update runs fn with the named channel under the registry lock. It returns
// false when the channel is unknown.
func (r *Registry) Update(name string, fn func(*Channel)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return false
	}
	fn(ch)
	return true
}

// RecordMessage appends a message to the channel's history ring, evicting the
// oldest entry when the ring is at capacity. It returns the recorded message
// with its sequence position filled in, and false when the channel is
// unknown.
func (r *Registry) RecordMessage(channel string, msg Message) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channel]
	if !ok {
		return Message{}, false
	}
	r.seq++
	msg.Seq = r.seq
	if len(ch.history) >= r.limit {
		old := ch.history[0]
		ch.history = ch.history[1:]
		if seqs := ch.perUser[old.Login]; len(seqs) > 0 {
			ch.perUser[old.Login] = seqs[1:]
			if len(ch.perUser[old.Login]) == 0 {
				delete(ch.perUser, old.Login)
			}
		}
		telemetry.HistoryEvicted.Inc()
	}
	ch.history = append(ch.history, msg)
	ch.perUser[msg.Login] = append(ch.perUser[msg.Login], msg.Seq)
	telemetry.MessagesRecorded.Inc()
	return msg, true
}

// History returns a copy of the channel's message history, oldest first.
func (r *Registry) History(channel string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channel]
	if !ok {
		return nil
	}
	return append([]Message(nil), ch.history...)
}

// AddUser records a user as present in the channel (membership notice).
func (r *Registry) AddUser(channel, login string) {
	r.Update(channel, func(ch *Channel) { ch.users[login] = true })
}

// RemoveUser drops a user from the channel's membership set.
func (r *Registry) RemoveUser(channel, login string) {
	r.Update(channel, func(ch *Channel) {
		delete(ch.users, login)
		delete(ch.mods, login)
	})
}

// SetUserMod records or clears a user's moderator flag in the channel.
func (r *Registry) SetUserMod(channel, login string, mod bool) {
	r.Update(channel, func(ch *Channel) {
		if mod {
			ch.mods[login] = true
		} else {
			delete(ch.mods, login)
		}
	})
}

// Users returns the channel's known present users, sorted.
func (r *Registry) Users(channel string) []string {
	return r.sortedSet(channel, func(ch *Channel) map[string]bool { return ch.users })
}

// Mods returns the channel's recognized moderators, sorted.
func (r *Registry) Mods(channel string) []string {
	return r.sortedSet(channel, func(ch *Channel) map[string]bool { return ch.mods })
}

func (r *Registry) sortedSet(channel string, pick func(*Channel) map[string]bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channel]
	if !ok {
		return nil
	}
	set := pick(ch)
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Observe records that the stable user ID was seen using the given name. When
// the stored identity's current name differs, the old name is archived in the
// prior-names history and the current name updated; this is the
// rename-recognition path. The returned Identity reflects the state after the
// observation.
func (r *Registry) Observe(userID, name string) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[userID]
	if !ok {
		id = &Identity{ID: userID, Name: name}
		r.identities[userID] = id
		r.byName[strings.ToLower(name)] = userID
		r.dirty[userID] = true
		return *id
	}
	if id.Name != name {
		slog.Info("name change detected",
			slog.String("user_id", userID),
			slog.String("old", id.Name),
			slog.String("new", name))
		delete(r.byName, strings.ToLower(id.Name))
		id.PriorNames = append(id.PriorNames, id.Name)
		id.Name = name
		r.byName[strings.ToLower(name)] = userID
		r.dirty[userID] = true
	}
	return *id
}

// ResolveIdentity looks up an identity by display name, searching current
// names first and prior names second, creating a fresh identity with a
// generated ID when the name has never been observed with a stable ID.
func (r *Registry) ResolveIdentity(name string) Identity {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID, ok := r.byName[key]; ok {
		return *r.identities[userID]
	}
	for _, id := range r.identities {
		for _, prior := range id.PriorNames {
			if strings.EqualFold(prior, name) {
				return *id
			}
		}
	}
	id := &Identity{ID: "local-" + uuid.NewString(), Name: name}
	r.identities[id.ID] = id
	r.byName[key] = id.ID
	r.dirty[id.ID] = true
	return *id
}

// LoadIdentities seeds the identity map from the persistent store.
func (r *Registry) LoadIdentities(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.LoadIdentities(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range ids {
		id := ids[i]
		r.identities[id.ID] = &id
		r.byName[strings.ToLower(id.Name)] = id.ID
	}
	return nil
}

// Flush saves identities with unsaved rename history to the store.
func (r *Registry) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	batch := make([]Identity, 0, len(r.dirty))
	for userID := range r.dirty {
		if id, ok := r.identities[userID]; ok {
			batch = append(batch, *id)
		}
	}
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := r.store.SaveIdentities(ctx, batch); err != nil {
		return err
	}
	r.mu.Lock()
	for _, id := range batch {
		delete(r.dirty, id.ID)
	}
	r.mu.Unlock()
	return nil
}
