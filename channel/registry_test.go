package channel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatbot/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

func msg(login, text string) Message {
	return Message{Login: login, Display: login, Text: text, At: time.Now()}
}

func TestHistoryFIFOEviction(t *testing.T) {
	r := NewRegistry(3, nil)
	r.Join("c", true, false)
	for _, text := range []string{"A", "B", "C", "D"} {
		if _, ok := r.RecordMessage("c", msg("u", text)); !ok {
			t.Fatalf("RecordMessage(%q) failed", text)
		}
	}
	h := r.History("c")
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3", len(h))
	}
	for i, want := range []string{"B", "C", "D"} {
		if h[i].Text != want {
			t.Errorf("history[%d] = %q, want %q", i, h[i].Text, want)
		}
	}
	// Sequence positions stay monotonic across eviction.
	if !(h[0].Seq < h[1].Seq && h[1].Seq < h[2].Seq) {
		t.Errorf("sequence not monotonic: %d %d %d", h[0].Seq, h[1].Seq, h[2].Seq)
	}
}

func TestRecordMessageUnknownChannel(t *testing.T) {
	r := NewRegistry(3, nil)
	if _, ok := r.RecordMessage("ghost", msg("u", "x")); ok {
		t.Error("recording into an unknown channel should fail")
	}
}

func TestJoinIdempotentAndPart(t *testing.T) {
	r := NewRegistry(10, nil)
	a := r.Join("c", true, false)
	b := r.Join("c", false, true)
	if a != b {
		t.Error("Join should be idempotent")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "c" {
		t.Errorf("Names() = %v", names)
	}
	r.Part("c")
	if r.Get("c") != nil {
		t.Error("channel should be gone after Part")
	}
}

func TestMembershipAndMods(t *testing.T) {
	r := NewRegistry(10, nil)
	r.Join("c", true, false)
	r.AddUser("c", "zed")
	r.AddUser("c", "amy")
	r.SetUserMod("c", "amy", true)
	if users := r.Users("c"); len(users) != 2 || users[0] != "amy" || users[1] != "zed" {
		t.Errorf("Users() = %v, want sorted [amy zed]", users)
	}
	if mods := r.Mods("c"); len(mods) != 1 || mods[0] != "amy" {
		t.Errorf("Mods() = %v", mods)
	}
	r.SetUserMod("c", "amy", false)
	if mods := r.Mods("c"); len(mods) != 0 {
		t.Errorf("Mods() after demotion = %v", mods)
	}
	r.RemoveUser("c", "zed")
	if users := r.Users("c"); len(users) != 1 {
		t.Errorf("Users() after remove = %v", users)
	}
}

func TestObserveRename(t *testing.T) {
	r := NewRegistry(10, nil)
	id := r.Observe("42", "Foo")
	if id.ID != "42" || id.Name != "Foo" || len(id.PriorNames) != 0 {
		t.Fatalf("first observation = %+v", id)
	}
	// Same name again changes nothing.
	id = r.Observe("42", "Foo")
	if len(id.PriorNames) != 0 {
		t.Fatalf("re-observation grew prior names: %+v", id)
	}
	// New name archives the old one.
	id = r.Observe("42", "Bar")
	if id.Name != "Bar" {
		t.Errorf("Name = %q, want Bar", id.Name)
	}
	if len(id.PriorNames) != 1 || id.PriorNames[0] != "Foo" {
		t.Errorf("PriorNames = %v, want [Foo]", id.PriorNames)
	}
	// The stable ID resolves from both names.
	if got := r.ResolveIdentity("Bar"); got.ID != "42" {
		t.Errorf("ResolveIdentity(Bar).ID = %q", got.ID)
	}
	if got := r.ResolveIdentity("foo"); got.ID != "42" {
		t.Errorf("ResolveIdentity by prior name: ID = %q", got.ID)
	}
}

func TestResolveIdentityCreatesLocal(t *testing.T) {
	r := NewRegistry(10, nil)
	id := r.ResolveIdentity("stranger")
	if !strings.HasPrefix(id.ID, "local-") {
		t.Errorf("generated ID = %q, want local- prefix", id.ID)
	}
	again := r.ResolveIdentity("Stranger")
	if again.ID != id.ID {
		t.Errorf("second resolution created a new identity: %q vs %q", again.ID, id.ID)
	}
}

type memStore struct {
	loaded []Identity
	saved  [][]Identity
	err    error
}

func (s *memStore) LoadIdentities(ctx context.Context) ([]Identity, error) {
	return s.loaded, s.err
}

func (s *memStore) SaveIdentities(ctx context.Context, ids []Identity) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, append([]Identity(nil), ids...))
	return nil
}

func TestFlushSavesOnlyDirty(t *testing.T) {
	store := &memStore{}
	r := NewRegistry(10, store)
	r.Observe("1", "alpha")
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.saved) != 1 || len(store.saved[0]) != 1 {
		t.Fatalf("saved batches = %v", store.saved)
	}
	// Nothing changed, second flush writes nothing.
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("clean flush should not save, got %d batches", len(store.saved))
	}
	r.Observe("1", "beta")
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.saved) != 2 {
		t.Fatalf("rename should mark dirty again")
	}
	got := store.saved[1][0]
	if got.Name != "beta" || len(got.PriorNames) != 1 || got.PriorNames[0] != "alpha" {
		t.Errorf("saved identity = %+v", got)
	}
}

func TestLoadIdentitiesSeedsLookup(t *testing.T) {
	store := &memStore{loaded: []Identity{{ID: "7", Name: "Old", PriorNames: []string{"Older"}}}}
	r := NewRegistry(10, store)
	if err := r.LoadIdentities(context.Background()); err != nil {
		t.Fatalf("LoadIdentities: %v", err)
	}
	if got := r.ResolveIdentity("old"); got.ID != "7" {
		t.Errorf("ResolveIdentity after load: ID = %q", got.ID)
	}
}

func TestSnapshotAndResponsive(t *testing.T) {
	r := NewRegistry(10, nil)
	r.Join("c", true, false) // respond while live only
	v, ok := r.Snapshot("c")
	if !ok {
		t.Fatal("Snapshot failed")
	}
	if !v.Live || !v.Active || !v.Responsive {
		t.Errorf("fresh channel view = %+v", v)
	}
	r.Update("c", func(ch *Channel) { ch.Live = false })
	v, _ = r.Snapshot("c")
	if v.Responsive {
		t.Error("online-only channel should not respond while offline")
	}
	r.Update("c", func(ch *Channel) { ch.Live = true; ch.Active = false })
	v, _ = r.Snapshot("c")
	if v.Responsive {
		t.Error("inactive channel should never respond")
	}
	if _, ok := r.Snapshot("ghost"); ok {
		t.Error("Snapshot of unknown channel should fail")
	}
}

func TestPerUserHistoryTrimmedOnEviction(t *testing.T) {
	r := NewRegistry(2, nil)
	r.Join("c", true, false)
	r.RecordMessage("c", msg("solo", "first"))
	r.RecordMessage("c", msg("other", "second"))
	r.RecordMessage("c", msg("other", "third")) // evicts solo's only message
	h := r.History("c")
	if len(h) != 2 {
		t.Fatalf("history length = %d", len(h))
	}
	for _, m := range h {
		if m.Login == "solo" {
			t.Error("evicted user's message still present")
		}
	}
}
