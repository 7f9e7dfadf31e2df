package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuinjune/ar-peggiator/internal/model"
	"github.com/cuinjune/ar-peggiator/internal/notes"
	"github.com/cuinjune/ar-peggiator/internal/protocol"
	"github.com/cuinjune/ar-peggiator/internal/registry"
)

type fixture struct {
	hub      *Hub
	registry *registry.Registry
	notes    *notes.Store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := registry.New()
	store := notes.New()
	h := New(reg, store, cfg, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return &fixture{hub: h, registry: reg, notes: store}
}

func (f *fixture) join(t *testing.T) *Client {
	t.Helper()
	c := f.hub.NewClient(nil)
	require.NoError(t, f.hub.Register(c))
	return c
}

func next(t *testing.T, c *Client) protocol.Envelope {
	t.Helper()
	select {
	case b, ok := <-c.Messages():
		require.True(t, ok, "send queue of %s closed", c.ID())
		env, err := protocol.DecodeEnvelope(b)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a message on %s", c.ID())
		return protocol.Envelope{}
	}
}

func expect[T any](t *testing.T, c *Client, typ protocol.Type) T {
	t.Helper()
	env := next(t, c)
	require.Equal(t, typ, env.Type)
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b, ok := <-c.Messages():
		if ok {
			t.Fatalf("unexpected message on %s: %s", c.ID(), b)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case _, ok := <-c.Messages():
		require.False(t, ok, "expected send queue of %s to be closed", c.ID())
	case <-time.After(2 * time.Second):
		t.Fatalf("send queue of %s not closed", c.ID())
	}
}

func move(x float64) *protocol.UpdateState {
	return &protocol.UpdateState{
		Position:    []float64{x, 0, 0},
		Orientation: []float64{0, 0, 0, 1},
	}
}

func TestIntroductionListsExistingPeersOnly(t *testing.T) {
	f := startHub(t, Config{})
	a := f.join(t)
	b := f.join(t)
	c := f.join(t)

	intro := expect[protocol.Introduction](t, c, protocol.TypeIntroduction)
	assert.Equal(t, c.ID(), intro.SelfID)
	assert.Len(t, intro.Peers, 2)
	assert.Contains(t, intro.Peers, a.ID())
	assert.Contains(t, intro.Peers, b.ID())
	assert.NotNil(t, intro.Notes)

	introA := expect[protocol.Introduction](t, a, protocol.TypeIntroduction)
	assert.Empty(t, introA.Peers)
	joinedB := expect[protocol.PeerJoined](t, a, protocol.TypePeerJoined)
	assert.Equal(t, b.ID(), joinedB.PeerID)
	assert.Equal(t, 2, joinedB.Total)
	joinedC := expect[protocol.PeerJoined](t, a, protocol.TypePeerJoined)
	assert.Equal(t, c.ID(), joinedC.PeerID)
	assert.Equal(t, 3, joinedC.Total)
	assert.Equal(t, model.DefaultPeerState(c.ID()), joinedC.State)

	expect[protocol.Introduction](t, b, protocol.TypeIntroduction)
	assert.Equal(t, c.ID(), expect[protocol.PeerJoined](t, b, protocol.TypePeerJoined).PeerID)

	expectNothing(t, c)
	assert.Equal(t, StateActive, c.State())
}

func TestUpdateStateEchoesToSenderAndFansOut(t *testing.T) {
	f := startHub(t, Config{})
	a, b, c := f.join(t), f.join(t), f.join(t)
	drainJoins(t, a, 3)
	drainJoins(t, b, 2)
	drainJoins(t, c, 1)

	require.NoError(t, f.hub.Submit(a, move(1)))
	require.NoError(t, f.hub.Submit(a, move(2)))

	for _, want := range []float64{1, 2} {
		echo := expect[protocol.StateEcho](t, a, protocol.TypeStateEcho)
		require.Len(t, echo.Peers, 3)
		assert.Equal(t, want, echo.Peers[a.ID()].Position[0], "echoes keep the order of the sender's updates")
	}
	for _, peer := range []*Client{b, c} {
		for _, want := range []float64{1, 2} {
			moved := expect[protocol.PeerMoved](t, peer, protocol.TypePeerMoved)
			assert.Equal(t, a.ID(), moved.PeerID)
			assert.Equal(t, want, moved.State.Position[0])
		}
	}

	state, ok := f.registry.Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, model.Vec3{2, 0, 0}, state.Position)
}

func TestAbruptDisconnectMidUpdate(t *testing.T) {
	f := startHub(t, Config{})
	a, b, c := f.join(t), f.join(t), f.join(t)
	drainJoins(t, a, 3)
	drainJoins(t, b, 2)
	drainJoins(t, c, 1)

	require.NoError(t, f.hub.Submit(a, move(1)))
	f.hub.Unregister(b)
	f.hub.Unregister(b)
	require.NoError(t, f.hub.Submit(b, move(9)))
	require.NoError(t, f.hub.Submit(a, move(2)))

	expect[protocol.StateEcho](t, a, protocol.TypeStateEcho)
	left := expect[protocol.PeerLeft](t, a, protocol.TypePeerLeft)
	assert.Equal(t, b.ID(), left.PeerID)
	echo := expect[protocol.StateEcho](t, a, protocol.TypeStateEcho)
	assert.Len(t, echo.Peers, 2)
	assert.NotContains(t, echo.Peers, b.ID())

	assert.Equal(t, 1.0, expect[protocol.PeerMoved](t, c, protocol.TypePeerMoved).State.Position[0])
	left = expect[protocol.PeerLeft](t, c, protocol.TypePeerLeft)
	assert.Equal(t, b.ID(), left.PeerID)
	assert.Equal(t, 2, left.Total)
	assert.Equal(t, 2.0, expect[protocol.PeerMoved](t, c, protocol.TypePeerMoved).State.Position[0])
	expectNothing(t, c)

	assert.Equal(t, 1.0, expect[protocol.PeerMoved](t, b, protocol.TypePeerMoved).State.Position[0])
	expectClosed(t, b)
	assert.Equal(t, StateClosed, b.State())
	_, ok := f.registry.Get(b.ID())
	assert.False(t, ok)
}

func TestNoteLifecycle(t *testing.T) {
	f := startHub(t, Config{})
	a, b := f.join(t), f.join(t)
	drainJoins(t, a, 2)
	drainJoins(t, b, 1)

	require.NoError(t, f.hub.Submit(a, &protocol.AddNote{Color: "red", Position: []float64{1, 1, 1}, Ref: "r1"}))
	created := expect[protocol.NoteCreated](t, a, protocol.TypeNoteCreated)
	assert.Equal(t, "r1", created.Ref)
	assert.NotEmpty(t, created.Note.ID)

	for _, c := range []*Client{a, b} {
		list := expect[protocol.NoteListChanged](t, c, protocol.TypeNoteListChanged)
		assert.Equal(t, []model.Note{created.Note}, list.Notes)
	}

	require.NoError(t, f.hub.Submit(b, &protocol.UpdateNote{ID: created.Note.ID, Color: "blue", Position: []float64{2, 2, 2}}))
	for _, c := range []*Client{a, b} {
		list := expect[protocol.NoteListChanged](t, c, protocol.TypeNoteListChanged)
		require.Len(t, list.Notes, 1)
		assert.Equal(t, created.Note.ID, list.Notes[0].ID)
		assert.Equal(t, "blue", list.Notes[0].Color)
	}

	require.NoError(t, f.hub.Submit(b, &protocol.UpdateNote{ID: "missing", Color: "blue", Position: []float64{0, 0, 0}}))
	expectNothing(t, a)
	expectNothing(t, b)

	del := &protocol.DeleteNotes{IDs: []string{created.Note.ID}}
	require.NoError(t, f.hub.Submit(a, del))
	require.NoError(t, f.hub.Submit(b, del))
	for _, c := range []*Client{a, b} {
		list := expect[protocol.NoteListChanged](t, c, protocol.TypeNoteListChanged)
		assert.Empty(t, list.Notes)
		expectNothing(t, c)
	}
	assert.Equal(t, 0, f.notes.Len())
}

func TestFullStoreDropsAddNote(t *testing.T) {
	reg := registry.New()
	store := notes.New(notes.WithLimit(1))
	h := New(reg, store, Config{}, WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	f := &fixture{hub: h, registry: reg, notes: store}

	a := f.join(t)
	drainJoins(t, a, 1)
	require.NoError(t, h.Submit(a, &protocol.AddNote{Color: "red", Position: []float64{0, 0, 0}}))
	expect[protocol.NoteCreated](t, a, protocol.TypeNoteCreated)
	expect[protocol.NoteListChanged](t, a, protocol.TypeNoteListChanged)

	require.NoError(t, h.Submit(a, &protocol.AddNote{Color: "red", Position: []float64{0, 0, 0}}))
	expectNothing(t, a)
	assert.Equal(t, 1, store.Len())
}

func TestSlowClientIsEvicted(t *testing.T) {
	f := startHub(t, Config{SendBuffer: 2})
	a := f.join(t)
	b := f.join(t)
	expect[protocol.Introduction](t, b, protocol.TypeIntroduction)

	c := f.join(t)
	intro := expect[protocol.Introduction](t, c, protocol.TypeIntroduction)
	assert.Len(t, intro.Peers, 2)

	assert.Equal(t, c.ID(), expect[protocol.PeerJoined](t, b, protocol.TypePeerJoined).PeerID)
	assert.Equal(t, a.ID(), expect[protocol.PeerLeft](t, b, protocol.TypePeerLeft).PeerID)
	assert.Equal(t, a.ID(), expect[protocol.PeerLeft](t, c, protocol.TypePeerLeft).PeerID)

	expect[protocol.Introduction](t, a, protocol.TypeIntroduction)
	expect[protocol.PeerJoined](t, a, protocol.TypePeerJoined)
	expectClosed(t, a)
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, 2, f.registry.Len())
}

func TestHandlerPanicIsContained(t *testing.T) {
	f := startHub(t, Config{})
	a := f.join(t)
	b := f.join(t)
	drainJoins(t, a, 2)
	drainJoins(t, b, 1)

	// Bypasses Decode, so the missing orientation reaches the handler.
	require.NoError(t, f.hub.Submit(a, &protocol.UpdateState{Position: []float64{1, 2, 3}}))
	expectNothing(t, a)
	expectNothing(t, b)

	require.NoError(t, f.hub.Submit(a, move(4)))
	echo := expect[protocol.StateEcho](t, a, protocol.TypeStateEcho)
	assert.Equal(t, model.Vec3{4, 0, 0}, echo.Peers[a.ID()].Position)
	assert.Equal(t, a.ID(), expect[protocol.PeerMoved](t, b, protocol.TypePeerMoved).PeerID)
	assert.Equal(t, StateActive, a.State())
}

func TestRegisterAfterShutdown(t *testing.T) {
	h := New(registry.New(), notes.New(), Config{}, WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := h.NewClient(nil)
	require.NoError(t, h.Register(c))
	cancel()
	<-h.Done()

	assert.ErrorIs(t, h.Register(h.NewClient(nil)), ErrHubClosed)
	assert.ErrorIs(t, h.Submit(c, move(1)), ErrHubClosed)
	h.Unregister(c)

	expect[protocol.Introduction](t, c, protocol.TypeIntroduction)
	expectClosed(t, c)
}

func TestShutdownEmptiesRegistry(t *testing.T) {
	h := New(registry.New(), notes.New(), Config{}, WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	a, b := h.NewClient(nil), h.NewClient(nil)
	require.NoError(t, h.Register(a))
	require.NoError(t, h.Register(b))
	expect[protocol.Introduction](t, b, protocol.TypeIntroduction)
	assert.Equal(t, 2, h.registry.Len())

	cancel()
	<-h.Done()
	assert.Equal(t, 0, h.registry.Len())
	assert.Empty(t, h.registry.Snapshot())
}

func TestPanicHookSeesPumpPanics(t *testing.T) {
	var hooked any
	h := New(registry.New(), notes.New(), Config{},
		WithLogger(discardLogger()),
		WithPanicHook(func(r any) { hooked = r }),
	)

	// Without a socket the write pump panics on its first write.
	c := h.NewClient(nil)
	close(c.send)
	var escaped any
	func() {
		defer func() { escaped = recover() }()
		c.writePump()
	}()

	require.NotNil(t, hooked)
	assert.Equal(t, hooked, escaped, "the panic continues after the hook")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}

// drainJoins consumes the introduction and the peerJoined messages a client
// receives while n clients (itself included) join in order.
func drainJoins(t *testing.T, c *Client, n int) {
	t.Helper()
	expect[protocol.Introduction](t, c, protocol.TypeIntroduction)
	for i := 1; i < n; i++ {
		expect[protocol.PeerJoined](t, c, protocol.TypePeerJoined)
	}
}
