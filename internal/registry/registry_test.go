package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuinjune/ar-peggiator/internal/model"
)

func TestRegisterReturnsDefaults(t *testing.T) {
	r := New()
	s, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPeerState("a"), s)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("a")
	require.NoError(t, err)
	_, err = r.Register("a")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateMergesOnlyProvidedFields(t *testing.T) {
	r := New()
	base, _ := r.Register("a")

	pos := model.Vec3{1, 2, 3}
	s, ok := r.Update("a", Partial{Position: &pos})
	require.True(t, ok)
	assert.Equal(t, pos, s.Position)
	assert.Equal(t, base.Orientation, s.Orientation)
	assert.Equal(t, base.Color, s.Color)

	color := "#00ff00"
	rot := model.Quaternion{0, 1, 0, 0}
	s, ok = r.Update("a", Partial{Orientation: &rot, Color: &color})
	require.True(t, ok)
	assert.Equal(t, pos, s.Position)
	assert.Equal(t, rot, s.Orientation)
	assert.Equal(t, color, s.Color)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestUpdateUnknownIsNoop(t *testing.T) {
	r := New()
	pos := model.Vec3{1, 1, 1}
	_, ok := r.Update("ghost", Partial{Position: &pos})
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRemove(t *testing.T) {
	r := New()
	_, _ = r.Register("a")
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	_, _ = r.Register("a")
	_, _ = r.Register("b")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	delete(snap, "a")
	snap["c"] = model.PeerState{}

	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("c")
	assert.False(t, ok)
}

func TestConcurrentUpdatesAreNeverTorn(t *testing.T) {
	r := New()
	const peers = 8
	for i := 0; i < peers; i++ {
		_, _ = r.Register(fmt.Sprint(i))
	}

	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for n := 1; n <= 200; n++ {
				v := float64(n)
				pos := model.Vec3{v, v, v}
				rot := model.Quaternion{v, v, v, v}
				r.Update(id, Partial{Position: &pos, Orientation: &rot})
			}
		}(fmt.Sprint(i))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		for id, s := range r.Snapshot() {
			p := s.Position
			q := s.Orientation
			if p[0] != p[1] || p[1] != p[2] {
				t.Fatalf("torn position for %s: %+v", id, s)
			}
			if p[0] != 0 && q != (model.Quaternion{p[0], p[0], p[0], p[0]}) {
				t.Fatalf("torn entry for %s: %+v", id, s)
			}
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
