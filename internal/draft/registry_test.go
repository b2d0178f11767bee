// internal/draft/registry_test.go
package draft

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-macro-log/internal/models"
)

func TestRegistryKeepsDraftsPerUser(t *testing.T) {
	r := NewRegistry(time.Hour)

	require.NoError(t, r.Update("alice", func(d *Draft) error {
		d.SetName("Breakfast")
		d.AddEntry(models.NewEntry(food("oats", 370)))
		return nil
	}))
	require.NoError(t, r.Update("bob", func(d *Draft) error {
		d.SetName("Snack")
		return nil
	}))

	a := r.View("alice")
	assert.Equal(t, "Breakfast", a.Name)
	assert.Len(t, a.Entries, 1)

	b := r.View("bob")
	assert.Equal(t, "Snack", b.Name)
	assert.Empty(t, b.Entries)

	assert.Equal(t, StateEmpty, r.View("carol").State)
}

func TestRegistryUpdatePropagatesError(t *testing.T) {
	r := NewRegistry(0)
	err := r.Update("u", func(d *Draft) error { return d.RemoveEntry(0) })
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestRegistryDiscard(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Update("u", func(d *Draft) error {
		d.SetName("x")
		return nil
	}))
	r.Discard("u")
	assert.Equal(t, StateEmpty, r.View("u").State)
}

func TestRegistryExpiresIdleDrafts(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	require.NoError(t, r.Update("u", func(d *Draft) error {
		d.SetName("x")
		return nil
	}))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateEmpty, r.View("u").State)
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	r := NewRegistry(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Update("u", func(d *Draft) error {
				d.AddEntry(models.NewEntry(food("a", 1)))
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Len(t, r.View("u").Entries, 50)
}

func TestRegistrySlowUpdateDoesNotBlockOtherUsers(t *testing.T) {
	r := NewRegistry(time.Hour)
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = r.Update("slow", func(d *Draft) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	done := make(chan struct{})
	go func() {
		_ = r.Update("fast", func(d *Draft) error {
			d.SetName("lunch")
			return nil
		})
		assert.Equal(t, "lunch", r.View("fast").Name)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update for another user waited on a held draft")
	}
}
