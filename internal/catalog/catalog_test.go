package catalog

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versecast/internal/config"
	"versecast/internal/message"
)

func drafts(n int) []message.Draft {
	out := make([]message.Draft, n)
	for i := range out {
		out[i] = message.Draft{Title: "T" + string(rune('A'+i%26)), Body: "body " + string(rune('a'+i%26))}
	}
	return out
}

func TestPickRandomReturnsCatalogEntries(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 50} {
		entries := drafts(n)
		c, err := New(entries, rand.New(rand.NewSource(int64(n))))
		require.NoError(t, err)
		for i := 0; i < 200; i++ {
			d := c.PickRandom()
			assert.NotEmpty(t, d.Title)
			assert.NotEmpty(t, d.Body)
			assert.Contains(t, entries, d)
		}
	}
}

func TestPickRandomDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	a, err := NewSeeded(Default(), 42)
	require.NoError(t, err)
	b, err := NewSeeded(Default(), 42)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.PickRandom(), b.PickRandom())
	}
}

func TestPickRandomCoversCatalog(t *testing.T) {
	t.Parallel()

	c, err := New(drafts(5), rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	seen := map[message.Draft]bool{}
	for i := 0; i < 500; i++ {
		seen[c.PickRandom()] = true
	}
	assert.Len(t, seen, 5)
}

func TestNewRejectsEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrEmpty)
	assert.True(t, config.IsConfigurationError(err))

	_, err = New([]message.Draft{{Title: "ok", Body: "ok"}, {Title: "missing body"}}, nil)
	require.ErrorIs(t, err, ErrInvalidEntry)
	require.ErrorIs(t, err, message.ErrEmptyBody)
	assert.Contains(t, err.Error(), "index 1")
	var ce *config.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestNewCopiesInput(t *testing.T) {
	t.Parallel()

	in := []message.Draft{{Title: "Hope", Body: "text..."}}
	c, err := New(in, nil)
	require.NoError(t, err)
	in[0].Body = "mutated"
	assert.Equal(t, "text...", c.PickRandom().Body)

	picked := c.PickRandom()
	picked.Title = "changed"
	assert.Equal(t, "Hope", c.PickRandom().Title)
}

func TestDefaultSet(t *testing.T) {
	t.Parallel()

	d := Default()
	require.Len(t, d, 50)
	assert.Equal(t, "Blessing", d[0].Title)
	assert.Equal(t, "New Mercies", d[49].Title)
	for i, e := range d {
		assert.NoError(t, e.Validate(), "entry %d", i)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yml := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("- title: Hope\n  body: text...\n- title: Grace\n  body: More grace.\n"), 0o600))
	c, err := Load(config.CatalogConfig{Path: yml, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	js := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(js, []byte(`[{"title":"Blessing","body":"Remember to pray..."}]`), 0o600))
	c, err = Load(config.CatalogConfig{Path: js})
	require.NoError(t, err)
	assert.Equal(t, message.Draft{Title: "Blessing", Body: "Remember to pray..."}, c.PickRandom())

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]\n"), 0o600))
	_, err = Load(config.CatalogConfig{Path: empty})
	require.ErrorIs(t, err, ErrEmpty)

	c, err = Load(config.CatalogConfig{})
	require.NoError(t, err)
	assert.Equal(t, 50, c.Len())
}

func TestPickRandomConcurrent(t *testing.T) {
	t.Parallel()

	c, err := New(drafts(10), nil)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.PickRandom()
			}
		}()
	}
	wg.Wait()
}
