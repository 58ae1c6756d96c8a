// Package catalog holds the immutable set of devotional drafts and picks
// one at random per run.
package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"versecast/internal/config"
	"versecast/internal/message"
)

var (
	ErrEmpty        = errors.New("catalog is empty")
	ErrInvalidEntry = errors.New("catalog entry is invalid")
)

// Catalog is fixed at construction and never mutated.
// PickRandom is safe for concurrent use.
type Catalog struct {
	entries []message.Draft

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates entries and returns a catalog that selects with rng.
// A nil rng is replaced by a time-seeded source.
// Errors are *config.ConfigurationError: a catalog that cannot select
// must keep the service from starting.
func New(entries []message.Draft, rng *rand.Rand) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, config.Wrap("catalog", ErrEmpty)
	}
	cp := make([]message.Draft, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, config.Wrap("catalog", fmt.Errorf("%w: index %d: %w", ErrInvalidEntry, i, err))
		}
		cp[i] = e
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Catalog{entries: cp, rng: rng}, nil
}

// NewSeeded is New with a deterministic source. Seed 0 means time-seeded.
func NewSeeded(entries []message.Draft, seed int64) (*Catalog, error) {
	if seed == 0 {
		return New(entries, nil)
	}
	return New(entries, rand.New(rand.NewSource(seed)))
}

// PickRandom returns a uniformly chosen entry. Repeats across calls are expected.
func (c *Catalog) PickRandom() message.Draft {
	c.mu.Lock()
	i := c.rng.Intn(len(c.entries))
	c.mu.Unlock()
	return c.entries[i]
}

func (c *Catalog) Len() int { return len(c.entries) }

// LoadFile reads a YAML or JSON list of {title, body} objects.
// JSON is valid YAML, so one decoder serves both.
func LoadFile(path string) ([]message.Draft, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, config.Wrap("catalog.path", err)
	}
	var out []message.Draft
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, &config.ConfigurationError{Field: "catalog.path", Reason: "decode " + path, Err: err}
	}
	return out, nil
}

// Load returns the configured catalog: the file at cfg.Path when set,
// otherwise the built-in set.
func Load(cfg config.CatalogConfig) (*Catalog, error) {
	entries := Default()
	if cfg.Path != "" {
		var err error
		if entries, err = LoadFile(cfg.Path); err != nil {
			return nil, err
		}
	}
	return NewSeeded(entries, cfg.Seed)
}
