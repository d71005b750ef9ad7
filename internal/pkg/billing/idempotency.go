package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ManuelReschke/tiergate/app/models"
)

// Admission is the Idempotency Guard's verdict for an event id.
type Admission int

const (
	Admitted Admission = iota + 1
	Duplicate
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

const processingOutcome = models.ProcessedEventOutcomeProcessing

// DefaultIdempotencyTTL covers the provider's redelivery horizon (three days).
const DefaultIdempotencyTTL = 72 * time.Hour

// DefaultProcessingLease bounds how long an admitted but unfinished event
// blocks redeliveries. Complete extends the record to the full TTL.
const DefaultProcessingLease = 2 * time.Minute

var errEmptyEventID = errors.New("event id is required")

// Guard records processed event ids. Admit must be a single atomic
// check-and-set: of any number of concurrent callers with the same id,
// exactly one observes Admitted. The claim only holds for the processing
// lease until Complete is called.
type Guard interface {
	Admit(ctx context.Context, eventID string) (Admission, error)
	// Complete stores the final outcome for an admitted event and keeps it
	// for the retention TTL.
	Complete(ctx context.Context, eventID, outcome string) error
	// Release forgets an admitted event so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

const defaultMemoryGuardSize = 100_000

type memoryEntry struct {
	expiresAt time.Time
	outcome   string
}

// MemoryGuard is a bounded in-process Guard. Expired entries, or entries
// evicted by the size bound, are admitted again.
type MemoryGuard struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memoryEntry]
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
}

func NewMemoryGuard(size int, ttl time.Duration) (*MemoryGuard, error) {
	if size <= 0 {
		size = defaultMemoryGuardSize
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("memory guard init: %w", err)
	}
	return &MemoryGuard{cache: cache, ttl: ttl, lease: DefaultProcessingLease, now: time.Now}, nil
}

// WithLease sets how long an unfinished admission blocks redeliveries.
func (g *MemoryGuard) WithLease(d time.Duration) *MemoryGuard {
	if d > 0 {
		g.lease = d
	}
	return g
}

func (g *MemoryGuard) Admit(ctx context.Context, eventID string) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := strings.TrimSpace(eventID)
	if id == "" {
		return 0, errEmptyEventID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if entry, ok := g.cache.Get(id); ok {
		if now.Before(entry.expiresAt) {
			return Duplicate, nil
		}
		g.cache.Remove(id)
	}
	g.cache.Add(id, memoryEntry{expiresAt: now.Add(g.lease), outcome: processingOutcome})
	return Admitted, nil
}

func (g *MemoryGuard) Complete(_ context.Context, eventID, outcome string) error {
	id := strings.TrimSpace(eventID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.cache.Peek(id); ok {
		entry.outcome = outcome
		entry.expiresAt = g.now().Add(g.ttl)
		g.cache.Add(id, entry)
	}
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cache.Remove(strings.TrimSpace(eventID))
	return nil
}

// Outcome returns the recorded outcome for an event id, if still retained.
func (g *MemoryGuard) Outcome(eventID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache.Peek(strings.TrimSpace(eventID))
	return entry.outcome, ok
}
