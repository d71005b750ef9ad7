package billing

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ManuelReschke/tiergate/app/models"
)

const (
	defaultProcessedEventCollection = "processed_events"
	firestorePurgeBatchSize         = 500
)

// FirestoreGuard keeps one processing document per event id.
type FirestoreGuard struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	lease      time.Duration
	now        func() time.Time
}

func NewFirestoreGuard(client *firestore.Client, ttl time.Duration) *FirestoreGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &FirestoreGuard{
		client:     client,
		collection: defaultProcessedEventCollection,
		ttl:        ttl,
		lease:      DefaultProcessingLease,
		now:        time.Now,
	}
}

// WithLease sets how long an unfinished admission blocks redeliveries.
func (g *FirestoreGuard) WithLease(d time.Duration) *FirestoreGuard {
	if d > 0 {
		g.lease = d
	}
	return g
}

func (g *FirestoreGuard) doc(eventID string) *firestore.DocumentRef {
	return g.client.Collection(g.collection).Doc(strings.TrimSpace(eventID))
}

// Admit checks and claims the event document inside one transaction; a
// concurrent claim makes one of the transactions retry and see the other.
func (g *FirestoreGuard) Admit(ctx context.Context, eventID string) (Admission, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return 0, errEmptyEventID
	}
	ref := g.doc(id)

	var verdict Admission
	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := g.now().UTC()
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing models.ProcessedEvent
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.ExpiresAt.After(now) {
				verdict = Duplicate
				return nil
			}
		}
		verdict = Admitted
		return tx.Set(ref, &models.ProcessedEvent{
			EventID:   id,
			Outcome:   processingOutcome,
			ExpiresAt: now.Add(g.lease),
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}
	return verdict, nil
}

func (g *FirestoreGuard) Complete(ctx context.Context, eventID, outcome string) error {
	now := g.now().UTC()
	_, err := g.doc(eventID).Update(ctx, []firestore.Update{
		{Path: "outcome", Value: outcome},
		{Path: "expiresAt", Value: now.Add(g.ttl)},
		{Path: "updatedAt", Value: now},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (g *FirestoreGuard) Release(ctx context.Context, eventID string) error {
	_, err := g.doc(eventID).Delete(ctx)
	return err
}

// PurgeExpired deletes processing documents whose retention window ended.
// It works in bounded batches until a short batch comes back or ctx ends.
func (g *FirestoreGuard) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	for {
		n, full, err := g.purgeBatch(ctx, before)
		purged += n
		if err != nil || !full {
			return purged, err
		}
		if err := ctx.Err(); err != nil {
			return purged, err
		}
	}
}

// purgeBatch deletes one page of expired documents and reports whether the
// page was full.
func (g *FirestoreGuard) purgeBatch(ctx context.Context, before time.Time) (int64, bool, error) {
	docs, err := g.client.Collection(g.collection).
		Where("expiresAt", "<=", before.UTC()).
		Limit(firestorePurgeBatchSize).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, false, err
	}
	if len(docs) == 0 {
		return 0, false, nil
	}

	bw := g.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := bw.Delete(d.Ref)
		if err != nil {
			bw.End()
			return 0, false, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var deleted int64
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	if firstErr != nil {
		return deleted, false, firstErr
	}
	return deleted, len(docs) == firestorePurgeBatchSize, nil
}
