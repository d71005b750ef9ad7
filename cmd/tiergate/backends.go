package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/cache"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
	"github.com/ManuelReschke/tiergate/internal/pkg/database"
	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
	"github.com/ManuelReschke/tiergate/internal/pkg/retention"
)

// backends holds the storage handles selected by STORE_DRIVER and
// IDEMPOTENCY_DRIVER.
type backends struct {
	store          billing.EntitlementStore
	guard          billing.Guard
	retention      *retention.Manager
	limiterStorage fiber.Storage

	db        *gorm.DB
	firestore *firestore.Client
	redis     *redis.Client
}

func openBackends(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder) (*backends, error) {
	b := &backends{}

	switch cfg.Store.Driver {
	case config.StoreDriverMySQL:
		db, err := database.Open(cfg.Store, cfg.IsDev())
		if err != nil {
			return nil, err
		}
		b.db = db
		b.store = billing.NewGormEntitlementStore(db)
	case config.StoreDriverFirestore:
		client, err := database.OpenFirestore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		b.firestore = client
		b.store = billing.NewFirestoreEntitlementStore(client)
	case config.StoreDriverMemory:
		log.Warn("[Startup] Using the in-memory entitlement store; data is lost on restart")
		b.store = billing.NewMemoryEntitlementStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	ttl := cfg.Idempotency.TTL
	lease := processingLease(cfg)
	switch cfg.Idempotency.Driver {
	case config.IdempotencyDriverRedis:
		client, err := cache.NewClient(ctx, cfg.Idempotency)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
		b.guard = billing.NewRedisGuard(client, ttl).WithLease(lease)
		b.limiterStorage = cache.LimiterStorage(cfg.Idempotency)
	case config.IdempotencyDriverStore:
		switch {
		case b.db != nil:
			g := billing.NewGormGuard(b.db, ttl).WithLease(lease)
			b.guard = g
			b.retention = retention.NewManager(g, config.StoreDriverMySQL, cfg.Idempotency.SweepInterval, recorder)
		case b.firestore != nil:
			g := billing.NewFirestoreGuard(b.firestore, ttl).WithLease(lease)
			b.guard = g
			b.retention = retention.NewManager(g, config.StoreDriverFirestore, cfg.Idempotency.SweepInterval, recorder)
		default:
			g, err := billing.NewMemoryGuard(0, ttl)
			if err != nil {
				return nil, err
			}
			b.guard = g.WithLease(lease)
		}
	case config.IdempotencyDriverMemory:
		g, err := billing.NewMemoryGuard(0, ttl)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.guard = g.WithLease(lease)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown idempotency driver %q", cfg.Idempotency.Driver)
	}
	return b, nil
}

// processingLease outlives one webhook request, so a live handler keeps its
// claim and a dead one frees it for the next redelivery.
func processingLease(cfg *config.Config) time.Duration {
	if cfg.Stripe.WebhookTimeout <= 0 {
		return billing.DefaultProcessingLease
	}
	return 2 * cfg.Stripe.WebhookTimeout
}

func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Warnf("[Shutdown] cache close: %v", err)
		}
	}
	if b.limiterStorage != nil {
		if err := b.limiterStorage.Close(); err != nil {
			log.Warnf("[Shutdown] limiter storage close: %v", err)
		}
	}
	if b.firestore != nil {
		if err := b.firestore.Close(); err != nil {
			log.Warnf("[Shutdown] firestore close: %v", err)
		}
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
