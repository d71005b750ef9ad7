package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2/log"
	"google.golang.org/api/option"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN builds the go-sql-driver DSN for the entitlement database.
func DSN(cfg config.StoreConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)
}

// MigrateURL is the golang-migrate form of DSN.
func MigrateURL(cfg config.StoreConfig) string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)
}

// Open connects to MySQL, retrying while the server comes up, and migrates the
// entitlement and processed-event tables.
func Open(cfg config.StoreConfig, dev bool) (*gorm.DB, error) {
	level := logger.Warn
	if dev {
		level = logger.Info
	}

	var db *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(cfg),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{Logger: logger.Default.LogMode(level)})
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(&models.Entitlement{}, &models.ProcessedEvent{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// OpenFirestore creates a Firestore client, honoring the emulator host and an
// optional service account file.
func OpenFirestore(ctx context.Context, cfg config.StoreConfig) (*firestore.Client, error) {
	projectID := strings.TrimSpace(cfg.FirestoreProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id not configured")
	}

	if host := strings.TrimSpace(cfg.FirestoreEmulatorHost); host != "" {
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", host); err != nil {
			return nil, fmt.Errorf("set FIRESTORE_EMULATOR_HOST: %w", err)
		}
	}

	var opts []option.ClientOption
	if credentials := strings.TrimSpace(cfg.FirebaseCredentialsFile); credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	return firestore.NewClient(ctx, projectID, opts...)
}
