package database

import (
	"path/filepath"
	"testing"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/waves"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsWaveCounters(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&waves.Wave{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	broken := waves.Wave{
		WaveID:     "wave-broken",
		OwnerID:    "user-1",
		CountsJSON: "not-json",
	}
	healthy := waves.Wave{
		WaveID:     "wave-healthy",
		OwnerID:    "user-1",
		CountsJSON: `{"echoes":3}`,
	}
	if err := database.Create(&broken).Error; err != nil {
		testContext.Fatalf("failed to insert wave: %v", err)
	}
	if err := database.Create(&healthy).Error; err != nil {
		testContext.Fatalf("failed to insert wave: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired waves.Wave
	if err := database.Where("wave_id = ?", broken.WaveID).Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload wave: %v", err)
	}
	if repaired.CountsJSON != "{}" {
		testContext.Fatalf("expected repaired counters, got %q", repaired.CountsJSON)
	}

	var untouched waves.Wave
	if err := database.Where("wave_id = ?", healthy.WaveID).Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload wave: %v", err)
	}
	if untouched.CountsJSON != `{"echoes":3}` {
		testContext.Fatalf("expected healthy counters preserved, got %q", untouched.CountsJSON)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRepairWaveCounters).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&waves.Wave{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	var first migrationRecord
	if err := database.Where("name = ?", migrationRepairWaveCounters).Take(&first).Error; err != nil {
		testContext.Fatalf("expected migration record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}
	var records []migrationRecord
	if err := database.Find(&records).Error; err != nil {
		testContext.Fatalf("failed to list migration records: %v", err)
	}
	if len(records) != 1 {
		testContext.Fatalf("expected one migration record, got %d", len(records))
	}
}
