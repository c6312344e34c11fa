package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/waves"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairWaveCounters = "2026-07-14_repair_wave_counters"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairWaveCounters, apply: repairWaveCounters},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairWaveCounters backfills an empty counter object on legacy waves whose
// counters column does not decode as a JSON object. Readers already coerce
// malformed counters defensively; this clears the bad rows at the source.
func repairWaveCounters(db *gorm.DB) error {
	var rows []waves.Wave
	if err := db.Select("wave_id", "counts_json").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if countersDecodable(row.CountsJSON) {
			continue
		}
		err := db.Model(&waves.Wave{}).
			Where("wave_id = ?", row.WaveID).
			Update("counts_json", "{}").Error
		if err != nil {
			return err
		}
	}
	return nil
}

func countersDecodable(raw string) bool {
	if raw == "" {
		return false
	}
	var decoded map[string]json.Number
	return json.Unmarshal([]byte(raw), &decoded) == nil
}
