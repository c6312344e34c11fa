package waves

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func mustWaveID(t *testing.T, value string) WaveID {
	t.Helper()
	id, err := NewWaveID(value)
	if err != nil {
		t.Fatalf("unexpected wave id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

// newTestService opens a fresh in-memory database. A nil ids slice switches to
// real UUID generation, which the concurrency tests need.
func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:drift_waves_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Wave{}, &Echo{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	var provider store.IDProvider
	if ids == nil {
		provider = store.NewUUIDProvider()
	} else {
		provider = &staticIDGenerator{ids: ids}
	}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct waves service: %v", err)
	}

	return service, db
}

func seedWave(t *testing.T, db *gorm.DB, waveID, ownerID, countsJSON string) {
	t.Helper()
	wave := Wave{
		WaveID:           waveID,
		OwnerID:          ownerID,
		MediaRef:         "media/" + waveID,
		MuxStatus:        MuxStatusReady,
		CountsJSON:       countsJSON,
		UpdatedAtSeconds: 1700000000,
	}
	if err := db.Create(&wave).Error; err != nil {
		t.Fatalf("failed to seed wave: %v", err)
	}
}
