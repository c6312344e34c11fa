package live

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
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

type staticFollowers struct {
	followers []string
	err       error
}

func (f *staticFollowers) Followers(ctx context.Context, userID string) ([]string, error) {
	return f.followers, f.err
}

type recordingDispatcher struct {
	recipients []string
	kind       pings.Kind
	payload    pings.Payload
	calls      int
}

func (d *recordingDispatcher) FanOut(ctx context.Context, recipientIDs []string, kind pings.Kind, payload pings.Payload) (pings.FanOutResult, error) {
	d.calls++
	d.recipients = recipientIDs
	d.kind = kind
	d.payload = payload
	return pings.FanOutResult{Delivered: len(recipientIDs)}, nil
}

// newTestService opens a fresh in-memory database. A nil ids slice switches to
// real UUID generation, which the concurrency tests need.
func newTestService(t *testing.T, ids []string, crewLister FollowerLister, dispatcher Dispatcher) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:drift_live_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Session{}, &Poll{}, &PollVote{}, &PollTally{}, &Goal{}); err != nil {
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
		Crew:       crewLister,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct live service: %v", err)
	}
	return service, db
}

func seedSession(t *testing.T, db *gorm.DB, liveID, hostID string, state SessionState) {
	t.Helper()
	session := Session{
		LiveID:   liveID,
		HostID:   hostID,
		HostName: "Host " + hostID,
		TideName: "tide-" + liveID,
		State:    state,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

func seedPoll(t *testing.T, db *gorm.DB, pollID, liveID string) {
	t.Helper()
	poll := Poll{
		PollID:           pollID,
		LiveID:           liveID,
		Question:         "which drop next?",
		OptionsJSON:      `[{"id":"opt-x","label":"X"},{"id":"opt-y","label":"Y"}]`,
		CreatedAtSeconds: 1700000000,
	}
	if err := db.Create(&poll).Error; err != nil {
		t.Fatalf("failed to seed poll: %v", err)
	}
}

func mustCastVote(t *testing.T, service *Service, liveID, pollID, userID, optionID string) {
	t.Helper()
	if err := service.CastVote(context.Background(), liveID, pollID, userID, optionID); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
}
