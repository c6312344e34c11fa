package waves

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/counters"
)

func TestSendEchoCreatesEchoAndBumpsCounter(t *testing.T) {
	service, db := newTestService(t, []string{"echo-1"})
	seedWave(t, db, "wave-1", "owner-1", `{"echoes":2}`)

	echoID, err := service.SendEcho(context.Background(), mustWaveID(t, "wave-1"), mustUserID(t, "author-1"), "  great drop  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echoID.String() != "echo-1" {
		t.Fatalf("unexpected echo id %s", echoID)
	}

	var stored Echo
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load echo: %v", err)
	}
	if stored.Body != "great drop" {
		t.Fatalf("expected trimmed body, got %q", stored.Body)
	}
	if stored.CreatedAtSeconds != 1700000600 {
		t.Fatalf("expected service clock timestamp, got %d", stored.CreatedAtSeconds)
	}

	var wave Wave
	if err := db.First(&wave).Error; err != nil {
		t.Fatalf("failed to load wave: %v", err)
	}
	if wave.EchoCount() != 3 {
		t.Fatalf("expected echo count 3, got %d", wave.EchoCount())
	}
	if wave.UpdatedAtSeconds != 1700000600 {
		t.Fatalf("expected updated_at to advance, got %d", wave.UpdatedAtSeconds)
	}
}

func TestSendEchoWhitespaceOnlyIsSilentNoOp(t *testing.T) {
	service, db := newTestService(t, []string{"echo-1"})
	seedWave(t, db, "wave-1", "owner-1", `{"echoes":2}`)

	echoID, err := service.SendEcho(context.Background(), mustWaveID(t, "wave-1"), mustUserID(t, "author-1"), "   ")
	if err != nil {
		t.Fatalf("whitespace echo must not error: %v", err)
	}
	if echoID.String() != "" {
		t.Fatalf("whitespace echo must not create anything, got id %s", echoID)
	}

	var echoCount int64
	if err := db.Model(&Echo{}).Count(&echoCount).Error; err != nil {
		t.Fatalf("failed to count echoes: %v", err)
	}
	if echoCount != 0 {
		t.Fatalf("expected no echo rows, got %d", echoCount)
	}

	var wave Wave
	if err := db.First(&wave).Error; err != nil {
		t.Fatalf("failed to load wave: %v", err)
	}
	if wave.EchoCount() != 2 {
		t.Fatalf("counter must not move, got %d", wave.EchoCount())
	}
}

func TestSendEchoMissingParentIsAllOrNothing(t *testing.T) {
	service, db := newTestService(t, []string{"echo-1"})

	_, err := service.SendEcho(context.Background(), mustWaveID(t, "wave-missing"), mustUserID(t, "author-1"), "hello")
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected parent-not-found, got %v", err)
	}

	var echoCount int64
	if err := db.Model(&Echo{}).Count(&echoCount).Error; err != nil {
		t.Fatalf("failed to count echoes: %v", err)
	}
	if echoCount != 0 {
		t.Fatalf("no echo may exist without its parent, found %d", echoCount)
	}
}

func TestSendEchoCoercesMalformedCounters(t *testing.T) {
	service, db := newTestService(t, []string{"echo-1"})
	seedWave(t, db, "wave-1", "owner-1", `["not","a","map"]`)

	if _, err := service.SendEcho(context.Background(), mustWaveID(t, "wave-1"), mustUserID(t, "author-1"), "first"); err != nil {
		t.Fatalf("malformed counters must not fail the transaction: %v", err)
	}

	var wave Wave
	if err := db.First(&wave).Error; err != nil {
		t.Fatalf("failed to load wave: %v", err)
	}
	if wave.EchoCount() != 1 {
		t.Fatalf("expected normalized counter 1, got %d", wave.EchoCount())
	}
}

func TestSendEchoConcurrentCallersCountExactly(t *testing.T) {
	service, db := newTestService(t, nil)
	seedWave(t, db, "wave-1", "owner-1", `{"echoes":2}`)

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.SendEcho(context.Background(), mustWaveID(t, "wave-1"), mustUserID(t, "author-1"), "racing echo")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent echo failed: %v", err)
		}
	}

	var wave Wave
	if err := db.First(&wave).Error; err != nil {
		t.Fatalf("failed to load wave: %v", err)
	}
	if wave.EchoCount() != 2+callers {
		t.Fatalf("expected counter %d, got %d", 2+callers, wave.EchoCount())
	}

	var echoCount int64
	if err := db.Model(&Echo{}).Count(&echoCount).Error; err != nil {
		t.Fatalf("failed to count echoes: %v", err)
	}
	if echoCount != callers {
		t.Fatalf("expected %d echo rows, got %d", callers, echoCount)
	}
}

func TestPublishWaveStartsWithEmptyCounters(t *testing.T) {
	service, _ := newTestService(t, []string{"wave-1"})

	wave, err := service.PublishWave(context.Background(), PublishRequest{
		OwnerID:  mustUserID(t, "owner-1"),
		MediaRef: " clips/day-one.mp4 ",
		Caption:  "first light",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wave.WaveID != "wave-1" {
		t.Fatalf("unexpected wave id %s", wave.WaveID)
	}
	if wave.MuxStatus != MuxStatusPending {
		t.Fatalf("expected pending mux status, got %s", wave.MuxStatus)
	}
	if wave.MediaRef != "clips/day-one.mp4" {
		t.Fatalf("expected trimmed media ref, got %q", wave.MediaRef)
	}
	if wave.CountsJSON != "{}" {
		t.Fatalf("expected empty counters, got %s", wave.CountsJSON)
	}
	if counters.Decode(wave.CountsJSON).Get(counters.KeyEchoes) != 0 {
		t.Fatalf("expected zero echo count")
	}
}

func TestListEchoesNewestFirst(t *testing.T) {
	service, db := newTestService(t, []string{"echo-1", "echo-2"})
	seedWave(t, db, "wave-1", "owner-1", `{}`)

	older := Echo{EchoID: "old", WaveID: "wave-1", AuthorID: "a", Body: "old", CreatedAtSeconds: 1700000100}
	newer := Echo{EchoID: "new", WaveID: "wave-1", AuthorID: "b", Body: "new", CreatedAtSeconds: 1700000500}
	if err := db.Create(&older).Error; err != nil {
		t.Fatalf("failed to seed echo: %v", err)
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatalf("failed to seed echo: %v", err)
	}

	echoes, err := service.ListEchoes(context.Background(), mustWaveID(t, "wave-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(echoes) != 2 {
		t.Fatalf("expected 2 echoes, got %d", len(echoes))
	}
	if echoes[0].EchoID != "new" || echoes[1].EchoID != "old" {
		t.Fatalf("expected newest-first ordering, got %s then %s", echoes[0].EchoID, echoes[1].EchoID)
	}
}

func TestGetWaveMissingReportsParentNotFound(t *testing.T) {
	service, _ := newTestService(t, []string{"echo-1"})
	if _, err := service.GetWave(context.Background(), mustWaveID(t, "wave-missing")); !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected parent-not-found, got %v", err)
	}
}
