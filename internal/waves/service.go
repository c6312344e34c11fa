package waves

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/counters"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/metrics"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrParentNotFound indicates the referenced wave does not exist. The echo
	// transaction aborts without creating anything.
	ErrParentNotFound = errors.New("waves: parent wave not found")
)

// ServiceError carries a stable operation.reason code for wave failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "waves.service.new"
	opPublishWave = "waves.publish_wave"
	opSendEcho    = "waves.send_echo"
	opListEchoes  = "waves.list_echoes"
	opGetWave     = "waves.get_wave"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the echo transaction engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider store.IDProvider
	Logger     *zap.Logger
}

// Service appends echoes to waves while keeping the parent's aggregate
// counters in step, one atomic transaction per mutation.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider store.IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// PublishRequest describes a new wave.
type PublishRequest struct {
	OwnerID   UserID
	MediaRef  string
	Caption   string
	MuxStatus MuxStatus
}

// PublishWave persists a new wave with zeroed counters.
func (s *Service) PublishWave(ctx context.Context, request PublishRequest) (Wave, error) {
	if request.OwnerID.String() == "" {
		return Wave{}, newServiceError(opPublishWave, "missing_owner", ErrInvalidUserID)
	}
	status := request.MuxStatus
	if status == "" {
		status = MuxStatusPending
	}

	waveID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPublishWave, "id_generation_failed", err)
		return Wave{}, newServiceError(opPublishWave, "id_generation_failed", err)
	}

	wave := Wave{
		WaveID:           waveID,
		OwnerID:          request.OwnerID.String(),
		MediaRef:         strings.TrimSpace(request.MediaRef),
		MuxStatus:        status,
		Caption:          request.Caption,
		CountsJSON:       counters.Counts{}.Encode(),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&wave).Error; err != nil {
		s.logError(opPublishWave, "wave_insert_failed", err, zap.String("owner_id", wave.OwnerID))
		return Wave{}, newServiceError(opPublishWave, "wave_insert_failed", store.Classify(err))
	}
	return wave, nil
}

// SendEcho appends an echo to the wave and bumps counts.echoes inside one
// transaction. Whitespace-only text is a deliberate no-op: the zero EchoID is
// returned with no error and nothing is written.
func (s *Service) SendEcho(ctx context.Context, waveID WaveID, authorID UserID, text string) (EchoID, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}
	if waveID.String() == "" {
		return "", newServiceError(opSendEcho, "missing_wave_id", ErrInvalidWaveID)
	}
	if authorID.String() == "" {
		return "", newServiceError(opSendEcho, "missing_author_id", ErrInvalidUserID)
	}

	start := s.clock()
	var createdID string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent Wave
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wave_id = ?", waveID.String()).
			Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrParentNotFound
		}
		if err != nil {
			return store.Classify(err)
		}

		counts := counters.Decode(parent.CountsJSON)

		echoID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opSendEcho, "id_generation_failed", err)
		}
		now := s.clock().UTC().Unix()
		echo := Echo{
			EchoID:           echoID,
			WaveID:           parent.WaveID,
			AuthorID:         authorID.String(),
			Body:             trimmed,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&echo).Error; err != nil {
			return store.Classify(err)
		}

		counts.Bump(counters.KeyEchoes, 1)
		updates := map[string]interface{}{
			"counts_json":  counts.Encode(),
			"updated_at_s": now,
		}
		if err := tx.Model(&Wave{}).Where("wave_id = ?", parent.WaveID).Updates(updates).Error; err != nil {
			return store.Classify(err)
		}

		createdID = echoID
		return nil
	})

	echoID, suppressed, err := resolveEchoOutcome(createdID, txErr)
	if err != nil {
		if !errors.Is(err, ErrParentNotFound) {
			s.logError(opSendEcho, "transaction_failed", txErr, zap.String("wave_id", waveID.String()))
		}
		return "", err
	}
	if suppressed {
		// The write already committed; surfacing the trailing permission
		// check would show the user a false error.
		metrics.SuppressedCommitDenials.Inc()
		s.logger.Warn("suppressed post-commit permission denial",
			zap.String("operation", opSendEcho),
			zap.String("wave_id", waveID.String()),
			zap.Error(txErr))
	} else {
		metrics.EchoesCreated.Inc()
	}
	metrics.ObserveTransactionDuration(opSendEcho, start)
	return echoID, nil
}

// resolveEchoOutcome classifies the transaction result. A permission denial
// reported after the commit point describes a write that durably applied, so
// it resolves to success; every other failure propagates.
func resolveEchoOutcome(createdID string, txErr error) (EchoID, bool, error) {
	if txErr == nil {
		return EchoID(createdID), false, nil
	}
	if store.IsSuppressedCommitDenial(txErr) {
		return EchoID(createdID), true, nil
	}
	if errors.Is(txErr, ErrParentNotFound) {
		return "", false, newServiceError(opSendEcho, "parent_not_found", txErr)
	}
	return "", false, newServiceError(opSendEcho, "transaction_failed", txErr)
}

// ListEchoes returns the echoes attached to a wave, newest first.
func (s *Service) ListEchoes(ctx context.Context, waveID WaveID) ([]Echo, error) {
	if waveID.String() == "" {
		return nil, newServiceError(opListEchoes, "missing_wave_id", ErrInvalidWaveID)
	}

	var echoes []Echo
	if err := s.db.WithContext(ctx).
		Where("wave_id = ?", waveID.String()).
		Order("created_at_s DESC").
		Find(&echoes).Error; err != nil {
		s.logError(opListEchoes, "query_failed", err, zap.String("wave_id", waveID.String()))
		return nil, newServiceError(opListEchoes, "query_failed", store.Classify(err))
	}
	return echoes, nil
}

// GetWave loads one wave by identifier.
func (s *Service) GetWave(ctx context.Context, waveID WaveID) (Wave, error) {
	if waveID.String() == "" {
		return Wave{}, newServiceError(opGetWave, "missing_wave_id", ErrInvalidWaveID)
	}

	var wave Wave
	err := s.db.WithContext(ctx).Where("wave_id = ?", waveID.String()).Take(&wave).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Wave{}, newServiceError(opGetWave, "parent_not_found", ErrParentNotFound)
	}
	if err != nil {
		s.logError(opGetWave, "query_failed", err, zap.String("wave_id", waveID.String()))
		return Wave{}, newServiceError(opGetWave, "query_failed", store.Classify(err))
	}
	return wave, nil
}

// EchoCount reads the denormalized echo counter from the wave document.
func (w Wave) EchoCount() int64 {
	return counters.Decode(w.CountsJSON).Get(counters.KeyEchoes)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("waves service error", attrs...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}
