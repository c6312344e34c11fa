package pings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/metrics"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrInvalidRecipient indicates an empty recipient identifier.
	ErrInvalidRecipient = errors.New("pings: invalid recipient id")
	// ErrPingNotFound indicates the ping does not exist.
	ErrPingNotFound = errors.New("pings: ping not found")
)

// ServiceError carries a stable operation.reason code for dispatcher failures.
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
	opServiceNew = "pings.service.new"
	opEnqueue    = "pings.enqueue"
	opMarkRead   = "pings.mark_read"
	opFanOut     = "pings.fan_out"
	opListInbox  = "pings.list_inbox"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Notifier observes freshly enqueued pings, typically to push them to
// connected clients. Delivery is best-effort and must not block dispatch.
type Notifier interface {
	PingEnqueued(ping Ping)
}

// ServiceConfig describes the dependencies of the dispatcher.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider store.IDProvider
	Logger     *zap.Logger
	Notifier   Notifier
}

// Service appends pings to per-recipient inboxes. Each enqueue touches exactly
// one recipient's state.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider store.IDProvider
	logger     *zap.Logger
	notifier   Notifier
}

// NewService validates the configuration and constructs the dispatcher.
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
		notifier:   cfg.Notifier,
	}, nil
}

// Enqueue appends one unread ping to the recipient's inbox and returns its
// store-assigned identifier.
func (s *Service) Enqueue(ctx context.Context, recipientID string, kind Kind, payload Payload) (string, error) {
	recipient := strings.TrimSpace(recipientID)
	if recipient == "" {
		return "", newServiceError(opEnqueue, "invalid_recipient", ErrInvalidRecipient)
	}
	if !kind.Valid() {
		return "", newServiceError(opEnqueue, "invalid_kind", fmt.Errorf("%w: %q", ErrInvalidPingKind, kind))
	}

	splashKind := SplashKind("")
	if kind == KindSplash {
		parsed, err := ParseSplashKind(string(payload.SplashKind))
		if err != nil {
			return "", newServiceError(opEnqueue, "invalid_kind", err)
		}
		splashKind = parsed
	}

	pingID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opEnqueue, "id_generation_failed", err)
		return "", newServiceError(opEnqueue, "id_generation_failed", err)
	}

	ping := Ping{
		PingID:           pingID,
		RecipientID:      recipient,
		Kind:             kind,
		SplashKind:       splashKind,
		ActorID:          strings.TrimSpace(payload.ActorID),
		ActorName:        strings.TrimSpace(payload.ActorName),
		WaveID:           strings.TrimSpace(payload.WaveID),
		TideName:         strings.TrimSpace(payload.TideName),
		Body:             payload.Body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		Read:             false,
	}
	if err := s.db.WithContext(ctx).Create(&ping).Error; err != nil {
		s.logError(opEnqueue, "ping_insert_failed", err,
			zap.String("recipient_id", recipient),
			zap.String("kind", string(kind)))
		return "", newServiceError(opEnqueue, "ping_insert_failed", store.Classify(err))
	}

	metrics.PingsDispatched.WithLabelValues(string(kind)).Inc()
	if s.notifier != nil {
		s.notifier.PingEnqueued(ping)
	}
	return pingID, nil
}

// MarkRead flags a ping as read. Marking an already-read ping again is a
// no-op; only the recipient-facing read flag ever mutates a ping.
func (s *Service) MarkRead(ctx context.Context, pingID string) error {
	id := strings.TrimSpace(pingID)
	if id == "" {
		return newServiceError(opMarkRead, "invalid_ping_id", ErrPingNotFound)
	}

	result := s.db.WithContext(ctx).Model(&Ping{}).
		Where("ping_id = ?", id).
		Update("read", true)
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String("ping_id", id))
		return newServiceError(opMarkRead, "update_failed", store.Classify(result.Error))
	}
	if result.RowsAffected == 0 {
		var matches int64
		if err := s.db.WithContext(ctx).Model(&Ping{}).Where("ping_id = ?", id).Count(&matches).Error; err != nil {
			return newServiceError(opMarkRead, "lookup_failed", store.Classify(err))
		}
		if matches == 0 {
			return newServiceError(opMarkRead, "ping_not_found", ErrPingNotFound)
		}
	}
	return nil
}

// FanOutResult reports a partial fan-out.
type FanOutResult struct {
	Delivered int
	Failed    int
}

// FanOut enqueues the same ping for every recipient as independent writes.
// A failing recipient never blocks delivery to the rest; partial delivery is
// an acceptable, retriable degradation for notifications.
func (s *Service) FanOut(ctx context.Context, recipientIDs []string, kind Kind, payload Payload) (FanOutResult, error) {
	if !kind.Valid() {
		return FanOutResult{}, newServiceError(opFanOut, "invalid_kind", fmt.Errorf("%w: %q", ErrInvalidPingKind, kind))
	}

	result := FanOutResult{}
	var firstErr error
	for _, recipientID := range recipientIDs {
		if _, err := s.Enqueue(ctx, recipientID, kind, payload); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			s.loggerOrDefault().Warn("ping fan-out delivery failed",
				zap.String("operation", opFanOut),
				zap.String("recipient_id", recipientID),
				zap.String("kind", string(kind)),
				zap.Error(err))
			continue
		}
		result.Delivered++
	}

	if result.Failed > 0 {
		return result, newServiceError(opFanOut, "partial_delivery", firstErr)
	}
	return result, nil
}

// ListInbox returns the recipient's pings, newest first.
func (s *Service) ListInbox(ctx context.Context, recipientID string) ([]Ping, error) {
	recipient := strings.TrimSpace(recipientID)
	if recipient == "" {
		return nil, newServiceError(opListInbox, "invalid_recipient", ErrInvalidRecipient)
	}

	var inbox []Ping
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipient).
		Order("created_at_s DESC").
		Find(&inbox).Error; err != nil {
		s.logError(opListInbox, "query_failed", err, zap.String("recipient_id", recipient))
		return nil, newServiceError(opListInbox, "query_failed", store.Classify(err))
	}
	return inbox, nil
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
	s.loggerOrDefault().Error("pings service error", attrs...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}
