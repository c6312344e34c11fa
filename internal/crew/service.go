package crew

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
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrInvalidUserID indicates an empty follower or followee identifier.
	ErrInvalidUserID = errors.New("crew: invalid user id")
	// ErrSelfFollow indicates a user tried to follow themselves.
	ErrSelfFollow = errors.New("crew: cannot follow self")
)

// ServiceError carries a stable operation.reason code for crew failures.
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
	opServiceNew  = "crew.service.new"
	opFollow      = "crew.follow"
	opUnfollow    = "crew.unfollow"
	opIsFollowing = "crew.is_following"
	opCount       = "crew.count"
	opFollowers   = "crew.followers"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the follow graph.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maintains directed follow edges and the denormalized follower
// counts, mutating both inside one transaction per call.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the follow graph.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Follow records follower -> followee. Following an already-followed user is a
// no-op. The boolean result reports whether a new edge was created, which the
// caller uses to decide whether a follow ping is due.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) (bool, error) {
	follower, followee, err := normalizePair(followerID, followeeID)
	if err != nil {
		return false, newServiceError(opFollow, "invalid_input", err)
	}

	start := s.clock()
	created := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Edge
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("follower_id = ? AND followee_id = ?", follower, followee).
			Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Classify(err)
		}

		edge := Edge{
			FollowerID:       follower,
			FolloweeID:       followee,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&edge).Error; err != nil {
			return store.Classify(err)
		}

		result := tx.Model(&MemberCount{}).
			Where("user_id = ?", followee).
			Update("followers", gorm.Expr("followers + ?", 1))
		if result.Error != nil {
			return store.Classify(result.Error)
		}
		if result.RowsAffected == 0 {
			if err := tx.Create(&MemberCount{UserID: followee, Followers: 1}).Error; err != nil {
				return store.Classify(err)
			}
		}

		created = true
		return nil
	})
	if txErr != nil {
		s.logError(opFollow, "transaction_failed", txErr,
			zap.String("follower_id", follower),
			zap.String("followee_id", followee))
		return false, newServiceError(opFollow, "transaction_failed", txErr)
	}
	metrics.ObserveTransactionDuration(opFollow, start)
	return created, nil
}

// Unfollow removes the edge if present. A missing edge is a no-op, not an
// error. The count never goes below zero.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	follower, followee, err := normalizePair(followerID, followeeID)
	if err != nil {
		return newServiceError(opUnfollow, "invalid_input", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("follower_id = ? AND followee_id = ?", follower, followee).Delete(&Edge{})
		if result.Error != nil {
			return store.Classify(result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&MemberCount{}).
			Where("user_id = ?", followee).
			Update("followers", gorm.Expr("MAX(followers - 1, 0)")).Error; err != nil {
			return store.Classify(err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUnfollow, "transaction_failed", txErr,
			zap.String("follower_id", follower),
			zap.String("followee_id", followee))
		return newServiceError(opUnfollow, "transaction_failed", txErr)
	}
	return nil
}

// IsFollowing reports whether the directed edge exists.
func (s *Service) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	follower := strings.TrimSpace(followerID)
	followee := strings.TrimSpace(followeeID)
	if follower == "" || followee == "" {
		return false, newServiceError(opIsFollowing, "invalid_input", ErrInvalidUserID)
	}

	var matches int64
	if err := s.db.WithContext(ctx).Model(&Edge{}).
		Where("follower_id = ? AND followee_id = ?", follower, followee).
		Count(&matches).Error; err != nil {
		s.logError(opIsFollowing, "query_failed", err)
		return false, newServiceError(opIsFollowing, "query_failed", store.Classify(err))
	}
	return matches > 0, nil
}

// Count returns the denormalized follower count for a user.
func (s *Service) Count(ctx context.Context, userID string) (int64, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return 0, newServiceError(opCount, "invalid_input", ErrInvalidUserID)
	}

	var record MemberCount
	err := s.db.WithContext(ctx).Where("user_id = ?", user).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opCount, "query_failed", err, zap.String("user_id", user))
		return 0, newServiceError(opCount, "query_failed", store.Classify(err))
	}
	return record.Followers, nil
}

// Followers lists the users following userID, oldest edge first. Used by the
// live session fan-out.
func (s *Service) Followers(ctx context.Context, userID string) ([]string, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return nil, newServiceError(opFollowers, "invalid_input", ErrInvalidUserID)
	}

	var edges []Edge
	if err := s.db.WithContext(ctx).
		Where("followee_id = ?", user).
		Order("created_at_s ASC").
		Find(&edges).Error; err != nil {
		s.logError(opFollowers, "query_failed", err, zap.String("user_id", user))
		return nil, newServiceError(opFollowers, "query_failed", store.Classify(err))
	}

	followers := make([]string, 0, len(edges))
	for _, edge := range edges {
		followers = append(followers, edge.FollowerID)
	}
	return followers, nil
}

func normalizePair(followerID, followeeID string) (string, string, error) {
	follower := strings.TrimSpace(followerID)
	followee := strings.TrimSpace(followeeID)
	if follower == "" || followee == "" {
		return "", "", ErrInvalidUserID
	}
	if follower == followee {
		return "", "", ErrSelfFollow
	}
	return follower, followee, nil
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
	s.loggerOrDefault().Error("crew service error", attrs...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}
