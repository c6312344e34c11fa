package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/metrics"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Per-event goal increments are small by construction; anything larger is a
// caller bug, not a burst of enthusiasm.
const maxGoalDelta = 100

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingFanOut     = errors.New("crew and dispatcher are required for fan-out")
	noOpLogger           = zap.NewNop()

	// ErrParentNotFound indicates the referenced session, poll, or goal is absent.
	ErrParentNotFound = errors.New("live: parent not found")
	// ErrSessionNotLive indicates a mutation against a session outside the live state.
	ErrSessionNotLive = errors.New("live: session not live")
	// ErrUnknownOption indicates a vote for an option the poll does not carry.
	ErrUnknownOption = errors.New("live: unknown poll option")
	// ErrNotHost indicates a caller other than the session host tried a host-only action.
	ErrNotHost = errors.New("live: caller is not the session host")
	// ErrInvalidDelta indicates a goal increment outside (0, maxGoalDelta].
	ErrInvalidDelta = errors.New("live: invalid goal delta")
	// ErrInvalidPoll indicates a poll definition with missing or duplicate options.
	ErrInvalidPoll = errors.New("live: invalid poll definition")
	// ErrInvalidGoal indicates a non-positive goal target.
	ErrInvalidGoal = errors.New("live: invalid goal target")
)

// ServiceError carries a stable operation.reason code for live-session failures.
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
	opServiceNew     = "live.service.new"
	opOpenSession    = "live.open_session"
	opGoToLive       = "live.go_to_live"
	opEndSession     = "live.end_session"
	opCreatePoll     = "live.create_poll"
	opCastVote       = "live.cast_vote"
	opTally          = "live.tally"
	opCreateGoal     = "live.create_goal"
	opAdvanceGoal    = "live.advance_goal"
	opGetSession     = "live.get_session"
	opBroadcastAlert = "live.broadcast_alert"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// FollowerLister exposes the crew edges the drift-alert fan-out needs.
type FollowerLister interface {
	Followers(ctx context.Context, userID string) ([]string, error)
}

// Dispatcher is the notification sink for live-session side effects.
type Dispatcher interface {
	FanOut(ctx context.Context, recipientIDs []string, kind pings.Kind, payload pings.Payload) (pings.FanOutResult, error)
}

// ServiceConfig describes the dependencies of the live session state machine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider store.IDProvider
	Logger     *zap.Logger
	Crew       FollowerLister
	Dispatcher Dispatcher
}

// Service drives per-broadcast ephemeral state: session lifecycle, polls,
// goals, and drift alerts. Every mutation runs as one transaction scoped to
// the rows it touches.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider store.IDProvider
	logger     *zap.Logger
	crew       FollowerLister
	dispatcher Dispatcher
}

// NewService validates the configuration and constructs the state machine.
// Crew and Dispatcher may be nil when alert fan-out is not needed.
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
		crew:       cfg.Crew,
		dispatcher: cfg.Dispatcher,
	}, nil
}

// OpenSessionRequest describes a session registration.
type OpenSessionRequest struct {
	HostID       string
	HostName     string
	HostPhotoRef string
	TideName     string
}

// OpenSession registers a session in the not_live state and returns it with
// its store-assigned identifier.
func (s *Service) OpenSession(ctx context.Context, request OpenSessionRequest) (Session, error) {
	hostID := strings.TrimSpace(request.HostID)
	if hostID == "" {
		return Session{}, newServiceError(opOpenSession, "missing_host", ErrNotHost)
	}

	liveID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opOpenSession, "id_generation_failed", err)
		return Session{}, newServiceError(opOpenSession, "id_generation_failed", err)
	}

	session := Session{
		LiveID:       liveID,
		HostID:       hostID,
		HostName:     strings.TrimSpace(request.HostName),
		HostPhotoRef: strings.TrimSpace(request.HostPhotoRef),
		TideName:     strings.TrimSpace(request.TideName),
		State:        StateNotLive,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opOpenSession, "session_insert_failed", err, zap.String("host_id", hostID))
		return Session{}, newServiceError(opOpenSession, "session_insert_failed", store.Classify(err))
	}
	return session, nil
}

// GoToLive transitions not_live -> live and returns the drift alert for the
// transition. Calling it on an already-live session is a no-op returning a
// nil alert, so repeated taps never fan out twice. An ended session stays
// ended.
func (s *Service) GoToLive(ctx context.Context, hostID, liveID string) (*DriftAlert, error) {
	host := strings.TrimSpace(hostID)
	id := strings.TrimSpace(liveID)
	if host == "" || id == "" {
		return nil, newServiceError(opGoToLive, "invalid_input", ErrParentNotFound)
	}

	var alert *DriftAlert
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if session.HostID != host {
			return ErrNotHost
		}
		switch session.State {
		case StateLive:
			return nil
		case StateEnded:
			return ErrSessionNotLive
		}

		now := s.clock().UTC().Unix()
		updates := map[string]interface{}{
			"state":        StateLive,
			"started_at_s": now,
		}
		if err := tx.Model(&Session{}).Where("live_id = ?", id).Updates(updates).Error; err != nil {
			return store.Classify(err)
		}

		alert = &DriftAlert{
			HostID:       session.HostID,
			LiveID:       session.LiveID,
			HostName:     session.HostName,
			HostPhotoRef: session.HostPhotoRef,
			TideName:     session.TideName,
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrNotHost) || errors.Is(txErr, ErrSessionNotLive) {
			return nil, newServiceError(opGoToLive, "rejected", txErr)
		}
		s.logError(opGoToLive, "transaction_failed", txErr, zap.String("live_id", id))
		return nil, newServiceError(opGoToLive, "transaction_failed", txErr)
	}
	return alert, nil
}

// BroadcastAlert fans out friend_went_live pings to every crew member
// following the host. Runs outside the transition transaction; partial
// delivery is acceptable and reported, not rolled back.
func (s *Service) BroadcastAlert(ctx context.Context, alert *DriftAlert) (pings.FanOutResult, error) {
	if alert == nil {
		return pings.FanOutResult{}, nil
	}
	if s.crew == nil || s.dispatcher == nil {
		return pings.FanOutResult{}, newServiceError(opBroadcastAlert, "fan_out_unconfigured", errMissingFanOut)
	}

	followers, err := s.crew.Followers(ctx, alert.HostID)
	if err != nil {
		s.logError(opBroadcastAlert, "follower_lookup_failed", err, zap.String("host_id", alert.HostID))
		return pings.FanOutResult{}, newServiceError(opBroadcastAlert, "follower_lookup_failed", err)
	}

	payload := pings.Payload{
		ActorID:   alert.HostID,
		ActorName: alert.HostName,
		TideName:  alert.TideName,
		Body:      fmt.Sprintf("%s is live", alert.HostName),
	}
	result, err := s.dispatcher.FanOut(ctx, followers, pings.KindFriendWentLive, payload)
	if err != nil {
		s.loggerOrDefault().Warn("drift alert fan-out incomplete",
			zap.String("operation", opBroadcastAlert),
			zap.String("live_id", alert.LiveID),
			zap.Int("delivered", result.Delivered),
			zap.Int("failed", result.Failed),
			zap.Error(err))
	}
	return result, err
}

// EndSession transitions live -> ended. Ending an already-ended session is a
// no-op; a session that never went live cannot end.
func (s *Service) EndSession(ctx context.Context, liveID string) error {
	id := strings.TrimSpace(liveID)
	if id == "" {
		return newServiceError(opEndSession, "invalid_input", ErrParentNotFound)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		switch session.State {
		case StateEnded:
			return nil
		case StateNotLive:
			return ErrSessionNotLive
		}

		updates := map[string]interface{}{
			"state":      StateEnded,
			"ended_at_s": s.clock().UTC().Unix(),
		}
		return store.Classify(tx.Model(&Session{}).Where("live_id = ?", id).Updates(updates).Error)
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrSessionNotLive) {
			return newServiceError(opEndSession, "rejected", txErr)
		}
		s.logError(opEndSession, "transaction_failed", txErr, zap.String("live_id", id))
		return newServiceError(opEndSession, "transaction_failed", txErr)
	}
	return nil
}

// CreatePoll attaches a poll to a live session. Options must be non-empty and
// unique by id, and at least two are required.
func (s *Service) CreatePoll(ctx context.Context, liveID, question string, options []PollOption) (Poll, error) {
	id := strings.TrimSpace(liveID)
	trimmedQuestion := strings.TrimSpace(question)
	if id == "" || trimmedQuestion == "" {
		return Poll{}, newServiceError(opCreatePoll, "invalid_input", ErrInvalidPoll)
	}
	if len(options) < 2 {
		return Poll{}, newServiceError(opCreatePoll, "too_few_options", ErrInvalidPoll)
	}
	seen := make(map[string]struct{}, len(options))
	for _, option := range options {
		optionID := strings.TrimSpace(option.ID)
		if optionID == "" {
			return Poll{}, newServiceError(opCreatePoll, "blank_option_id", ErrInvalidPoll)
		}
		if _, duplicate := seen[optionID]; duplicate {
			return Poll{}, newServiceError(opCreatePoll, "duplicate_option_id", ErrInvalidPoll)
		}
		seen[optionID] = struct{}{}
	}

	encoded, err := json.Marshal(options)
	if err != nil {
		return Poll{}, newServiceError(opCreatePoll, "options_encode_failed", err)
	}

	var poll Poll
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if session.State != StateLive {
			return ErrSessionNotLive
		}

		pollID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opCreatePoll, "id_generation_failed", err)
		}
		poll = Poll{
			PollID:           pollID,
			LiveID:           id,
			Question:         trimmedQuestion,
			OptionsJSON:      string(encoded),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		return store.Classify(tx.Create(&poll).Error)
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrSessionNotLive) {
			return Poll{}, newServiceError(opCreatePoll, "rejected", txErr)
		}
		s.logError(opCreatePoll, "transaction_failed", txErr, zap.String("live_id", id))
		return Poll{}, newServiceError(opCreatePoll, "transaction_failed", txErr)
	}
	return poll, nil
}

// CastVote records userID's vote for optionID, replacing any prior vote in
// the same poll. The vote row and both affected tallies move in one
// transaction; re-voting the same option is a no-op.
func (s *Service) CastVote(ctx context.Context, liveID, pollID, userID, optionID string) error {
	id := strings.TrimSpace(liveID)
	poll := strings.TrimSpace(pollID)
	user := strings.TrimSpace(userID)
	option := strings.TrimSpace(optionID)
	if id == "" || poll == "" || user == "" || option == "" {
		return newServiceError(opCastVote, "invalid_input", ErrParentNotFound)
	}

	start := s.clock()
	counted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if session.State != StateLive {
			return ErrSessionNotLive
		}

		var pollRecord Poll
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("poll_id = ? AND live_id = ?", poll, id).
			Take(&pollRecord).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrParentNotFound
		}
		if err != nil {
			return store.Classify(err)
		}
		if !pollRecord.HasOption(option) {
			return ErrUnknownOption
		}

		now := s.clock().UTC().Unix()
		var existing PollVote
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("poll_id = ? AND user_id = ?", poll, user).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			vote := PollVote{PollID: poll, UserID: user, OptionID: option, UpdatedAtSeconds: now}
			if err := tx.Create(&vote).Error; err != nil {
				return store.Classify(err)
			}
			if err := bumpTally(tx, poll, option, 1); err != nil {
				return err
			}
		case err != nil:
			return store.Classify(err)
		case existing.OptionID == option:
			return nil
		default:
			updates := map[string]interface{}{"option_id": option, "updated_at_s": now}
			if err := tx.Model(&PollVote{}).
				Where("poll_id = ? AND user_id = ?", poll, user).
				Updates(updates).Error; err != nil {
				return store.Classify(err)
			}
			if err := bumpTally(tx, poll, existing.OptionID, -1); err != nil {
				return err
			}
			if err := bumpTally(tx, poll, option, 1); err != nil {
				return err
			}
		}
		counted = true
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrSessionNotLive) || errors.Is(txErr, ErrUnknownOption) {
			return newServiceError(opCastVote, "rejected", txErr)
		}
		s.logError(opCastVote, "transaction_failed", txErr,
			zap.String("live_id", id),
			zap.String("poll_id", poll))
		return newServiceError(opCastVote, "transaction_failed", txErr)
	}
	if counted {
		metrics.VotesCast.Inc()
	}
	metrics.ObserveTransactionDuration(opCastVote, start)
	return nil
}

// Tally returns the per-option vote counts for a poll in option order.
func (s *Service) Tally(ctx context.Context, pollID string) (map[string]int64, error) {
	poll := strings.TrimSpace(pollID)
	if poll == "" {
		return nil, newServiceError(opTally, "invalid_input", ErrParentNotFound)
	}

	var rows []PollTally
	if err := s.db.WithContext(ctx).Where("poll_id = ?", poll).Find(&rows).Error; err != nil {
		s.logError(opTally, "query_failed", err, zap.String("poll_id", poll))
		return nil, newServiceError(opTally, "query_failed", store.Classify(err))
	}

	tally := make(map[string]int64, len(rows))
	for _, row := range rows {
		tally[row.OptionID] = row.Votes
	}
	return tally, nil
}

// CreateGoal attaches a progress goal to a live session.
func (s *Service) CreateGoal(ctx context.Context, liveID string, target int64, label string) (Goal, error) {
	id := strings.TrimSpace(liveID)
	if id == "" {
		return Goal{}, newServiceError(opCreateGoal, "invalid_input", ErrParentNotFound)
	}
	if target <= 0 {
		return Goal{}, newServiceError(opCreateGoal, "invalid_target", ErrInvalidGoal)
	}

	var goal Goal
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if session.State != StateLive {
			return ErrSessionNotLive
		}

		goalID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opCreateGoal, "id_generation_failed", err)
		}
		goal = Goal{
			GoalID: goalID,
			LiveID: id,
			Label:  strings.TrimSpace(label),
			Target: target,
		}
		return store.Classify(tx.Create(&goal).Error)
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrSessionNotLive) {
			return Goal{}, newServiceError(opCreateGoal, "rejected", txErr)
		}
		s.logError(opCreateGoal, "transaction_failed", txErr, zap.String("live_id", id))
		return Goal{}, newServiceError(opCreateGoal, "transaction_failed", txErr)
	}
	return goal, nil
}

// AdvanceGoal atomically increments the goal's progress by delta. Delta is a
// small positive per-event amount, never an absolute value; the stored current
// may overshoot the target, display clamping happens in Goal.ReportedCurrent.
func (s *Service) AdvanceGoal(ctx context.Context, liveID, goalID string, delta int64) error {
	id := strings.TrimSpace(liveID)
	goal := strings.TrimSpace(goalID)
	if id == "" || goal == "" {
		return newServiceError(opAdvanceGoal, "invalid_input", ErrParentNotFound)
	}
	if delta <= 0 || delta > maxGoalDelta {
		return newServiceError(opAdvanceGoal, "invalid_delta", fmt.Errorf("%w: %d", ErrInvalidDelta, delta))
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if session.State != StateLive {
			return ErrSessionNotLive
		}

		result := tx.Model(&Goal{}).
			Where("goal_id = ? AND live_id = ?", goal, id).
			Update("current", gorm.Expr("current + ?", delta))
		if result.Error != nil {
			return store.Classify(result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrParentNotFound
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrParentNotFound) || errors.Is(txErr, ErrSessionNotLive) {
			return newServiceError(opAdvanceGoal, "rejected", txErr)
		}
		s.logError(opAdvanceGoal, "transaction_failed", txErr,
			zap.String("live_id", id),
			zap.String("goal_id", goal))
		return newServiceError(opAdvanceGoal, "transaction_failed", txErr)
	}
	return nil
}

// GetSession loads one session by identifier.
func (s *Service) GetSession(ctx context.Context, liveID string) (Session, error) {
	id := strings.TrimSpace(liveID)
	if id == "" {
		return Session{}, newServiceError(opGetSession, "invalid_input", ErrParentNotFound)
	}

	var session Session
	err := s.db.WithContext(ctx).Where("live_id = ?", id).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, newServiceError(opGetSession, "not_found", ErrParentNotFound)
	}
	if err != nil {
		s.logError(opGetSession, "query_failed", err, zap.String("live_id", id))
		return Session{}, newServiceError(opGetSession, "query_failed", store.Classify(err))
	}
	return session, nil
}

func lockSession(tx *gorm.DB, liveID string) (Session, error) {
	var session Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("live_id = ?", liveID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrParentNotFound
	}
	if err != nil {
		return Session{}, store.Classify(err)
	}
	return session, nil
}

func bumpTally(tx *gorm.DB, pollID, optionID string, delta int64) error {
	result := tx.Model(&PollTally{}).
		Where("poll_id = ? AND option_id = ?", pollID, optionID).
		Update("votes", gorm.Expr("MAX(votes + ?, 0)", delta))
	if result.Error != nil {
		return store.Classify(result.Error)
	}
	if result.RowsAffected == 0 && delta > 0 {
		if err := tx.Create(&PollTally{PollID: pollID, OptionID: optionID, Votes: delta}).Error; err != nil {
			return store.Classify(err)
		}
	}
	return nil
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
	s.loggerOrDefault().Error("live service error", attrs...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}
