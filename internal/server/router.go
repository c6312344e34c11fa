package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/auth"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/crew"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/live"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/users"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/waves"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	callerIDContextKey   = "drift_caller_id"
	callerNameContextKey = "drift_caller_name"

	defaultWriteRate  = rate.Limit(10)
	defaultWriteBurst = 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingWavesService     = errors.New("waves service dependency required")
	errMissingCrewService      = errors.New("crew service dependency required")
	errMissingPingsService     = errors.New("pings service dependency required")
	errMissingLiveService      = errors.New("live service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves validated session claims from a bearer token.
type TokenValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	SessionValidator TokenValidator
	WavesService     *waves.Service
	CrewService      *crew.Service
	PingsService     *pings.Service
	LiveService      *live.Service
	UsersService     *users.Service
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
	WriteRate        rate.Limit
	WriteBurst       int
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.WavesService == nil {
		return nil, errMissingWavesService
	}
	if deps.CrewService == nil {
		return nil, errMissingCrewService
	}
	if deps.PingsService == nil {
		return nil, errMissingPingsService
	}
	if deps.LiveService == nil {
		return nil, errMissingLiveService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeRate := deps.WriteRate
	if writeRate <= 0 {
		writeRate = defaultWriteRate
	}
	writeBurst := deps.WriteBurst
	if writeBurst <= 0 {
		writeBurst = defaultWriteBurst
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		validator:    deps.SessionValidator,
		wavesService: deps.WavesService,
		crewService:  deps.CrewService,
		pingsService: deps.PingsService,
		liveService:  deps.LiveService,
		usersService: deps.UsersService,
		realtime:     deps.Realtime,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
		writeRate:    writeRate,
		writeBurst:   writeBurst,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/waves/:waveId", handler.handleGetWave)
	protected.GET("/waves/:waveId/echoes", handler.handleListEchoes)
	protected.GET("/crew/:userId/count", handler.handleCrewCount)
	protected.GET("/pings", handler.handleListPings)
	protected.GET("/pings/stream", handler.handlePingStream)
	protected.GET("/live/:liveId", handler.handleGetSession)
	protected.GET("/live/:liveId/polls/:pollId/tally", handler.handlePollTally)

	mutating := protected.Group("/")
	mutating.Use(handler.throttleWrites)
	mutating.POST("/waves", handler.handlePublishWave)
	mutating.POST("/waves/:waveId/echoes", handler.handleSendEcho)
	mutating.PUT("/crew/:userId", handler.handleFollow)
	mutating.DELETE("/crew/:userId", handler.handleUnfollow)
	mutating.POST("/pings/:pingId/read", handler.handleMarkRead)
	mutating.POST("/live", handler.handleOpenSession)
	mutating.POST("/live/:liveId/start", handler.handleStartSession)
	mutating.POST("/live/:liveId/end", handler.handleEndSession)
	mutating.POST("/live/:liveId/polls", handler.handleCreatePoll)
	mutating.POST("/live/:liveId/polls/:pollId/votes", handler.handleCastVote)
	mutating.POST("/live/:liveId/goals", handler.handleCreateGoal)
	mutating.POST("/live/:liveId/goals/:goalId/advance", handler.handleAdvanceGoal)

	return router, nil
}

type httpHandler struct {
	validator    TokenValidator
	wavesService *waves.Service
	crewService  *crew.Service
	pingsService *pings.Service
	liveService  *live.Service
	usersService *users.Service
	realtime     *RealtimeDispatcher
	logger       *zap.Logger

	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
	writeRate  rate.Limit
	writeBurst int
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	callerName := claims.UserDisplayName
	if h.usersService != nil {
		if resolved, touchErr := h.usersService.Touch(claims); touchErr == nil && resolved != "" {
			callerName = resolved
		}
	}
	c.Set(callerIDContextKey, claims.UserID)
	c.Set(callerNameContextKey, callerName)
	c.Next()
}

func (h *httpHandler) throttleWrites(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	if callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !h.limiterFor(callerID).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}

func (h *httpHandler) limiterFor(callerID string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()
	limiter, ok := h.limiters[callerID]
	if !ok {
		limiter = rate.NewLimiter(h.writeRate, h.writeBurst)
		h.limiters[callerID] = limiter
	}
	return limiter
}

type publishWavePayload struct {
	MediaRef  string `json:"media_ref"`
	Caption   string `json:"caption"`
	MuxStatus string `json:"mux_status"`
}

type wavePayload struct {
	WaveID           string `json:"wave_id"`
	OwnerID          string `json:"owner_id"`
	MediaRef         string `json:"media_ref"`
	MuxStatus        string `json:"mux_status"`
	Caption          string `json:"caption"`
	EchoCount        int64  `json:"echo_count"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func waveToPayload(wave waves.Wave) wavePayload {
	return wavePayload{
		WaveID:           wave.WaveID,
		OwnerID:          wave.OwnerID,
		MediaRef:         wave.MediaRef,
		MuxStatus:        string(wave.MuxStatus),
		Caption:          wave.Caption,
		EchoCount:        wave.EchoCount(),
		UpdatedAtSeconds: wave.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handlePublishWave(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	var request publishWavePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID, err := waves.NewUserID(callerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_caller"})
		return
	}
	status := waves.MuxStatus(request.MuxStatus)
	if request.MuxStatus != "" {
		status, err = waves.ParseMuxStatus(request.MuxStatus)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mux_status"})
			return
		}
	}
	wave, err := h.wavesService.PublishWave(c.Request.Context(), waves.PublishRequest{
		OwnerID:   ownerID,
		MediaRef:  request.MediaRef,
		Caption:   request.Caption,
		MuxStatus: status,
	})
	if err != nil {
		h.respondServiceError(c, "publish wave", err)
		return
	}
	c.JSON(http.StatusCreated, waveToPayload(wave))
}

func (h *httpHandler) handleGetWave(c *gin.Context) {
	waveID, err := waves.NewWaveID(c.Param("waveId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wave_id"})
		return
	}
	wave, err := h.wavesService.GetWave(c.Request.Context(), waveID)
	if err != nil {
		h.respondServiceError(c, "get wave", err)
		return
	}
	c.JSON(http.StatusOK, waveToPayload(wave))
}

type sendEchoPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleSendEcho(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	waveID, err := waves.NewWaveID(c.Param("waveId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wave_id"})
		return
	}
	authorID, err := waves.NewUserID(callerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_caller"})
		return
	}
	var request sendEchoPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	echoID, err := h.wavesService.SendEcho(c.Request.Context(), waveID, authorID, request.Text)
	if err != nil {
		h.respondServiceError(c, "send echo", err)
		return
	}
	if echoID != "" {
		h.notifyWaveOwner(c, waveID, callerID)
	}
	c.JSON(http.StatusCreated, gin.H{"echo_id": echoID.String()})
}

// notifyWaveOwner enqueues the echo ping for the wave owner. Delivery is
// best effort: the echo is already committed, so dispatch failures are
// logged and do not fail the request.
func (h *httpHandler) notifyWaveOwner(c *gin.Context, waveID waves.WaveID, callerID string) {
	wave, err := h.wavesService.GetWave(c.Request.Context(), waveID)
	if err != nil {
		h.logger.Warn("echo ping skipped, wave lookup failed", zap.Error(err))
		return
	}
	if wave.OwnerID == callerID {
		return
	}
	_, err = h.pingsService.Enqueue(c.Request.Context(), wave.OwnerID, pings.KindEcho, pings.Payload{
		ActorID:   callerID,
		ActorName: c.GetString(callerNameContextKey),
		WaveID:    waveID.String(),
	})
	if err != nil {
		h.logger.Warn("echo ping dispatch failed", zap.Error(err))
	}
}

type echoPayload struct {
	EchoID           string `json:"echo_id"`
	WaveID           string `json:"wave_id"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListEchoes(c *gin.Context) {
	waveID, err := waves.NewWaveID(c.Param("waveId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wave_id"})
		return
	}
	echoes, err := h.wavesService.ListEchoes(c.Request.Context(), waveID)
	if err != nil {
		h.respondServiceError(c, "list echoes", err)
		return
	}
	payload := make([]echoPayload, 0, len(echoes))
	for _, echo := range echoes {
		payload = append(payload, echoPayload{
			EchoID:           echo.EchoID,
			WaveID:           echo.WaveID,
			AuthorID:         echo.AuthorID,
			Body:             echo.Body,
			CreatedAtSeconds: echo.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"echoes": payload})
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	followeeID := c.Param("userId")
	created, err := h.crewService.Follow(c.Request.Context(), callerID, followeeID)
	if err != nil {
		h.respondServiceError(c, "follow", err)
		return
	}
	if created {
		_, pingErr := h.pingsService.Enqueue(c.Request.Context(), followeeID, pings.KindFollow, pings.Payload{
			ActorID:   callerID,
			ActorName: c.GetString(callerNameContextKey),
		})
		if pingErr != nil {
			h.logger.Warn("follow ping dispatch failed", zap.Error(pingErr))
		}
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	if err := h.crewService.Unfollow(c.Request.Context(), callerID, c.Param("userId")); err != nil {
		h.respondServiceError(c, "unfollow", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleCrewCount(c *gin.Context) {
	count, err := h.crewService.Count(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondServiceError(c, "crew count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"followers": count})
}

type pingPayload struct {
	PingID           string `json:"ping_id"`
	Kind             string `json:"kind"`
	SplashKind       string `json:"splash_kind,omitempty"`
	ActorID          string `json:"actor_id,omitempty"`
	ActorName        string `json:"actor_name,omitempty"`
	WaveID           string `json:"wave_id,omitempty"`
	TideName         string `json:"tide_name,omitempty"`
	Body             string `json:"body,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	Read             bool   `json:"read"`
}

func pingToPayload(ping pings.Ping) pingPayload {
	return pingPayload{
		PingID:           ping.PingID,
		Kind:             string(ping.Kind),
		SplashKind:       string(ping.SplashKind),
		ActorID:          ping.ActorID,
		ActorName:        ping.ActorName,
		WaveID:           ping.WaveID,
		TideName:         ping.TideName,
		Body:             ping.Body,
		CreatedAtSeconds: ping.CreatedAtSeconds,
		Read:             ping.Read,
	}
}

func (h *httpHandler) handleListPings(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	inbox, err := h.pingsService.ListInbox(c.Request.Context(), callerID)
	if err != nil {
		h.respondServiceError(c, "list pings", err)
		return
	}
	payload := make([]pingPayload, 0, len(inbox))
	for _, ping := range inbox {
		payload = append(payload, pingToPayload(ping))
	}
	c.JSON(http.StatusOK, gin.H{"pings": payload})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	if err := h.pingsService.MarkRead(c.Request.Context(), c.Param("pingId")); err != nil {
		h.respondServiceError(c, "mark ping read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type openSessionPayload struct {
	TideName     string `json:"tide_name"`
	HostPhotoRef string `json:"host_photo_ref"`
}

type sessionPayload struct {
	LiveID           string `json:"live_id"`
	HostID           string `json:"host_id"`
	HostName         string `json:"host_name"`
	TideName         string `json:"tide_name"`
	State            string `json:"state"`
	StartedAtSeconds int64  `json:"started_at_s"`
	EndedAtSeconds   int64  `json:"ended_at_s"`
}

func sessionToPayload(session live.Session) sessionPayload {
	return sessionPayload{
		LiveID:           session.LiveID,
		HostID:           session.HostID,
		HostName:         session.HostName,
		TideName:         session.TideName,
		State:            string(session.State),
		StartedAtSeconds: session.StartedAtSeconds,
		EndedAtSeconds:   session.EndedAtSeconds,
	}
}

func (h *httpHandler) handleOpenSession(c *gin.Context) {
	var request openSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.liveService.OpenSession(c.Request.Context(), live.OpenSessionRequest{
		HostID:       c.GetString(callerIDContextKey),
		HostName:     c.GetString(callerNameContextKey),
		HostPhotoRef: request.HostPhotoRef,
		TideName:     request.TideName,
	})
	if err != nil {
		h.respondServiceError(c, "open session", err)
		return
	}
	c.JSON(http.StatusCreated, sessionToPayload(session))
}

func (h *httpHandler) handleStartSession(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	alert, err := h.liveService.GoToLive(c.Request.Context(), callerID, c.Param("liveId"))
	if err != nil {
		h.respondServiceError(c, "start session", err)
		return
	}
	delivered := 0
	if alert != nil {
		result, broadcastErr := h.liveService.BroadcastAlert(c.Request.Context(), alert)
		if broadcastErr != nil {
			h.logger.Warn("drift alert broadcast incomplete", zap.Error(broadcastErr))
		}
		delivered = result.Delivered
	}
	c.JSON(http.StatusOK, gin.H{"status": "live", "alerts_delivered": delivered})
}

func (h *httpHandler) handleEndSession(c *gin.Context) {
	if err := h.liveService.EndSession(c.Request.Context(), c.Param("liveId")); err != nil {
		h.respondServiceError(c, "end session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.liveService.GetSession(c.Request.Context(), c.Param("liveId"))
	if err != nil {
		h.respondServiceError(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, sessionToPayload(session))
}

type createPollPayload struct {
	Question string `json:"question"`
	Options  []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"options"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	var request createPollPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	options := make([]live.PollOption, 0, len(request.Options))
	for _, option := range request.Options {
		options = append(options, live.PollOption{ID: option.ID, Label: option.Label})
	}
	poll, err := h.liveService.CreatePoll(c.Request.Context(), c.Param("liveId"), request.Question, options)
	if err != nil {
		h.respondServiceError(c, "create poll", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"poll_id": poll.PollID})
}

type castVotePayload struct {
	OptionID string `json:"option_id"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	var request castVotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.liveService.CastVote(
		c.Request.Context(),
		c.Param("liveId"),
		c.Param("pollId"),
		c.GetString(callerIDContextKey),
		request.OptionID,
	)
	if err != nil {
		h.respondServiceError(c, "cast vote", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handlePollTally(c *gin.Context) {
	tally, err := h.liveService.Tally(c.Request.Context(), c.Param("pollId"))
	if err != nil {
		h.respondServiceError(c, "poll tally", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

type createGoalPayload struct {
	Target int64  `json:"target"`
	Label  string `json:"label"`
}

func (h *httpHandler) handleCreateGoal(c *gin.Context) {
	var request createGoalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	goal, err := h.liveService.CreateGoal(c.Request.Context(), c.Param("liveId"), request.Target, request.Label)
	if err != nil {
		h.respondServiceError(c, "create goal", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal_id": goal.GoalID})
}

type advanceGoalPayload struct {
	Delta int64 `json:"delta"`
}

func (h *httpHandler) handleAdvanceGoal(c *gin.Context) {
	var request advanceGoalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.liveService.AdvanceGoal(c.Request.Context(), c.Param("liveId"), c.Param("goalId"), request.Delta)
	if err != nil {
		h.respondServiceError(c, "advance goal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) respondServiceError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, waves.ErrParentNotFound),
		errors.Is(err, live.ErrParentNotFound),
		errors.Is(err, pings.ErrPingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, live.ErrNotHost):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, live.ErrSessionNotLive):
		c.JSON(http.StatusConflict, gin.H{"error": "session_not_live"})
	case errors.Is(err, live.ErrUnknownOption),
		errors.Is(err, live.ErrInvalidDelta),
		errors.Is(err, live.ErrInvalidPoll),
		errors.Is(err, live.ErrInvalidGoal),
		errors.Is(err, crew.ErrSelfFollow),
		errors.Is(err, crew.ErrInvalidUserID),
		errors.Is(err, waves.ErrInvalidUserID),
		errors.Is(err, waves.ErrInvalidWaveID),
		errors.Is(err, pings.ErrInvalidPingKind),
		errors.Is(err, pings.ErrInvalidRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case store.KindOf(err) == store.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "retry"})
	case store.KindOf(err) == store.KindUnreachable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unreachable"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
