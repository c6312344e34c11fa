package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/auth"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/crew"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/live"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/store"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/users"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/waves"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const routerTestSigningSecret = "router-test-secret"

type routerHarness struct {
	handler      http.Handler
	pingsService *pings.Service
	crewService  *crew.Service
	realtime     *RealtimeDispatcher
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:drift_router_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&waves.Wave{}, &waves.Echo{},
		&crew.Edge{}, &crew.MemberCount{},
		&pings.Ping{},
		&live.Session{}, &live.Poll{}, &live.PollVote{}, &live.PollTally{}, &live.Goal{},
		&users.Profile{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	ids := store.NewUUIDProvider()
	realtime := NewRealtimeDispatcher()

	wavesService, err := waves.NewService(waves.ServiceConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create waves service: %v", err)
	}
	crewService, err := crew.NewService(crew.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create crew service: %v", err)
	}
	pingsService, err := pings.NewService(pings.ServiceConfig{Database: db, IDProvider: ids, Notifier: realtime})
	if err != nil {
		t.Fatalf("failed to create pings service: %v", err)
	}
	liveService, err := live.NewService(live.ServiceConfig{
		Database:   db,
		IDProvider: ids,
		Crew:       crewService,
		Dispatcher: pingsService,
	})
	if err != nil {
		t.Fatalf("failed to create live service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(routerTestSigningSecret),
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		WavesService:     wavesService,
		CrewService:      crewService,
		PingsService:     pingsService,
		LiveService:      liveService,
		UsersService:     usersService,
		Realtime:         realtime,
	})
	if err != nil {
		t.Fatalf("failed to create http handler: %v", err)
	}

	return &routerHarness{
		handler:      handler,
		pingsService: pingsService,
		crewService:  crewService,
		realtime:     realtime,
	}
}

func (h *routerHarness) token(t *testing.T, userID, displayName string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "drift-auth",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(routerTestSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (h *routerHarness) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}
