package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidProfile indicates the claims did not contain a usable identifier.
var ErrInvalidProfile = errors.New("users: invalid profile")

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service keeps the local mirror of user display attributes fresh.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

type cachedProfile struct {
	key         string
	displayName string
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Touch upserts the profile mirrored from validated session claims and
// returns the user's current display name. It runs once per authenticated
// request, so repeated hits serve from the in-process cache until the
// display attributes change.
func (s *Service) Touch(claims auth.SessionClaims) (string, error) {
	userID := normalize(claims.UserID)
	if userID == "" {
		return "", ErrInvalidProfile
	}
	displayName := normalize(claims.UserDisplayName)
	avatarURL := normalize(claims.UserAvatarURL)

	cacheKey := displayName + "\x00" + avatarURL
	if cached, ok := s.cache.Load(userID); ok {
		entry := cached.(cachedProfile)
		if entry.key == cacheKey {
			return entry.displayName, nil
		}
	}

	var profile Profile
	err := s.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			UserID:      userID,
			DisplayName: displayName,
			AvatarURL:   avatarURL,
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&profile).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if displayName != "" && displayName != profile.DisplayName {
			updates["display_name"] = displayName
		}
		if avatarURL != "" && avatarURL != profile.AvatarURL {
			updates["avatar_url"] = avatarURL
		}
		err := s.db.Model(&Profile{}).
			Where("user_id = ?", userID).
			Updates(updates).
			Error
		if err != nil {
			return "", err
		}
		if displayName == "" {
			displayName = profile.DisplayName
		}
	}

	s.cache.Store(userID, cachedProfile{key: cacheKey, displayName: displayName})
	return displayName, nil
}

// DisplayName returns the stored display name for a user, empty when the
// profile has never been seen.
func (s *Service) DisplayName(userID string) (string, error) {
	id := normalize(userID)
	if id == "" {
		return "", ErrInvalidProfile
	}
	var profile Profile
	err := s.db.Where("user_id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return profile.DisplayName, nil
}
