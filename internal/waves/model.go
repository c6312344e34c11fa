package waves

import (
	"errors"
	"fmt"
	"strings"
)

// MuxStatus enumerates media muxing states for a published wave.
type MuxStatus string

const (
	// MuxStatusPending means the media is still being processed.
	MuxStatusPending MuxStatus = "pending"
	// MuxStatusReady means the media is playable.
	MuxStatusReady MuxStatus = "ready"
	// MuxStatusFailed means processing failed.
	MuxStatusFailed MuxStatus = "failed"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidWaveID indicates that a wave identifier is empty or exceeds storage bounds.
	ErrInvalidWaveID = errors.New("waves: invalid wave id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("waves: invalid user id")
	// ErrInvalidMuxStatus indicates an unrecognized muxing status value.
	ErrInvalidMuxStatus = errors.New("waves: invalid mux status")
)

// WaveID represents a validated wave identifier.
type WaveID string

// NewWaveID validates raw input and returns a WaveID.
func NewWaveID(rawInput string) (WaveID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWaveID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWaveID, maxIdentifierLength)
	}
	return WaveID(trimmed), nil
}

// String returns the underlying string identifier.
func (id WaveID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// EchoID is the store-assigned identifier of a created echo. The zero value
// means no echo was created.
type EchoID string

// String returns the underlying string identifier.
func (id EchoID) String() string {
	return string(id)
}

// ParseMuxStatus validates a raw muxing status value.
func ParseMuxStatus(value string) (MuxStatus, error) {
	switch MuxStatus(strings.ToLower(strings.TrimSpace(value))) {
	case MuxStatusPending:
		return MuxStatusPending, nil
	case MuxStatusReady:
		return MuxStatusReady, nil
	case MuxStatusFailed:
		return MuxStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMuxStatus, value)
	}
}

// Wave models a published media item with its aggregate interaction counters.
// CountsJSON holds the counter map; it is only read and written inside the
// echo transaction so the stored value always matches the echo rows.
type Wave struct {
	WaveID           string    `gorm:"column:wave_id;primaryKey;size:190;not null"`
	OwnerID          string    `gorm:"column:owner_id;size:190;not null;index:idx_waves_owner"`
	MediaRef         string    `gorm:"column:media_ref;size:512;not null;default:''"`
	MuxStatus        MuxStatus `gorm:"column:mux_status;size:16;not null;default:'pending'"`
	Caption          string    `gorm:"column:caption;type:text;not null;default:''"`
	CountsJSON       string    `gorm:"column:counts_json;type:text;not null;default:'{}'"`
	UpdatedAtSeconds int64     `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Wave) TableName() string {
	return "waves"
}

// Echo models a comment attached to a wave. Immutable after creation.
type Echo struct {
	EchoID           string `gorm:"column:echo_id;primaryKey;size:190;not null"`
	WaveID           string `gorm:"column:wave_id;size:190;not null;index:idx_echoes_wave_time,priority:1"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_echoes_wave_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Echo) TableName() string {
	return "echoes"
}
