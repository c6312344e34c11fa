package live

import "encoding/json"

// SessionState enumerates the live-session lifecycle. Ended is terminal.
type SessionState string

const (
	// StateNotLive is the registered-but-not-broadcasting state.
	StateNotLive SessionState = "not_live"
	// StateLive accepts poll votes, goal progress, and emits drift alerts.
	StateLive SessionState = "live"
	// StateEnded is terminal; no further mutations are accepted.
	StateEnded SessionState = "ended"
)

// Session is one live-broadcast ("tide") context owned by a host.
type Session struct {
	LiveID           string       `gorm:"column:live_id;primaryKey;size:190;not null"`
	HostID           string       `gorm:"column:host_id;size:190;not null;index:idx_sessions_host"`
	HostName         string       `gorm:"column:host_name;size:320;not null;default:''"`
	HostPhotoRef     string       `gorm:"column:host_photo_ref;size:512;not null;default:''"`
	TideName         string       `gorm:"column:tide_name;size:190;not null;default:''"`
	State            SessionState `gorm:"column:state;size:16;not null;default:'not_live'"`
	StartedAtSeconds int64        `gorm:"column:started_at_s;not null;default:0"`
	EndedAtSeconds   int64        `gorm:"column:ended_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "live_sessions"
}

// PollOption is one selectable answer in a poll.
type PollOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Poll holds a question and its ordered options for one live session.
type Poll struct {
	PollID           string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	LiveID           string `gorm:"column:live_id;size:190;not null;index:idx_polls_live"`
	Question         string `gorm:"column:question;type:text;not null"`
	OptionsJSON      string `gorm:"column:options_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Poll) TableName() string {
	return "live_polls"
}

// Options decodes the ordered option list. A malformed column decodes to nil,
// which rejects every vote rather than corrupting the tally.
func (p Poll) Options() []PollOption {
	if p.OptionsJSON == "" {
		return nil
	}
	var options []PollOption
	if err := json.Unmarshal([]byte(p.OptionsJSON), &options); err != nil {
		return nil
	}
	return options
}

// HasOption reports whether optionID is among the poll's options.
func (p Poll) HasOption(optionID string) bool {
	for _, option := range p.Options() {
		if option.ID == optionID {
			return true
		}
	}
	return false
}

// PollVote records one user's current choice. The composite key enforces
// at-most-one-vote-per-user-per-poll.
type PollVote struct {
	PollID           string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	OptionID         string `gorm:"column:option_id;size:190;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PollVote) TableName() string {
	return "live_poll_votes"
}

// PollTally is the per-option vote count, adjusted in the same transaction as
// the vote row so the sum of tallies never drifts from the vote rows.
type PollTally struct {
	PollID   string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	OptionID string `gorm:"column:option_id;primaryKey;size:190;not null"`
	Votes    int64  `gorm:"column:votes;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (PollTally) TableName() string {
	return "live_poll_tallies"
}

// Goal is a numeric progress target for one live session. Current only moves
// by atomic increments, never by client-supplied absolute values.
type Goal struct {
	GoalID  string `gorm:"column:goal_id;primaryKey;size:190;not null"`
	LiveID  string `gorm:"column:live_id;size:190;not null;index:idx_goals_live"`
	Label   string `gorm:"column:label;size:320;not null;default:''"`
	Target  int64  `gorm:"column:target;not null"`
	Current int64  `gorm:"column:current;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Goal) TableName() string {
	return "live_goals"
}

// ReportedCurrent clamps the displayed progress at the target. The stored
// value keeps accumulating past the target so overshoot is never lost.
func (g Goal) ReportedCurrent() int64 {
	if g.Current > g.Target {
		return g.Target
	}
	return g.Current
}

// DriftAlert signals that a host's session transitioned to live. It has no
// persistent state of its own; it exists to drive the follower fan-out.
type DriftAlert struct {
	HostID       string
	LiveID       string
	HostName     string
	HostPhotoRef string
	TideName     string
}
