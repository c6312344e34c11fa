package pings

// Ping is one notification in a recipient's inbox. Only the read flag ever
// changes after creation.
type Ping struct {
	PingID           string     `gorm:"column:ping_id;primaryKey;size:190;not null"`
	RecipientID      string     `gorm:"column:recipient_id;size:190;not null;index:idx_pings_recipient_time,priority:1"`
	Kind             Kind       `gorm:"column:kind;size:32;not null"`
	SplashKind       SplashKind `gorm:"column:splash_kind;size:32;not null;default:''"`
	ActorID          string     `gorm:"column:actor_id;size:190;not null;default:''"`
	ActorName        string     `gorm:"column:actor_name;size:320;not null;default:''"`
	WaveID           string     `gorm:"column:wave_id;size:190;not null;default:''"`
	TideName         string     `gorm:"column:tide_name;size:190;not null;default:''"`
	Body             string     `gorm:"column:body;type:text;not null;default:''"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null;index:idx_pings_recipient_time,priority:2"`
	Read             bool       `gorm:"column:read;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Ping) TableName() string {
	return "pings"
}

// Payload carries the optional attributes of a ping.
type Payload struct {
	ActorID    string
	ActorName  string
	WaveID     string
	TideName   string
	Body       string
	SplashKind SplashKind
}
