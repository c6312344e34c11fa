package crew

// Edge is a directed follow relation. The composite key makes duplicate
// follows structurally impossible.
type Edge struct {
	FollowerID       string `gorm:"column:follower_id;primaryKey;size:190;not null"`
	FolloweeID       string `gorm:"column:followee_id;primaryKey;size:190;not null;index:idx_crew_followee"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Edge) TableName() string {
	return "crew_edges"
}

// MemberCount is the denormalized follower count for one user. It only moves
// inside the same transaction that touches the edge, so edge rows and the
// counter always agree.
type MemberCount struct {
	UserID    string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Followers int64  `gorm:"column:followers;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (MemberCount) TableName() string {
	return "crew_counts"
}
