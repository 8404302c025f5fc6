package models

import "time"

type ScanStatus string

const (
	ScanPending   ScanStatus = "PENDING"
	ScanRunning   ScanStatus = "RUNNING"
	ScanCompleted ScanStatus = "COMPLETED"
	ScanFailed    ScanStatus = "FAILED"
)

// TargetKind tags the polymorphic scan target. Every consumer switches
// exhaustively on it.
type TargetKind string

const (
	KindSeed      TargetKind = "seed"
	KindSubdomain TargetKind = "subdomain"
	KindIP        TargetKind = "ip"
	KindURL       TargetKind = "url"
)

// TargetRef identifies what a scan ran against.
type TargetRef struct {
	Kind TargetKind `gorm:"column:target_kind;size:16;index:idx_scan_target" json:"kind"`
	ID   uint       `gorm:"column:target_id;index:idx_scan_target" json:"id"`
}

// ScanRecord is the audit/state row for one invocation of one tool against
// one target.
type ScanRecord struct {
	UUID         string     `gorm:"primaryKey;type:varchar(36)" json:"uuid"`
	Target       TargetRef  `gorm:"embedded" json:"target"`
	Tool         string     `gorm:"size:64;index:idx_scan_target" json:"tool"`
	Status       ScanStatus `gorm:"size:16;index" json:"status"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	RawOutput    string     `gorm:"type:text" json:"-"`
	ItemsFound   int        `json:"items_found"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the scan reached a final state.
func (s *ScanRecord) Terminal() bool {
	return s.Status == ScanCompleted || s.Status == ScanFailed
}

// Active reports whether the scan still occupies its target+tool slot.
func (s *ScanRecord) Active() bool {
	return s.Status == ScanPending || s.Status == ScanRunning
}
