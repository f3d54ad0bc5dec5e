package audit

import (
	"gorm.io/gorm"
)

// Entry kinds recorded by the sink.
const (
	KindSyncAttempt       = "SYNC_ATTEMPT"
	KindOrderPlacement    = "ORDER_PLACEMENT"
	KindOrderCancellation = "ORDER_CANCELLATION"
	KindAccountChange     = "ACCOUNT_CHANGE"
	KindConfigReload      = "CONFIG_RELOAD"
)

// Outcomes recorded alongside an entry.
const (
	OutcomeSuccess  = "SUCCESS"
	OutcomeFailed   = "FAILED"
	OutcomeRejected = "REJECTED"
)

// Entry is one append-only audit record. Entries are written in the
// order their events happen and never updated or deleted.
type Entry struct {
	gorm.Model `json:"-"`
	Kind       string `gorm:"index" json:"kind"`
	AccountID  string `gorm:"index" json:"account_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail"` // JSON payload describing the event
}

// EntryFilter narrows the audit read side.
type EntryFilter struct {
	Kind      string `form:"kind"`
	AccountID string `form:"account_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}
