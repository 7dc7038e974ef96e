package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SetEvent is one SET request as seen by the audit journal.
type SetEvent struct {
	ID       uuid.UUID
	OID      string
	Function string
	SiteCode string
	Value    string
	OK       bool
	Reason   string
	Frames   int
	TestMode bool
	At       time.Time
}

// AuditSink records SET requests. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	RecordSet(ctx context.Context, ev SetEvent) error
}
