package storage

import (
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/google/uuid"
)

// RowTable is a saved row configuration. At most one is active.
type RowTable struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Rows      []state.RowConfig `json:"rows"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
}

type SetAuditEntry struct {
	ID        uuid.UUID `json:"id"`
	OID       string    `json:"oid"`
	Function  string    `json:"function"`
	SiteCode  string    `json:"scn"`
	Value     string    `json:"value"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Frames    int       `json:"frames"`
	TestMode  bool      `json:"test_mode"`
	CreatedAt time.Time `json:"created_at"`
}
