// Package events defines the payloads published for import lifecycle changes.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types written to the outbox.
const (
	TypeImportCompleted = "import.completed"
	TypeImportDeleted   = "import.deleted"
	TypeMemberDeleted   = "member.deleted"
)

// UploadFileNameHeader names the Kafka header carrying the original file name of a snapshot upload.
const UploadFileNameHeader = "file_name"

// ActivityCount mirrors the per-type counters of an import summary.
type ActivityCount struct {
	Emails    int `json:"emails"`
	Calls     int `json:"calls"`
	Meetings  int `json:"meetings"`
	Proposals int `json:"proposals"`
}

// ImportCompleted is emitted when an import becomes the current one for its member.
type ImportCompleted struct {
	EventID       string        `json:"event_id"`
	ImportID      string        `json:"import_id"`
	MemberID      string        `json:"member_id"`
	MemberName    string        `json:"member_name"`
	Source        string        `json:"source"`
	RestoredFrom  string        `json:"restored_from,omitempty"`
	ActivityCount ActivityCount `json:"activity_count"`
	ProspectCount int           `json:"prospect_count"`
	WonCount      int           `json:"won_count"`
	WonRevenue    float64       `json:"won_revenue"`
	ExportedAt    time.Time     `json:"exported_at"`
	ImportedAt    time.Time     `json:"imported_at"`
}

// ImportDeleted is emitted when an import and its rows are removed.
type ImportDeleted struct {
	EventID    string    `json:"event_id"`
	ImportID   string    `json:"import_id"`
	MemberID   string    `json:"member_id"`
	WasCurrent bool      `json:"was_current"`
	DeletedAt  time.Time `json:"deleted_at"`
}

// MemberDeleted is emitted when a member is deactivated and its history dropped.
type MemberDeleted struct {
	EventID        string    `json:"event_id"`
	MemberID       string    `json:"member_id"`
	MemberName     string    `json:"member_name"`
	ImportsDeleted int       `json:"imports_deleted"`
	DeletedAt      time.Time `json:"deleted_at"`
}

// NewEventID returns a lexically sortable id stamped with t.
func NewEventID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
