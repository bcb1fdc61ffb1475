package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// Type names a notification template.
type Type string

const (
	TypeWelcome             Type = "welcome"
	TypePendingApproval     Type = "pending_approval"
	TypeEditorApproved      Type = "editor_approved"
	TypeAdminApproved       Type = "admin_approved"
	TypeRejected            Type = "rejected"
	TypeExpiryWarning30     Type = "expiry_warning_30"
	TypeExpiryWarning7      Type = "expiry_warning_7"
	TypeExpiryWarning1      Type = "expiry_warning_1"
	TypeExpiryWarning0      Type = "expiry_warning_0"
	TypeExpired             Type = "expired"
	TypeEditorAutoDowngrade Type = "editor_auto_downgrade"
	TypeDailySummary        Type = "daily_summary"
)

// Event is published after a committed transition or by the sweep.
type Event struct {
	Type         Type            `json:"type"`
	TargetID     string          `json:"target_id"`
	RequestID    string          `json:"request_id,omitempty"`
	RequesterID  string          `json:"requester_id,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Level        authority.Level `json:"level,omitempty"`
	ApproverRole authority.Role  `json:"approver_role,omitempty"`
	Days         int             `json:"days,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// ApprovalType picks the template announcing that level became active.
func ApprovalType(level authority.Level) Type {
	switch level {
	case authority.LevelViewer:
		return TypeWelcome
	case authority.LevelAdministrator:
		return TypeAdminApproved
	default:
		return TypeEditorApproved
	}
}

const expiryWarningPrefix = "expiry_warning_"

// ExpiryWarning returns the warning type for a day offset.
func ExpiryWarning(days int) Type {
	return Type(fmt.Sprintf("%s%d", expiryWarningPrefix, days))
}

// IsExpiryWarning reports whether t is an expiry warning of any offset.
func (t Type) IsExpiryWarning() bool {
	return strings.HasPrefix(string(t), expiryWarningPrefix)
}
