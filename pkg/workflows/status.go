package workflows

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is a content lifecycle state. The zero value is not a valid status.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusSentForReview      Status = "sent_for_review"
	StatusClientReviewing    Status = "client_reviewing"
	StatusRevisionsRequested Status = "revisions_requested"
	StatusApproved           Status = "approved"
	StatusPublished          Status = "published"
)

// legacyPendingReview is the older name for sent_for_review. It is accepted
// on input and never written back.
const legacyPendingReview = "pending_review"

var allStatuses = []Status{
	StatusDraft,
	StatusSentForReview,
	StatusClientReviewing,
	StatusRevisionsRequested,
	StatusApproved,
	StatusPublished,
}

// Statuses returns every lifecycle state in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a raw value into a Status, normalising the deprecated
// pending_review spelling.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == legacyPendingReview {
		return StatusSentForReview, nil
	}
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition can ever leave s.
func (s Status) IsTerminal() bool {
	return s == StatusPublished
}

func (s Status) String() string {
	return string(s)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return []byte(s), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scan implements sql.Scanner so stored values are validated on read.
func (s *Status) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		return fmt.Errorf("%w: NULL", ErrUnknownStatus)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// Role identifies which side of the agency relationship an actor is on.
type Role string

const (
	RoleProducer Role = "producer"
	RoleClient   Role = "client"
)

// ParseRole converts a raw value into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return r, nil
}

func (r Role) Valid() bool {
	return r == RoleProducer || r == RoleClient
}

func (r Role) String() string {
	return string(r)
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r *Role) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, string(r))
	}
	return string(r), nil
}

// ActionName is the verb a user clicks to move content along.
type ActionName string

const (
	ActionSubmitForReview  ActionName = "submit_for_review"
	ActionBeginReview      ActionName = "begin_review"
	ActionApprove          ActionName = "approve"
	ActionRequestRevisions ActionName = "request_revisions"
	ActionResubmit         ActionName = "resubmit"
	ActionPublish          ActionName = "publish"
)

// Variant is a display hint for rendering an action.
type Variant string

const (
	VariantPrimary Variant = "primary"
	VariantWarning Variant = "warning"
	VariantNeutral Variant = "neutral"
)
