// Package domain defines notification events, their idempotency key and the
// quality score used to decide upgrades.
package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

type Audience string

const (
	AudienceCommissioner Audience = "commissioner"
	AudienceFreelancer   Audience = "freelancer"
)

type EventType string

const (
	TypeTaskApproved             EventType = "task_approved"
	TypeMilestonePaymentReceived EventType = "milestone_payment_received"
	TypeMilestonePaymentSent     EventType = "milestone_payment_sent"
	TypeInvoicePaid              EventType = "invoice_paid"
	TypeInvoicePaymentSent       EventType = "invoice_payment_sent"
	TypeInvoicePaymentFailed     EventType = "invoice_payment_failed"
	TypeProjectCompleted         EventType = "project_completed"
)

// PaymentTypes are the event types that count as a recorded payment.
var PaymentTypes = []EventType{
	TypeMilestonePaymentReceived,
	TypeMilestonePaymentSent,
	TypeInvoicePaid,
	TypeInvoicePaymentSent,
}

const (
	EntityTask    = "task"
	EntityInvoice = "invoice"
	EntityProject = "project"
)

// Well-known metadata keys.
const (
	MetaAmount           = "amount"
	MetaFreelancerName   = "freelancerName"
	MetaOrganizationName = "organizationName"
	MetaCommissionerName = "commissionerName"
	MetaProjectTitle     = "projectTitle"
	MetaTaskTitle        = "taskTitle"
	MetaInvoiceNumber    = "invoiceNumber"
	MetaFailureCode      = "failureCode"
	MetaFailureReason    = "failureReason"
	MetaAttempts         = "attempts"
	MetaEnrichmentNote   = "enrichmentNote"
	MetaSource           = "source"
)

const (
	GenericFreelancerName   = "Freelancer"
	GenericOrganizationName = "Organization"
	EnrichmentUpgraded      = "Upgraded"
	ReferenceCompletion     = "completion"
)

var (
	ErrEventNotFound = errors.New("event_not_found")
	ErrInvalidEvent  = errors.New("invalid_event")
)

// Context holds the structured reference ids of an event.
type Context struct {
	ProjectID     string `json:"projectId,omitempty"`
	TaskID        string `json:"taskId,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
}

// Event is an immutable notification record. Read and actioned flags live in EventState.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	Audience   Audience  `json:"audience"`
	ActorID    int64     `json:"actorId,omitempty"`
	TargetID   int64     `json:"targetId"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Metadata   Metadata  `json:"metadata"`
	Context    Context   `json:"context"`
}

// Reference is the last segment of the idempotency key: the invoice number,
// else the task, else the fixed completion reference.
func (e Event) Reference() string {
	switch {
	case strings.TrimSpace(e.Context.InvoiceNumber) != "":
		return e.Context.InvoiceNumber
	case strings.TrimSpace(e.Context.TaskID) != "":
		return "task-" + e.Context.TaskID
	default:
		return ReferenceCompletion
	}
}

func (e Event) DedupKey() string {
	return BuildKey(e.Type, e.Audience, e.Context.ProjectID, e.Reference())
}

func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(string(e.Type)) == "":
		return errors.Join(ErrInvalidEvent, errors.New("type is required"))
	case e.Audience != AudienceCommissioner && e.Audience != AudienceFreelancer:
		return errors.Join(ErrInvalidEvent, errors.New("audience is required"))
	case e.TargetID <= 0:
		return errors.Join(ErrInvalidEvent, errors.New("target is required"))
	}
	return nil
}

// Clone deep-copies the metadata so callers can mutate the result.
func (e Event) Clone() Event {
	out := e
	out.Metadata = e.Metadata.Clone()
	return out
}

// BuildKey derives {eventType}:{audience}:{projectId}:{reference}.
func BuildKey(t EventType, a Audience, projectID, reference string) string {
	return string(t) + ":" + string(a) + ":" + projectID + ":" + reference
}

// EventState tracks the per-recipient mutable flags of an event.
type EventState struct {
	EventID    string     `json:"eventId"`
	UserID     int64      `json:"userId"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	Actioned   bool       `json:"actioned"`
	ActionedAt *time.Time `json:"actionedAt,omitempty"`
}

// Metadata is the open display bag attached to an event.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return strings.Trim(string(raw), `"`)
	}
}

// Amount reads the amount in minor units, accepting the numeric shapes JSON decoding produces.
func (m Metadata) Amount() int64 {
	switch v := m[MetaAmount].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(math.Round(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return int64(math.Round(f))
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

// IsGenericName reports placeholder display names that must never reach a user.
func IsGenericName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "unknown", strings.ToLower(GenericFreelancerName), strings.ToLower(GenericOrganizationName):
		return true
	default:
		return false
	}
}

// Quality scores how resolved the display data is: +2 for a positive amount and
// +1 for each non-generic counterpart name.
func Quality(m Metadata) int {
	score := 0
	if m.Amount() > 0 {
		score += 2
	}
	if !IsGenericName(m.String(MetaFreelancerName)) {
		score++
	}
	if !IsGenericName(m.String(MetaOrganizationName)) {
		score++
	}
	return score
}

// IndexEntry is the small document written under the user and project indexes
// so key lookups do not have to load every event body.
type IndexEntry struct {
	EventID   string    `json:"eventId"`
	EventKey  string    `json:"eventKey"`
	Type      EventType `json:"type"`
	Audience  Audience  `json:"audience"`
	TargetID  int64     `json:"targetId"`
	DedupKey  string    `json:"dedupKey"`
	Context   Context   `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// View pairs an event with the requesting user's state.
type View struct {
	Event
	Read     bool `json:"read"`
	Actioned bool `json:"actioned"`
}
