package results

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical target fields a source column can be mapped to.
const (
	FieldRegistrationID = "registration_id"
	FieldEmail          = "participant_email"
	FieldScore          = "score"
	FieldPercentile     = "percentile"
	FieldRank           = "rank"
	FieldCategory       = "category"
)

var canonicalFields = []string{
	FieldRegistrationID,
	FieldEmail,
	FieldScore,
	FieldPercentile,
	FieldRank,
	FieldCategory,
}

// RawRow is one data line of an uploaded file. Headers are shared between
// all rows of the same reader and must not be modified.
type RawRow struct {
	Line    int
	Headers []string
	Values  []string
}

func (r RawRow) Get(column string) (string, bool) {
	for i, h := range r.Headers {
		if h == column {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return "", true
		}
	}
	return "", false
}

// FieldMapping binds canonical field names to source column names.
type FieldMapping map[string]string

type Registration struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Result is the stored leaderboard entry of one registration. Nil fields were
// never published.
type Result struct {
	RegistrationID string           `json:"registrationId"`
	Score          *decimal.Decimal `json:"score,omitempty"`
	Percentile     *decimal.Decimal `json:"percentile,omitempty"`
	Rank           *int             `json:"rank,omitempty"`
	Category       *string          `json:"category,omitempty"`
}

func (r Result) Equal(o Result) bool {
	return r.RegistrationID == o.RegistrationID &&
		decimalEqual(r.Score, o.Score) &&
		decimalEqual(r.Percentile, o.Percentile) &&
		intEqual(r.Rank, o.Rank) &&
		stringEqual(r.Category, o.Category)
}

// CandidateRecord is a mapped, typed row awaiting validation.
type CandidateRecord struct {
	Line           int              `json:"line"`
	RegistrationID string           `json:"registrationId,omitempty"`
	Email          string           `json:"email,omitempty"`
	Score          *decimal.Decimal `json:"score,omitempty"`
	Percentile     *decimal.Decimal `json:"percentile,omitempty"`
	Rank           *int             `json:"rank,omitempty"`
	Category       *string          `json:"category,omitempty"`

	// FieldErrors holds cells that could not be typed, keyed by canonical field.
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

func (c CandidateRecord) hasResult() bool {
	return c.Score != nil || c.Percentile != nil || c.Rank != nil || c.Category != nil
}

// apply overlays the mapped fields of the record onto a stored result.
func (c CandidateRecord) apply(base Result) Result {
	out := base
	if c.Score != nil {
		out.Score = c.Score
	}
	if c.Percentile != nil {
		out.Percentile = c.Percentile
	}
	if c.Rank != nil {
		out.Rank = c.Rank
	}
	if c.Category != nil {
		out.Category = c.Category
	}
	return out
}

type OutcomeKind string

const (
	OutcomeInsert    OutcomeKind = "insert"
	OutcomeUpdate    OutcomeKind = "update"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeConflict  OutcomeKind = "conflict"
)

type WarningKind string

const (
	WarningMissing   WarningKind = "missing"
	WarningInvalid   WarningKind = "invalid"
	WarningDuplicate WarningKind = "duplicate"
)

type Warning struct {
	Line    int         `json:"line"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

type ValidationOutcome struct {
	Record         CandidateRecord `json:"record"`
	Kind           OutcomeKind     `json:"kind"`
	RegistrationID string          `json:"registrationId,omitempty"`
	Email          string          `json:"email,omitempty"`
	Warnings       []Warning       `json:"warnings,omitempty"`
	Before         *Result         `json:"before,omitempty"`
	After          *Result         `json:"after,omitempty"`
}

// Report aggregates a validation pass. Every count is derived from outcomes.
type Report struct {
	Total    int                 `json:"total"`
	Outcomes map[OutcomeKind]int `json:"outcomes"`
	Warnings map[WarningKind]int `json:"warnings"`
	Details  []Warning           `json:"details"`
}

type BatchKind string

const (
	BatchPublish  BatchKind = "publish"
	BatchReversal BatchKind = "reversal"
)

// PublicationBatch is an immutable history entry.
type PublicationBatch struct {
	ID          string    `json:"id"`
	Competition string    `json:"competition"`
	Kind        BatchKind `json:"kind"`
	Reverses    string    `json:"reverses,omitempty"`
	RowCount    int       `json:"rowCount"`
	CreatedAt   time.Time `json:"createdAt"`
	Publisher   string    `json:"publisher"`
	RecordIDs   []string  `json:"recordIds"`
	BaseVersion int64     `json:"baseVersion"`
}

type ChangeAction string

const (
	ActionInsert ChangeAction = "insert"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// Change is one committed row of a batch with enough state to invert it.
type Change struct {
	RegistrationID string       `json:"registrationId"`
	Action         ChangeAction `json:"action"`
	Before         *Result      `json:"before,omitempty"`
	After          *Result      `json:"after,omitempty"`
}

func (c Change) inverse() Change {
	switch c.Action {
	case ActionInsert:
		return Change{RegistrationID: c.RegistrationID, Action: ActionDelete, Before: c.After}
	case ActionDelete:
		return Change{RegistrationID: c.RegistrationID, Action: ActionInsert, After: c.Before}
	default:
		return Change{RegistrationID: c.RegistrationID, Action: ActionUpdate, Before: c.After, After: c.Before}
	}
}

// Snapshot is a read-only copy of one competition's persisted state.
type Snapshot struct {
	Competition   string
	Version       int64
	Registrations map[string]Registration
	Results       map[string]Result
	Reversed      map[string]bool

	byEmail map[string]string
}

func NewSnapshot(competition string, version int64, regs []Registration, stored []Result, reversed []string) *Snapshot {
	s := &Snapshot{
		Competition:   competition,
		Version:       version,
		Registrations: make(map[string]Registration, len(regs)),
		Results:       make(map[string]Result, len(stored)),
		Reversed:      make(map[string]bool, len(reversed)),
		byEmail:       make(map[string]string, len(regs)),
	}
	for _, r := range regs {
		s.Registrations[r.ID] = r
		if r.Email != "" {
			s.byEmail[normalizeEmail(r.Email)] = r.ID
		}
	}
	for _, r := range stored {
		s.Results[r.RegistrationID] = r
	}
	for _, id := range reversed {
		s.Reversed[id] = true
	}
	return s
}

func (s *Snapshot) RegistrationByID(id string) (Registration, bool) {
	r, ok := s.Registrations[id]
	return r, ok
}

func (s *Snapshot) RegistrationByEmail(email string) (Registration, bool) {
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Registration{}, false
	}
	return s.Registrations[id], true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decimalEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
