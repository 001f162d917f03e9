package results

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Stored results keep three decimal places and a 32-bit rank.
const (
	maxDecimalPlaces = 3
	maxRank          = math.MaxInt32
)

var (
	hundred = decimal.NewFromInt(100)

	defaultRegistrationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{2,63}$`)
)

// Validator classifies candidate records against a snapshot. It never writes
// and may be run any number of times.
type Validator struct {
	categories           map[string]bool
	allowPreRegistration bool
	idPattern            *regexp.Regexp
	validate             *validator.Validate
}

type ValidatorOption func(*Validator)

// WithCategories restricts the category field to the given values. An empty
// list accepts any category.
func WithCategories(categories []string) ValidatorOption {
	return func(v *Validator) {
		v.categories = make(map[string]bool, len(categories))
		for _, c := range categories {
			v.categories[strings.ToLower(strings.TrimSpace(c))] = true
		}
	}
}

// WithPreRegistration lets well-formed but unknown registration ids insert.
func WithPreRegistration(allow bool) ValidatorOption {
	return func(v *Validator) { v.allowPreRegistration = allow }
}

func WithRegistrationIDPattern(re *regexp.Regexp) ValidatorOption {
	return func(v *Validator) { v.idPattern = re }
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		idPattern: defaultRegistrationIDPattern,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidationResult is the dry-run output for one upload.
type ValidationResult struct {
	Competition string              `json:"competition"`
	Version     int64               `json:"version"`
	Outcomes    []ValidationOutcome `json:"outcomes"`
	Report      Report              `json:"report"`
}

func (r *ValidationResult) Conflicts() int { return r.Report.Outcomes[OutcomeConflict] }

func (r *ValidationResult) Publishable() bool { return r.Conflicts() == 0 }

// Committable returns the outcomes a publish would write.
func (r *ValidationResult) Committable() []ValidationOutcome {
	out := make([]ValidationOutcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeInsert || o.Kind == OutcomeUpdate {
			out = append(out, o)
		}
	}
	return out
}

func (r *ValidationResult) Records() []CandidateRecord {
	out := make([]CandidateRecord, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Record
	}
	return out
}

// ExcludeConflicts drops conflicting rows on the operator's behalf. The
// returned result is publishable.
func (r *ValidationResult) ExcludeConflicts() *ValidationResult {
	kept := make([]ValidationOutcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Kind != OutcomeConflict {
			kept = append(kept, o)
		}
	}
	return &ValidationResult{
		Competition: r.Competition,
		Version:     r.Version,
		Outcomes:    kept,
		Report:      buildReport(kept),
	}
}

type resolution struct {
	key      string
	warnings []Warning
}

func (v *Validator) Validate(ctx context.Context, records []CandidateRecord, snap *Snapshot) (*ValidationResult, error) {
	resolved := make([]resolution, len(records))
	byKey := make(map[string][]int, len(records))

	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		res := resolution{warnings: v.fieldWarnings(rec)}
		key, w := v.resolve(rec, snap)
		if w != nil {
			res.warnings = append(res.warnings, *w)
		}
		res.key = key
		if key != "" {
			byKey[key] = append(byKey[key], i)
		}
		resolved[i] = res
	}

	for key, idx := range byKey {
		if len(idx) < 2 {
			continue
		}
		lines := make([]string, len(idx))
		for j, i := range idx {
			lines[j] = fmt.Sprint(records[i].Line)
		}
		for _, i := range idx {
			resolved[i].warnings = append(resolved[i].warnings, Warning{
				Line:    records[i].Line,
				Kind:    WarningDuplicate,
				Message: fmt.Sprintf("registration %s appears on lines %s", key, strings.Join(lines, ", ")),
			})
		}
	}

	outcomes := make([]ValidationOutcome, len(records))
	for i, rec := range records {
		outcomes[i] = classify(rec, resolved[i], snap)
	}

	return &ValidationResult{
		Competition: snap.Competition,
		Version:     snap.Version,
		Outcomes:    outcomes,
		Report:      buildReport(outcomes),
	}, nil
}

func classify(rec CandidateRecord, res resolution, snap *Snapshot) ValidationOutcome {
	out := ValidationOutcome{Record: rec, RegistrationID: res.key, Email: rec.Email, Warnings: res.warnings}
	if reg, ok := snap.Registrations[res.key]; ok && reg.Email != "" {
		out.Email = reg.Email
	}
	if len(res.warnings) > 0 {
		out.Kind = OutcomeConflict
		return out
	}

	stored, ok := snap.Results[res.key]
	if !ok && !rec.hasResult() {
		// A row carrying only a key has nothing to write.
		out.Kind = OutcomeUnchanged
		return out
	}
	if !ok {
		after := rec.apply(Result{RegistrationID: res.key})
		out.Kind = OutcomeInsert
		out.After = &after
		return out
	}

	after := rec.apply(stored)
	if after.Equal(stored) {
		out.Kind = OutcomeUnchanged
		return out
	}
	before := stored
	out.Kind = OutcomeUpdate
	out.Before = &before
	out.After = &after
	return out
}

func (v *Validator) fieldWarnings(rec CandidateRecord) []Warning {
	var ws []Warning
	invalid := func(format string, args ...any) {
		ws = append(ws, Warning{Line: rec.Line, Kind: WarningInvalid, Message: fmt.Sprintf(format, args...)})
	}

	for _, field := range canonicalFields {
		if msg, ok := rec.FieldErrors[field]; ok {
			invalid("%s", msg)
		}
	}
	percent := func(name string, d *decimal.Decimal) {
		switch {
		case d == nil:
		case !inPercentRange(*d):
			invalid("%s %s is outside 0-100", name, d.String())
		case !d.Equal(d.Truncate(maxDecimalPlaces)):
			invalid("%s %s has more than %d decimal places", name, d.String(), maxDecimalPlaces)
		}
	}
	percent("score", rec.Score)
	percent("percentile", rec.Percentile)
	if rec.Rank != nil && (*rec.Rank <= 0 || *rec.Rank > maxRank) {
		invalid("rank %d must be a positive integer up to %d", *rec.Rank, maxRank)
	}
	if rec.Category != nil && len(v.categories) > 0 && !v.categories[*rec.Category] {
		invalid("category %q is not recognised", *rec.Category)
	}
	if rec.Email != "" {
		if err := v.validate.Var(rec.Email, "email"); err != nil {
			invalid("email %q is not a valid address", rec.Email)
		}
	}
	if rec.RegistrationID == "" && rec.Email == "" {
		ws = append(ws, Warning{Line: rec.Line, Kind: WarningMissing, Message: "row has neither registration id nor email"})
	}
	return ws
}

// resolve finds the registration a record refers to. The returned key is set
// whenever the record can be attributed to a registration, even if it also
// carries a warning, so duplicates are still detected.
func (v *Validator) resolve(rec CandidateRecord, snap *Snapshot) (string, *Warning) {
	missing := func(format string, args ...any) *Warning {
		return &Warning{Line: rec.Line, Kind: WarningMissing, Message: fmt.Sprintf(format, args...)}
	}

	var byID, byEmail Registration
	var idOK, emailOK bool
	if rec.RegistrationID != "" {
		byID, idOK = snap.RegistrationByID(rec.RegistrationID)
	}
	if rec.Email != "" {
		byEmail, emailOK = snap.RegistrationByEmail(rec.Email)
	}

	switch {
	case idOK && emailOK:
		if byID.ID != byEmail.ID {
			return byID.ID, missing("registration %s and email %s belong to different registrations", byID.ID, rec.Email)
		}
		return byID.ID, nil
	case idOK:
		if rec.Email != "" && !strings.EqualFold(byID.Email, rec.Email) {
			return byID.ID, missing("email %s is not registered", rec.Email)
		}
		return byID.ID, nil
	case rec.RegistrationID != "":
		if v.allowPreRegistration && !emailOK && v.idPattern.MatchString(rec.RegistrationID) {
			return rec.RegistrationID, nil
		}
		return rec.RegistrationID, missing("registration %s not found", rec.RegistrationID)
	case emailOK:
		return byEmail.ID, nil
	case rec.Email != "":
		return "email:" + normalizeEmail(rec.Email), missing("no registration for email %s", rec.Email)
	}
	return "", nil
}

func buildReport(outcomes []ValidationOutcome) Report {
	r := Report{
		Total: len(outcomes),
		Outcomes: map[OutcomeKind]int{
			OutcomeInsert:    0,
			OutcomeUpdate:    0,
			OutcomeUnchanged: 0,
			OutcomeConflict:  0,
		},
		Warnings: map[WarningKind]int{
			WarningMissing:   0,
			WarningInvalid:   0,
			WarningDuplicate: 0,
		},
		Details: []Warning{},
	}
	for _, o := range outcomes {
		r.Outcomes[o.Kind]++
		for _, w := range o.Warnings {
			r.Warnings[w.Kind]++
			r.Details = append(r.Details, w)
		}
	}
	return r
}

func inPercentRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}
