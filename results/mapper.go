package results

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var headerAliases = map[string][]string{
	FieldRegistrationID: {"registration_id", "registration id", "reg_id", "reg id", "registration", "registration number", "candidate id", "student id"},
	FieldEmail:          {"participant_email", "email", "e-mail", "email address", "participant email", "student email"},
	FieldScore:          {"score", "marks", "total score", "points", "result"},
	FieldPercentile:     {"percentile", "pct", "percentile rank"},
	FieldRank:           {"rank", "position", "overall rank", "place"},
	FieldCategory:       {"category", "division", "level", "group"},
}

// MapColumns checks a user supplied mapping against the detected headers and
// returns it with every column spelled exactly as in the file.
func MapColumns(headers []string, m FieldMapping) (FieldMapping, error) {
	byLower := make(map[string]string, len(headers))
	for _, h := range headers {
		byLower[strings.ToLower(strings.TrimSpace(h))] = h
	}

	out := make(FieldMapping, len(m))
	for field, column := range m {
		if !isCanonical(field) {
			return nil, &UnknownColumnError{Field: field}
		}
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		header, ok := byLower[strings.ToLower(column)]
		if !ok {
			return nil, &UnknownColumnError{Field: field, Column: column}
		}
		out[field] = header
	}

	owners := make(map[string][]string, len(out))
	for _, field := range canonicalFields {
		if column, ok := out[field]; ok {
			owners[column] = append(owners[column], field)
		}
	}
	for _, field := range canonicalFields {
		column, ok := out[field]
		if !ok {
			continue
		}
		if fields := owners[column]; len(fields) > 1 {
			return nil, &DuplicateColumnError{Column: column, Fields: fields}
		}
	}

	if out[FieldRegistrationID] == "" && out[FieldEmail] == "" {
		return nil, &MissingRequiredFieldError{Fields: []string{FieldRegistrationID, FieldEmail}}
	}
	return out, nil
}

// SuggestMapping guesses a mapping from common header spellings. The result
// still has to go through MapColumns.
func SuggestMapping(headers []string) FieldMapping {
	out := FieldMapping{}
	taken := map[string]bool{}
	for _, field := range canonicalFields {
		for _, alias := range headerAliases[field] {
			found := ""
			for _, h := range headers {
				if taken[h] {
					continue
				}
				if normalizeHeader(h) == alias {
					found = h
					break
				}
			}
			if found != "" {
				out[field] = found
				taken[found] = true
				break
			}
		}
	}
	return out
}

// ToCandidate types one row. Cells that fail to parse are kept as field
// errors so the validator can report them.
func ToCandidate(row RawRow, m FieldMapping) CandidateRecord {
	rec := CandidateRecord{Line: row.Line}
	cell := func(field string) (string, bool) {
		column, ok := m[field]
		if !ok {
			return "", false
		}
		v, _ := row.Get(column)
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	fail := func(field, msg string) {
		if rec.FieldErrors == nil {
			rec.FieldErrors = map[string]string{}
		}
		rec.FieldErrors[field] = msg
	}

	if v, ok := cell(FieldRegistrationID); ok {
		rec.RegistrationID = v
	}
	if v, ok := cell(FieldEmail); ok {
		rec.Email = v
	}
	if v, ok := cell(FieldScore); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			fail(FieldScore, "score "+strconv.Quote(v)+" is not a number")
		} else {
			rec.Score = &d
		}
	}
	if v, ok := cell(FieldPercentile); ok {
		d, err := decimal.NewFromString(strings.TrimSuffix(v, "%"))
		if err != nil {
			fail(FieldPercentile, "percentile "+strconv.Quote(v)+" is not a number")
		} else {
			rec.Percentile = &d
		}
	}
	if v, ok := cell(FieldRank); ok {
		n, err := strconv.Atoi(strings.TrimPrefix(v, "#"))
		if err != nil {
			fail(FieldRank, "rank "+strconv.Quote(v)+" is not an integer")
		} else {
			rec.Rank = &n
		}
	}
	if v, ok := cell(FieldCategory); ok {
		c := strings.ToLower(v)
		rec.Category = &c
	}
	return rec
}

func isCanonical(field string) bool {
	for _, f := range canonicalFields {
		if f == field {
			return true
		}
	}
	return false
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), " ")
}
