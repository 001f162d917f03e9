package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleHeaders = []string{"Student ID", "E-mail", "Marks", "Percentile", "Position", "Division"}

func TestMapColumnsRequiresAKeyField(t *testing.T) {
	tests := []struct {
		name    string
		mapping FieldMapping
	}{
		{name: "empty", mapping: FieldMapping{}},
		{name: "only optional fields", mapping: FieldMapping{FieldScore: "Marks", FieldRank: "Position"}},
		{name: "blank key columns", mapping: FieldMapping{FieldRegistrationID: " ", FieldEmail: "", FieldScore: "Marks"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapColumns(sampleHeaders, tt.mapping)
			require.ErrorIs(t, err, ErrMissingRequired)

			var missing *MissingRequiredFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, []string{FieldRegistrationID, FieldEmail}, missing.Fields)
		})
	}
}

func TestMapColumnsAcceptsEitherKey(t *testing.T) {
	m, err := MapColumns(sampleHeaders, FieldMapping{FieldEmail: "e-mail", FieldScore: "MARKS"})
	require.NoError(t, err)
	assert.Equal(t, FieldMapping{FieldEmail: "E-mail", FieldScore: "Marks"}, m)

	m, err = MapColumns(sampleHeaders, FieldMapping{FieldRegistrationID: "Student ID"})
	require.NoError(t, err)
	assert.Equal(t, FieldMapping{FieldRegistrationID: "Student ID"}, m)
}

func TestMapColumnsRejectsSharedColumn(t *testing.T) {
	_, err := MapColumns(sampleHeaders, FieldMapping{
		FieldRegistrationID: "Student ID",
		FieldScore:          "Marks",
		FieldPercentile:     "marks",
	})
	require.ErrorIs(t, err, ErrDuplicateColumn)

	var dup *DuplicateColumnError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Marks", dup.Column)
	assert.Equal(t, []string{FieldScore, FieldPercentile}, dup.Fields)
}

func TestMapColumnsRejectsUnknownNames(t *testing.T) {
	_, err := MapColumns(sampleHeaders, FieldMapping{FieldRegistrationID: "Candidate"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = MapColumns(sampleHeaders, FieldMapping{FieldRegistrationID: "Student ID", "nickname": "E-mail"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestSuggestMapping(t *testing.T) {
	m := SuggestMapping(sampleHeaders)
	assert.Equal(t, FieldMapping{
		FieldRegistrationID: "Student ID",
		FieldEmail:          "E-mail",
		FieldScore:          "Marks",
		FieldPercentile:     "Percentile",
		FieldRank:           "Position",
		FieldCategory:       "Division",
	}, m)

	_, err := MapColumns(sampleHeaders, m)
	assert.NoError(t, err)
}

func TestSuggestMappingLeavesUnknownHeadersUnmapped(t *testing.T) {
	m := SuggestMapping([]string{"Registration  ID", "Notes"})
	assert.Equal(t, FieldMapping{FieldRegistrationID: "Registration  ID"}, m)
}

func TestToCandidate(t *testing.T) {
	headers := []string{"id", "email", "score", "pct", "rank", "cat"}
	m := FieldMapping{
		FieldRegistrationID: "id",
		FieldEmail:          "email",
		FieldScore:          "score",
		FieldPercentile:     "pct",
		FieldRank:           "rank",
		FieldCategory:       "cat",
	}

	t.Run("typed values", func(t *testing.T) {
		rec := ToCandidate(RawRow{Line: 4, Headers: headers, Values: []string{" R-1 ", "ana@example.org", "87.25", "93%", "#2", "Senior"}}, m)

		assert.Equal(t, 4, rec.Line)
		assert.Equal(t, "R-1", rec.RegistrationID)
		assert.Equal(t, "ana@example.org", rec.Email)
		assert.True(t, dec("87.25").Equal(*rec.Score))
		assert.True(t, dec("93").Equal(*rec.Percentile))
		assert.Equal(t, 2, *rec.Rank)
		assert.Equal(t, "senior", *rec.Category)
		assert.Empty(t, rec.FieldErrors)
	})

	t.Run("empty cells are absent", func(t *testing.T) {
		rec := ToCandidate(RawRow{Line: 2, Headers: headers, Values: []string{"R-1", "", " ", "", "", ""}}, m)
		assert.Empty(t, rec.Email)
		assert.Nil(t, rec.Score)
		assert.Nil(t, rec.Percentile)
		assert.Nil(t, rec.Rank)
		assert.Nil(t, rec.Category)
	})

	t.Run("unparsable cells become field errors", func(t *testing.T) {
		rec := ToCandidate(RawRow{Line: 2, Headers: headers, Values: []string{"R-1", "", "abc", "x%", "2.5", ""}}, m)
		assert.Nil(t, rec.Score)
		assert.Nil(t, rec.Rank)
		assert.Contains(t, rec.FieldErrors, FieldScore)
		assert.Contains(t, rec.FieldErrors, FieldPercentile)
		assert.Contains(t, rec.FieldErrors, FieldRank)
	})
}
