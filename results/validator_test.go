package results

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateThreeRowExample(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, `registration_id,score
R-001,80
R-002,150
R-004,65
`)

	assert.Equal(t, []OutcomeKind{OutcomeInsert, OutcomeConflict, OutcomeInsert}, kinds(res))
	assert.Equal(t, 1, res.Report.Warnings[WarningInvalid])
	assert.Equal(t, 0, res.Report.Warnings[WarningMissing])
	assert.Equal(t, 0, res.Report.Warnings[WarningDuplicate])
	assert.Equal(t, 2, res.Report.Outcomes[OutcomeInsert])
	assert.Equal(t, 1, res.Report.Outcomes[OutcomeConflict])
	assert.Equal(t, 3, res.Report.Total)
	assert.False(t, res.Publishable())

	require.Len(t, res.Report.Details, 1)
	assert.Equal(t, 3, res.Report.Details[0].Line)

	p := NewPublisher(repo, NewValidator())
	_, err := p.Publish(context.Background(), PublishRequest{Competition: testCompetition, Publisher: "ops", Result: res})
	assert.ErrorIs(t, err, ErrConflictsPresent)
}

func TestValidateScoreRange(t *testing.T) {
	tests := []struct {
		score string
		want  OutcomeKind
	}{
		{score: "-1", want: OutcomeConflict},
		{score: "-0.001", want: OutcomeConflict},
		{score: "100.01", want: OutcomeConflict},
		{score: "150", want: OutcomeConflict},
		{score: "abc", want: OutcomeConflict},
		{score: "0", want: OutcomeInsert},
		{score: "100", want: OutcomeInsert},
		{score: "57.5", want: OutcomeInsert},
		{score: "57.125", want: OutcomeInsert},
		{score: "57.5000", want: OutcomeInsert},
		{score: "99.9996", want: OutcomeConflict},
	}
	repo := seededRepo(t)
	for _, tt := range tests {
		t.Run(tt.score, func(t *testing.T) {
			res := validateCSV(t, NewValidator(), repo, "registration_id,score\nR-001,"+tt.score+"\n")
			require.Len(t, res.Outcomes, 1)
			assert.Equal(t, tt.want, res.Outcomes[0].Kind)
			if tt.want == OutcomeConflict {
				assert.Equal(t, 1, res.Report.Warnings[WarningInvalid])
				assert.Nil(t, res.Outcomes[0].After)
			}
		})
	}
}

func TestValidateOtherFieldRules(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want WarningKind
	}{
		{name: "percentile", csv: "registration_id,percentile\nR-001,101\n", want: WarningInvalid},
		{name: "zero rank", csv: "registration_id,rank\nR-001,0\n", want: WarningInvalid},
		{name: "rank beyond storage", csv: "registration_id,rank\nR-001,2147483648\n", want: WarningInvalid},
		{name: "percentile precision", csv: "registration_id,percentile\nR-001,12.34567\n", want: WarningInvalid},
		{name: "category", csv: "registration_id,category\nR-001,platinum\n", want: WarningInvalid},
		{name: "bad email", csv: "registration_id,email\nR-001,not-an-email\n", want: WarningInvalid},
		{name: "unknown id", csv: "registration_id,score\nR-999,50\n", want: WarningMissing},
		{name: "unknown email", csv: "email,score\nzed@example.org,50\n", want: WarningMissing},
		{name: "id and email disagree", csv: "registration_id,email,score\nR-001,ben@example.org,50\n", want: WarningMissing},
		{name: "id with unregistered email", csv: "registration_id,email,score\nR-001,zed@example.org,50\n", want: WarningMissing},
		{name: "no key", csv: "registration_id,email,score\n,,50\n", want: WarningMissing},
	}
	repo := seededRepo(t)
	v := NewValidator(WithCategories([]string{"Junior", "Senior"}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validateCSV(t, v, repo, tt.csv)
			require.Len(t, res.Outcomes, 1)
			assert.Equal(t, OutcomeConflict, res.Outcomes[0].Kind)
			assert.Equal(t, 1, res.Report.Warnings[tt.want])
		})
	}
}

func TestValidateDuplicatesFlagBothRows(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, `registration_id,email,score
R-001,,80
R-002,,60
,ANA@example.org,81
`)

	assert.Equal(t, []OutcomeKind{OutcomeConflict, OutcomeInsert, OutcomeConflict}, kinds(res))
	assert.Equal(t, 2, res.Report.Warnings[WarningDuplicate])
	for _, i := range []int{0, 2} {
		require.Len(t, res.Outcomes[i].Warnings, 1)
		assert.Equal(t, WarningDuplicate, res.Outcomes[i].Warnings[0].Kind)
		assert.Equal(t, "R-001", res.Outcomes[i].RegistrationID)
	}
}

func TestValidateUpdateAndUnchanged(t *testing.T) {
	repo := seededRepo(t)

	res := validateCSV(t, NewValidator(), repo, "registration_id,score\nR-003,70.00\n")
	assert.Equal(t, []OutcomeKind{OutcomeUnchanged}, kinds(res))

	res = validateCSV(t, NewValidator(), repo, "email,score,rank\ncaro@example.org,75,4\n")
	require.Equal(t, []OutcomeKind{OutcomeUpdate}, kinds(res))
	out := res.Outcomes[0]
	assert.Equal(t, "R-003", out.RegistrationID)
	assert.True(t, dec("70").Equal(*out.Before.Score))
	assert.True(t, dec("75").Equal(*out.After.Score))
	assert.True(t, dec("55").Equal(*out.After.Percentile), "unmapped fields keep their stored value")
	assert.Equal(t, 4, *out.After.Rank)
}

func TestValidateTakesEmailFromRoster(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, "registration_id,score\nR-002,44\n")
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "ben@example.org", res.Outcomes[0].Email)
}

func TestValidatePreRegistration(t *testing.T) {
	repo := seededRepo(t)
	csv := `registration_id,email,score
R-900,,50
!,,50
R-901,ben@example.org,50
`

	res := validateCSV(t, NewValidator(), repo, csv)
	assert.Equal(t, []OutcomeKind{OutcomeConflict, OutcomeConflict, OutcomeConflict}, kinds(res))

	v := NewValidator(WithPreRegistration(true))
	res = validateCSV(t, v, repo, csv)
	assert.Equal(t, []OutcomeKind{OutcomeInsert, OutcomeConflict, OutcomeConflict}, kinds(res))
	assert.Equal(t, 2, res.Report.Warnings[WarningMissing])

	strict := NewValidator(WithPreRegistration(true), WithRegistrationIDPattern(regexp.MustCompile(`^P-\d+$`)))
	res = validateCSV(t, strict, repo, "registration_id,score\nR-900,50\nP-12,50\n")
	assert.Equal(t, []OutcomeKind{OutcomeConflict, OutcomeInsert}, kinds(res))
}

func TestValidateIsIdempotent(t *testing.T) {
	repo := seededRepo(t)
	csv := `registration_id,email,score,percentile,rank,category
R-001,,80,91,1,senior
R-002,,150,,,
R-003,,71,,,
R-003,,72,,,
R-999,,10,,,
`
	v := NewValidator()
	snap, err := repo.Snapshot(context.Background(), testCompetition)
	require.NoError(t, err)
	records := candidates(t, csv)

	first, err := v.Validate(context.Background(), records, snap)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), records, snap)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, storedResults(t, repo), snap.Results)
}

func TestValidateReportCountsMatchOutcomes(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, `registration_id,score
R-001,80
R-002,81
R-003,70
R-004,x
R-999,1
`)

	total := 0
	for _, n := range res.Report.Outcomes {
		total += n
	}
	assert.Equal(t, res.Report.Total, total)
	assert.Equal(t, 2, res.Report.Outcomes[OutcomeInsert])
	assert.Equal(t, 1, res.Report.Outcomes[OutcomeUnchanged])
	assert.Equal(t, 2, res.Report.Outcomes[OutcomeConflict])
	assert.Equal(t, 0, res.Report.Outcomes[OutcomeUpdate])
}

func TestExcludeConflicts(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, "registration_id,score\nR-001,80\nR-002,150\n")
	require.False(t, res.Publishable())

	kept := res.ExcludeConflicts()
	assert.True(t, kept.Publishable())
	assert.Equal(t, []OutcomeKind{OutcomeInsert}, kinds(kept))
	assert.Equal(t, 1, kept.Report.Total)
	assert.Equal(t, res.Version, kept.Version)
	assert.Len(t, res.Outcomes, 2, "original result is not modified")
}

func TestValidateKeyOnlyRowHasNothingToWrite(t *testing.T) {
	repo := seededRepo(t)
	res := validateCSV(t, NewValidator(), repo, "registration_id,email\nR-001,ana@example.org\nR-003,caro@example.org\n")

	assert.Equal(t, []OutcomeKind{OutcomeUnchanged, OutcomeUnchanged}, kinds(res))
	assert.Empty(t, res.Committable())

	_, err := NewPublisher(repo, NewValidator()).Publish(context.Background(), PublishRequest{Competition: testCompetition, Publisher: "ops", Result: res})
	assert.ErrorIs(t, err, ErrNothingToPublish)
}

func TestValidateHonoursCancellation(t *testing.T) {
	repo := seededRepo(t)
	snap, err := repo.Snapshot(context.Background(), testCompetition)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewValidator().Validate(ctx, candidates(t, "registration_id\nR-001\n"), snap)
	assert.ErrorIs(t, err, context.Canceled)
}
