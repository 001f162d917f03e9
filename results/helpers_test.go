package results

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testCompetition = "spring-2026"

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

var testRoster = []Registration{
	{ID: "R-001", Email: "ana@example.org", Name: "Ana"},
	{ID: "R-002", Email: "ben@example.org", Name: "Ben"},
	{ID: "R-003", Email: "caro@example.org", Name: "Caro"},
	{ID: "R-004", Email: "dev@example.org", Name: "Dev"},
	{ID: "R-005", Email: "eli@example.org", Name: "Eli"},
}

// seededRepo returns a repository with testRoster and one stored result for
// R-003 (score 70, percentile 55).
func seededRepo(t *testing.T, opts ...MemoryOption) *MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := NewMemoryRepository(opts...)
	require.NoError(t, repo.SeedRegistrations(ctx, testCompetition, testRoster))

	snap, err := repo.Snapshot(ctx, testCompetition)
	require.NoError(t, err)
	err = repo.ApplyBatch(ctx, PublicationBatch{
		ID:          "seed",
		Competition: testCompetition,
		Kind:        BatchPublish,
		RowCount:    1,
		Publisher:   "fixture",
		RecordIDs:   []string{"R-003"},
		BaseVersion: snap.Version,
	}, []Change{{
		RegistrationID: "R-003",
		Action:         ActionInsert,
		After:          &Result{RegistrationID: "R-003", Score: dec("70"), Percentile: dec("55")},
	}})
	require.NoError(t, err)
	return repo
}

func candidates(t *testing.T, csv string) []CandidateRecord {
	t.Helper()
	rr, err := Ingest(strings.NewReader(csv), Format{})
	require.NoError(t, err)
	mapping, err := MapColumns(rr.Headers(), SuggestMapping(rr.Headers()))
	require.NoError(t, err)
	rows, err := Collect(rr)
	require.NoError(t, err)

	out := make([]CandidateRecord, len(rows))
	for i, row := range rows {
		out[i] = ToCandidate(row, mapping)
	}
	return out
}

func validateCSV(t *testing.T, v *Validator, repo Repository, csv string) *ValidationResult {
	t.Helper()
	snap, err := repo.Snapshot(context.Background(), testCompetition)
	require.NoError(t, err)
	res, err := v.Validate(context.Background(), candidates(t, csv), snap)
	require.NoError(t, err)
	return res
}

func kinds(res *ValidationResult) []OutcomeKind {
	out := make([]OutcomeKind, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.Kind
	}
	return out
}

func storedResults(t *testing.T, repo Repository) map[string]Result {
	t.Helper()
	snap, err := repo.Snapshot(context.Background(), testCompetition)
	require.NoError(t, err)
	return snap.Results
}

func requireSameResults(t *testing.T, want, got map[string]Result) {
	t.Helper()
	require.Len(t, got, len(want))
	for id, w := range want {
		g, ok := got[id]
		require.True(t, ok, "missing result for %s", id)
		require.True(t, w.Equal(g), "result for %s differs: want %+v got %+v", id, w, g)
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (f *fakeNotifier) Dispatch(_ context.Context, ns []Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ns...)
}

func (f *fakeNotifier) notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

type fakeCertificates struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeCertificates) Generate(_ context.Context, _, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
	return f.err
}

func (f *fakeCertificates) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeArchiver struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeArchiver) Archive(_ context.Context, competition, batchID, name string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, competition+"/"+batchID+"/"+name)
	return nil
}

func (f *fakeArchiver) archived() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}
