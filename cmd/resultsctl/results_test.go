package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholars-backend/results"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileFlagsLoadSuggestsMapping(t *testing.T) {
	path := writeFile(t, "scores.csv", "Registration ID;Email;Score\nR-001;ana@example.org;88.5\nR-002;;x\n")
	f := fileFlags{path: path, competition: "spring-2026", header: "auto"}

	data, records, err := f.load()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	require.Len(t, records, 2)

	assert.Equal(t, "R-001", records[0].RegistrationID)
	assert.Equal(t, "88.5", records[0].Score.String())
	assert.Equal(t, 3, records[1].Line)
	assert.Contains(t, records[1].FieldErrors, results.FieldScore)
}

func TestFileFlagsLoadExplicitMapping(t *testing.T) {
	path := writeFile(t, "scores.csv", "cand,mark\nR-001,70\n")
	f := fileFlags{
		path:    path,
		header:  "present",
		mapping: map[string]string{results.FieldRegistrationID: "cand", results.FieldScore: "mark"},
	}

	_, records, err := f.load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "70", records[0].Score.String())
}

func TestFileFlagsLoadRejectsUnmappableFile(t *testing.T) {
	path := writeFile(t, "scores.csv", "a,b\n1,2\n")
	f := fileFlags{path: path, header: "present"}

	_, _, err := f.load()
	var missing *results.MissingRequiredFieldError
	assert.ErrorAs(t, err, &missing)
}

func TestFileFlagsFormat(t *testing.T) {
	f := fileFlags{delimiter: "tab", header: "absent", encoding: "latin1"}
	format, err := f.format()
	require.NoError(t, err)
	assert.Equal(t, '\t', format.Delimiter)
	assert.Equal(t, results.HeaderAbsent, format.Header)

	_, err = (&fileFlags{delimiter: ";;"}).format()
	assert.Error(t, err)
	_, err = (&fileFlags{header: "sometimes"}).format()
	assert.Error(t, err)
}

func TestReadRoster(t *testing.T) {
	path := writeFile(t, "roster.csv", "ID,Email,Name\nR-001,ana@example.org,Ana\nR-002,ben@example.org,Ben\n")

	regs, err := readRoster(path)
	require.NoError(t, err)
	assert.Equal(t, []results.Registration{
		{ID: "R-001", Email: "ana@example.org", Name: "Ana"},
		{ID: "R-002", Email: "ben@example.org", Name: "Ben"},
	}, regs)

	_, err = readRoster(writeFile(t, "bad.csv", "id,email\n,ana@example.org\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestPrintHistory(t *testing.T) {
	created := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, []results.PublicationBatch{
		{ID: "b1", Kind: results.BatchPublish, RowCount: 3, Publisher: "ops", CreatedAt: created},
		{ID: "b2", Kind: results.BatchReversal, Reverses: "b1", RowCount: 3, Publisher: "ops", CreatedAt: created},
	}))

	out := buf.String()
	assert.Contains(t, out, "BATCH")
	assert.Contains(t, out, "2026-05-01 09:30:00")
	assert.Regexp(t, `b2\s+reversal\s+b1\s+3`, out)
}
