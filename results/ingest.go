package results

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type HeaderMode int

const (
	HeaderAuto HeaderMode = iota
	HeaderPresent
	HeaderAbsent
)

func ParseHeaderMode(s string) (HeaderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return HeaderAuto, nil
	case "present", "yes", "true":
		return HeaderPresent, nil
	case "absent", "none", "no", "false":
		return HeaderAbsent, nil
	}
	return HeaderAuto, fmt.Errorf("unknown header mode %q", s)
}

// Format describes how an uploaded file is encoded. A zero Delimiter is
// sniffed from the first line.
type Format struct {
	Delimiter rune
	Encoding  string
	Header    HeaderMode
	Sheet     string
}

const sniffWindow = 64 << 10

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// RowReader streams RawRows out of a tabular source. It holds at most one
// record ahead of the caller.
type RowReader struct {
	headers []string
	next    func() ([]string, int, error)
	padding bool

	pending     []string
	pendingLine int
	rows        int
}

func (r *RowReader) Headers() []string { return r.headers }

// Rows returns the number of rows handed out so far.
func (r *RowReader) Rows() int { return r.rows }

// Next returns the next data row, or io.EOF once the source is exhausted.
func (r *RowReader) Next() (RawRow, error) {
	var (
		rec  []string
		line int
	)
	if r.pending != nil {
		rec, line = r.pending, r.pendingLine
		r.pending = nil
	} else {
		var err error
		rec, line, err = r.nextRecord()
		if err != nil {
			return RawRow{}, err
		}
	}

	if len(rec) < len(r.headers) && r.padding {
		rec = append(rec, make([]string, len(r.headers)-len(rec))...)
	}
	if len(rec) != len(r.headers) {
		return RawRow{}, &HeaderMismatchError{Line: line, Expected: len(r.headers), Got: len(rec)}
	}
	for _, v := range rec {
		if !utf8.ValidString(v) {
			return RawRow{}, &MalformedFileError{Line: line, Reason: "invalid UTF-8 sequence"}
		}
	}

	r.rows++
	return RawRow{Line: line, Headers: r.headers, Values: rec}, nil
}

// nextRecord skips blank lines only. A line holding nothing but delimiters is
// a record and is returned.
func (r *RowReader) nextRecord() ([]string, int, error) {
	for {
		rec, line, err := r.next()
		if err != nil {
			return nil, 0, err
		}
		if !blankLine(rec) {
			return rec, line, nil
		}
	}
}

// nextNonBlank also skips records whose cells are all empty. It is used to
// find the first record of a file.
func (r *RowReader) nextNonBlank() ([]string, int, error) {
	for {
		rec, line, err := r.next()
		if err != nil {
			return nil, 0, err
		}
		if !blankRecord(rec) {
			return rec, line, nil
		}
	}
}

// Collect drains a reader. Meant for tests and small uploads.
func Collect(r *RowReader) ([]RawRow, error) {
	var out []RawRow
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}

// Ingest opens a delimited text stream.
func Ingest(src io.Reader, f Format) (*RowReader, error) {
	decoded, err := decodeReader(src, f.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(decoded, sniffWindow)
	if bom, _ := br.Peek(3); bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	delim := f.Delimiter
	if delim == 0 {
		head, _ := br.Peek(sniffWindow)
		delim = sniffDelimiter(head)
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	next := func() ([]string, int, error) {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, 0, io.EOF
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, 0, &MalformedFileError{Line: perr.StartLine, Reason: perr.Err.Error()}
			}
			return nil, 0, &MalformedFileError{Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		return rec, line, nil
	}

	return newRowReader(next, f.Header, false)
}

// IngestFile picks the reader by file extension.
func IngestFile(name string, src io.Reader, f Format) (*RowReader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return IngestXLSX(src, f.Sheet, f.Header)
	default:
		return Ingest(src, f)
	}
}

func newRowReader(next func() ([]string, int, error), mode HeaderMode, padding bool) (*RowReader, error) {
	r := &RowReader{next: next, padding: padding}

	first, line, err := r.nextNonBlank()
	if errors.Is(err, io.EOF) {
		return nil, &EmptyFileError{}
	}
	if err != nil {
		return nil, err
	}

	if mode == HeaderAuto {
		mode = HeaderPresent
		if allNumeric(first) {
			mode = HeaderAbsent
		}
	}

	if mode == HeaderAbsent {
		r.headers = make([]string, len(first))
		for i := range first {
			r.headers[i] = "column_" + strconv.Itoa(i+1)
		}
		r.pending, r.pendingLine = first, line
		return r, nil
	}

	headers, err := normalizeHeaders(first, line)
	if err != nil {
		return nil, err
	}
	r.headers = headers

	// Peek one record so an upload with a header and no data fails up front.
	rec, recLine, err := r.nextRecord()
	if errors.Is(err, io.EOF) {
		return nil, &EmptyFileError{}
	}
	if err != nil {
		return nil, err
	}
	r.pending, r.pendingLine = rec, recLine
	return r, nil
}

func normalizeHeaders(rec []string, line int) ([]string, error) {
	headers := make([]string, len(rec))
	seen := make(map[string]bool, len(rec))
	for i, h := range rec {
		if !utf8.ValidString(h) {
			return nil, &MalformedFileError{Line: line, Reason: "invalid UTF-8 in header"}
		}
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, &HeaderMismatchError{Line: line, Reason: fmt.Sprintf("column %d has an empty header", i+1)}
		}
		key := strings.ToLower(h)
		if seen[key] {
			return nil, &HeaderMismatchError{Line: line, Reason: fmt.Sprintf("header %q appears twice", h)}
		}
		seen[key] = true
		headers[i] = h
	}
	return headers, nil
}

func decodeReader(src io.Reader, name string) (io.Reader, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return src, nil
	case "utf-16", "utf16", "utf-16le":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "utf-16be":
		enc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, &MalformedFileError{Reason: fmt.Sprintf("unsupported encoding %q", name)}
	}
	return transform.NewReader(src, enc.NewDecoder()), nil
}

// sniffDelimiter counts candidate separators outside quotes on the first line.
func sniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	counts := make(map[rune]int, len(delimiterCandidates))
	inQuotes := false
	for _, r := range string(head) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, c := range delimiterCandidates {
			if r == c {
				counts[c]++
			}
		}
	}
	best, bestCount := ',', 0
	for _, c := range delimiterCandidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

func blankLine(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "")
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func allNumeric(rec []string) bool {
	for _, v := range rec {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return false
		}
	}
	return true
}
