package results

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// IngestXLSX streams the rows of one worksheet. The workbook is opened from
// r in full because the zip directory sits at the end of the file; rows are
// still decoded one at a time. Short rows are padded since excelize drops
// trailing empty cells.
func IngestXLSX(r io.Reader, sheet string, mode HeaderMode) (*RowReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &MalformedFileError{Reason: fmt.Sprintf("open workbook: %v", err)}
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			_ = f.Close()
			return nil, &EmptyFileError{}
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, &MalformedFileError{Reason: fmt.Sprintf("open sheet %q: %v", sheet, err)}
	}

	line := 0
	closed := false
	closeAll := func() {
		if closed {
			return
		}
		closed = true
		_ = rows.Close()
		_ = f.Close()
	}

	next := func() ([]string, int, error) {
		if !rows.Next() {
			err := rows.Error()
			closeAll()
			if err != nil {
				return nil, 0, &MalformedFileError{Line: line, Reason: err.Error()}
			}
			return nil, 0, io.EOF
		}
		line++
		cols, err := rows.Columns()
		if err != nil {
			closeAll()
			return nil, 0, &MalformedFileError{Line: line, Reason: err.Error()}
		}
		return cols, line, nil
	}

	rr, err := newRowReader(next, mode, true)
	if err != nil {
		closeAll()
		return nil, err
	}
	return rr, nil
}
