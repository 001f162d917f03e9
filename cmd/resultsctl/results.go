package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"scholars-backend/results"
)

type fileFlags struct {
	path        string
	competition string
	mapping     map[string]string
	delimiter   string
	encoding    string
	header      string
	sheet       string
}

func (f *fileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "file", "", "CSV or XLSX results file")
	cmd.Flags().StringVar(&f.competition, "competition", "", "Competition id")
	cmd.Flags().StringToStringVar(&f.mapping, "map", nil, "Field to column mapping, e.g. score=Total (defaults to a suggestion from the headers)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "Field delimiter, sniffed when empty")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "Text encoding: utf-8, latin1, windows-1252, utf-16")
	cmd.Flags().StringVar(&f.header, "header", "auto", "Header row: auto, present or absent")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Worksheet name for XLSX files")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("competition")
}

func (f *fileFlags) format() (results.Format, error) {
	var out results.Format
	switch f.delimiter {
	case "":
	case "tab", `\t`:
		out.Delimiter = '\t'
	default:
		r, size := utf8.DecodeRuneInString(f.delimiter)
		if size != len(f.delimiter) || r == utf8.RuneError {
			return out, fmt.Errorf("--delimiter must be a single character")
		}
		out.Delimiter = r
	}
	mode, err := results.ParseHeaderMode(f.header)
	if err != nil {
		return out, err
	}
	out.Header = mode
	out.Encoding = f.encoding
	out.Sheet = f.sheet
	return out, nil
}

// load reads the file and turns it into candidate records with either the
// given or the suggested mapping.
func (f *fileFlags) load() ([]byte, []results.CandidateRecord, error) {
	format, err := f.format()
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	rr, err := results.IngestFile(f.path, bytes.NewReader(data), format)
	if err != nil {
		return nil, nil, err
	}

	requested := results.FieldMapping(f.mapping)
	if len(requested) == 0 {
		requested = results.SuggestMapping(rr.Headers())
	}
	mapping, err := results.MapColumns(rr.Headers(), requested)
	if err != nil {
		return nil, nil, err
	}

	var records []results.CandidateRecord
	for {
		row, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return data, records, nil
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, results.ToCandidate(row, mapping))
	}
}

var validateFlags fileFlags

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Dry-run a results file and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		_, res, err := dryRun(cmd, e, &validateFlags)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res.Report)
	},
}

var (
	publishFlags     fileFlags
	excludeConflicts bool
	publisherName    string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Validate a results file and commit it as one batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		data, res, err := dryRun(cmd, e, &publishFlags)
		if err != nil {
			return err
		}
		if excludeConflicts {
			res = res.ExcludeConflicts()
		}
		batch, err := e.svc.Publisher.Publish(cmd.Context(), results.PublishRequest{
			Competition: publishFlags.competition,
			Publisher:   publisherName,
			Result:      res,
			Upload:      &results.Upload{Name: filepath.Base(publishFlags.path), Data: data},
		})
		if err != nil {
			var conflicts *results.ConflictsPresentError
			if errors.As(err, &conflicts) {
				_ = printJSON(cmd.ErrOrStderr(), res.Report)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published batch %s with %d rows\n", batch.ID, batch.RowCount)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <competition>",
	Short: "Reverse the latest publish batch of a competition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		batch, err := e.svc.Publisher.RollbackLatest(cmd.Context(), args[0], publisherName)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Batch %s reversed by %s (%d rows)\n", batch.Reverses, batch.ID, batch.RowCount)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <competition>",
	Short: "List publication batches, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		batches, err := e.svc.Publisher.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), batches)
	},
}

func dryRun(cmd *cobra.Command, e *env, f *fileFlags) ([]byte, *results.ValidationResult, error) {
	data, records, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	snap, err := e.svc.Repo.Snapshot(cmd.Context(), f.competition)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.svc.Validator.Validate(cmd.Context(), records, snap)
	if err != nil {
		return nil, nil, err
	}
	return data, res, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHistory(w io.Writer, batches []results.PublicationBatch) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tKIND\tREVERSES\tROWS\tPUBLISHER\tCREATED")
	for _, b := range batches {
		reverses := b.Reverses
		if reverses == "" {
			reverses = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", b.ID, b.Kind, reverses, b.RowCount, b.Publisher, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func init() {
	validateFlags.register(validateCmd)

	publishFlags.register(publishCmd)
	publishCmd.Flags().BoolVar(&excludeConflicts, "exclude-conflicts", false, "Drop conflicting rows instead of refusing to publish")

	for _, cmd := range []*cobra.Command{publishCmd, rollbackCmd} {
		cmd.Flags().StringVar(&publisherName, "publisher", defaultPublisher(), "Name recorded on the batch")
	}
}

func defaultPublisher() string {
	if u := os.Getenv("USER"); u != "" {
		return u + " (resultsctl)"
	}
	return "resultsctl"
}
