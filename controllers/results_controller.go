package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"scholars-backend/metrics"
	"scholars-backend/middleware"
	"scholars-backend/results"
)

type ResultsController struct {
	repo      results.Repository
	validator *results.Validator
	publisher *results.Publisher
	uploads   *UploadStore
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewResultsController(repo results.Repository, v *results.Validator, p *results.Publisher, uploads *UploadStore, logger *zap.Logger) *ResultsController {
	return &ResultsController{
		repo:      repo,
		validator: v,
		publisher: p,
		uploads:   uploads,
		validate:  validator.New(),
		logger:    logger.Named("results"),
	}
}

type MappingRequest struct {
	Mapping results.FieldMapping `json:"mapping" validate:"required"`
}

type PublishRequest struct {
	ExcludeConflicts bool `json:"excludeConflicts"`
}

type RegistrationInput struct {
	ID    string `json:"id" validate:"required,max=64"`
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name" validate:"max=200"`
}

type SeedRegistrationsRequest struct {
	Registrations []RegistrationInput `json:"registrations" validate:"required,min=1,dive"`
}

type UploadView struct {
	ID               string               `json:"uploadId"`
	Competition      string               `json:"competition"`
	FileName         string               `json:"fileName"`
	Headers          []string             `json:"headers"`
	Rows             int                  `json:"rows"`
	SuggestedMapping results.FieldMapping `json:"suggestedMapping"`
	Mapping          results.FieldMapping `json:"mapping,omitempty"`
	Wizard           results.Wizard       `json:"wizard"`
	Report           *results.Report      `json:"report,omitempty"`
}

func viewOf(s *UploadSession) UploadView {
	v := UploadView{
		ID:               s.ID,
		Competition:      s.Competition,
		FileName:         s.FileName,
		Headers:          s.Headers,
		Rows:             s.RowCount,
		SuggestedMapping: s.Suggested,
		Mapping:          s.Mapping,
		Wizard:           s.Wizard,
	}
	if s.Validation != nil {
		v.Report = &s.Validation.Report
	}
	return v
}

// CreateUpload ingests a multipart "file" and opens a wizard session for it.
func (rc *ResultsController) CreateUpload(c *fiber.Ctx) error {
	competition := c.Params("competition")

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	format, err := formatFromForm(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "could not read upload"})
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "could not read upload"})
	}

	headers, rows, err := scan(fh.Filename, data, format)
	if err != nil {
		return writeError(c, err)
	}

	sess := rc.uploads.Create(competition, fh.Filename, data, format)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Headers = headers
	sess.RowCount = rows
	sess.Suggested = results.SuggestMapping(headers)
	if err := sess.transition(results.Event{Kind: results.EventUpload}); err != nil {
		return writeError(c, err)
	}

	rc.logger.Info("upload ingested",
		zap.String("competition", competition),
		zap.String("upload", sess.ID),
		zap.String("file", fh.Filename),
		zap.Int("rows", rows),
	)
	return c.Status(fiber.StatusCreated).JSON(viewOf(sess))
}

func (rc *ResultsController) GetUpload(c *fiber.Ctx) error {
	sess, ok := rc.uploads.Get(c.Params("competition"), c.Params("upload"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload not found"})
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return c.JSON(viewOf(sess))
}

func (rc *ResultsController) PutMapping(c *fiber.Ctx) error {
	sess, ok := rc.uploads.Get(c.Params("competition"), c.Params("upload"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload not found"})
	}

	var req MappingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if err := rc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	mapping, err := results.MapColumns(sess.Headers, req.Mapping)
	if err != nil {
		return writeError(c, err)
	}
	if err := sess.transition(results.Event{Kind: results.EventMap}); err != nil {
		return writeError(c, err)
	}
	sess.Mapping = mapping
	sess.Validation = nil
	return c.JSON(viewOf(sess))
}

// Validate runs a dry run of the mapped upload against current state.
func (rc *ResultsController) Validate(c *fiber.Ctx) error {
	competition := c.Params("competition")
	sess, ok := rc.uploads.Get(competition, c.Params("upload"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload not found"})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Mapping == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "upload has no column mapping"})
	}
	if err := sess.transition(results.Event{Kind: results.EventValidate}); err != nil {
		return writeError(c, err)
	}

	ctx := c.UserContext()
	records, err := candidatesOf(sess)
	if err != nil {
		return writeError(c, err)
	}
	snap, err := rc.repo.Snapshot(ctx, competition)
	if err != nil {
		return writeError(c, err)
	}
	res, err := rc.validator.Validate(ctx, records, snap)
	if err != nil {
		return writeError(c, err)
	}
	sess.Validation = res

	metrics.RecordValidation()
	for kind, n := range res.Report.Outcomes {
		metrics.RecordOutcome(string(kind), n)
	}

	return c.JSON(fiber.Map{
		"uploadId":    sess.ID,
		"version":     res.Version,
		"publishable": res.Publishable(),
		"report":      res.Report,
		"outcomes":    res.Outcomes,
		"wizard":      sess.Wizard,
	})
}

func (rc *ResultsController) Publish(c *fiber.Ctx) error {
	competition := c.Params("competition")
	sess, ok := rc.uploads.Get(competition, c.Params("upload"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload not found"})
	}

	var req PublishRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Validation == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "upload has not been validated"})
	}
	result := sess.Validation
	if req.ExcludeConflicts {
		result = result.ExcludeConflicts()
	}
	// Rejected before the transition so the operator can fix the upload and
	// validate again.
	if !result.Publishable() {
		return writeError(c, &results.ConflictsPresentError{Count: result.Conflicts()})
	}
	if len(result.Committable()) == 0 {
		return writeError(c, results.ErrNothingToPublish)
	}
	if err := sess.transition(results.Event{Kind: results.EventStartPublish}); err != nil {
		return writeError(c, err)
	}

	batch, err := rc.publisher.Publish(c.UserContext(), results.PublishRequest{
		Competition: competition,
		Publisher:   actor(c),
		Result:      result,
		Upload:      &results.Upload{Name: sess.FileName, Data: sess.Data},
	})
	if err != nil {
		_ = sess.transition(results.Event{Kind: results.EventFail, Reason: err.Error()})
		return writeError(c, err)
	}
	_ = sess.transition(results.Event{Kind: results.EventPublished, BatchID: batch.ID})
	// The publisher keeps its own reference for archiving.
	sess.Data = nil

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"batch": batch, "wizard": sess.Wizard})
}

func (rc *ResultsController) Rollback(c *fiber.Ctx) error {
	batch, err := rc.publisher.RollbackLatest(c.UserContext(), c.Params("competition"), actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"batch": batch})
}

func (rc *ResultsController) History(c *fiber.Ctx) error {
	history, err := rc.publisher.History(c.UserContext(), c.Params("competition"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"batches": history})
}

// SeedRegistrations loads or updates the roster results are validated against.
func (rc *ResultsController) SeedRegistrations(c *fiber.Ctx) error {
	var req SeedRegistrationsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if err := rc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	regs := make([]results.Registration, len(req.Registrations))
	for i, r := range req.Registrations {
		regs[i] = results.Registration{ID: strings.TrimSpace(r.ID), Email: strings.TrimSpace(r.Email), Name: r.Name}
	}
	if err := rc.repo.SeedRegistrations(c.UserContext(), c.Params("competition"), regs); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"registrations": len(regs)})
}

func actor(c *fiber.Ctx) string {
	if email, ok := c.Locals(middleware.LocalEmail).(string); ok && email != "" {
		return email
	}
	if id, ok := c.Locals(middleware.LocalUserID).(string); ok {
		return id
	}
	return "unknown"
}

func formatFromForm(c *fiber.Ctx) (results.Format, error) {
	var f results.Format
	switch d := c.FormValue("delimiter"); d {
	case "":
	case "tab", `\t`:
		f.Delimiter = '\t'
	default:
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || r == '"' || r == '\n' || r == '\r' || r == utf8.RuneError {
			return f, fmt.Errorf("invalid delimiter %q", d)
		}
		f.Delimiter = r
	}
	mode, err := results.ParseHeaderMode(c.FormValue("header"))
	if err != nil {
		return f, err
	}
	f.Header = mode
	f.Encoding = c.FormValue("encoding")
	f.Sheet = c.FormValue("sheet")
	return f, nil
}

// scan streams the whole file once to check it parses and count its rows.
func scan(name string, data []byte, f results.Format) ([]string, int, error) {
	rr, err := results.IngestFile(name, bytes.NewReader(data), f)
	if err != nil {
		return nil, 0, err
	}
	for {
		if _, err := rr.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return rr.Headers(), rr.Rows(), nil
			}
			return nil, 0, err
		}
	}
}

func candidatesOf(sess *UploadSession) ([]results.CandidateRecord, error) {
	rr, err := results.IngestFile(sess.FileName, bytes.NewReader(sess.Data), sess.Format)
	if err != nil {
		return nil, err
	}
	records := make([]results.CandidateRecord, 0, sess.RowCount)
	for {
		row, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, results.ToCandidate(row, sess.Mapping))
	}
}
