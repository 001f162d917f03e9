package results

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Snapshot(ctx context.Context, competition string) (*Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, classifyPQ(competition, "begin snapshot transaction", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM competitions WHERE id = $1`, competition).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classifyPQ(competition, "load competition version", err)
	}

	regs, err := loadRegistrations(ctx, tx, competition)
	if err != nil {
		return nil, classifyPQ(competition, "load registrations", err)
	}
	stored, err := loadResults(ctx, tx, competition)
	if err != nil {
		return nil, classifyPQ(competition, "load results", err)
	}
	reversed, err := loadReversed(ctx, tx, competition)
	if err != nil {
		return nil, classifyPQ(competition, "load reversed batches", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyPQ(competition, "commit snapshot transaction", err)
	}
	return NewSnapshot(competition, version, regs, stored, reversed), nil
}

func loadRegistrations(ctx context.Context, tx *sql.Tx, competition string) ([]Registration, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, email, name
		FROM registrations
		WHERE competition = $1
	`, competition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.ID, &reg.Email, &reg.Name); err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func loadResults(ctx context.Context, tx *sql.Tx, competition string) ([]Result, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT registration_id, score, percentile, rank, category
		FROM results
		WHERE competition = $1
	`, competition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stored []Result
	for rows.Next() {
		var (
			res        Result
			score, pct decimal.NullDecimal
			rank       sql.NullInt64
			category   sql.NullString
		)
		if err := rows.Scan(&res.RegistrationID, &score, &pct, &rank, &category); err != nil {
			return nil, err
		}
		if score.Valid {
			res.Score = &score.Decimal
		}
		if pct.Valid {
			res.Percentile = &pct.Decimal
		}
		if rank.Valid {
			n := int(rank.Int64)
			res.Rank = &n
		}
		if category.Valid {
			res.Category = &category.String
		}
		stored = append(stored, res)
	}
	return stored, rows.Err()
}

func loadReversed(ctx context.Context, tx *sql.Tx, competition string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT reverses
		FROM publication_batches
		WHERE competition = $1 AND reverses IS NOT NULL
	`, competition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyBatch runs in one serializable transaction. The competition row is
// locked first so concurrent writers queue on it and see the bumped version.
func (r *PostgresRepository) ApplyBatch(ctx context.Context, batch PublicationBatch, changes []Change) error {
	competition := batch.Competition
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classifyPQ(competition, "begin publish transaction", err)
	}
	defer tx.Rollback()

	version, err := lockCompetition(ctx, tx, competition)
	if err != nil {
		return classifyPQ(competition, "lock competition", err)
	}
	if version != batch.BaseVersion {
		return &TransactionConflictError{
			Competition: competition,
			Err:         fmt.Errorf("base version %d, current %d", batch.BaseVersion, version),
		}
	}

	if batch.Kind == BatchReversal {
		var reversed bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM publication_batches WHERE reverses = $1)
		`, batch.Reverses).Scan(&reversed); err != nil {
			return classifyPQ(competition, "check reversal", err)
		}
		if reversed {
			return &AlreadyRolledBackError{BatchID: batch.Reverses}
		}
	}

	if err := applyChanges(ctx, tx, competition, changes); err != nil {
		return classifyPQ(competition, "apply changes", err)
	}

	var reverses sql.NullString
	if batch.Reverses != "" {
		reverses = sql.NullString{String: batch.Reverses, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO publication_batches (id, competition, kind, reverses, row_count, created_at, publisher, record_ids, base_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, batch.ID, competition, string(batch.Kind), reverses, batch.RowCount, batch.CreatedAt, batch.Publisher, pq.Array(batch.RecordIDs), batch.BaseVersion); err != nil {
		return classifyPQ(competition, "insert publication batch", err)
	}

	if err := insertChanges(ctx, tx, batch.ID, changes); err != nil {
		return classifyPQ(competition, "record batch changes", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE competitions SET version = version + 1, updated_at = NOW() WHERE id = $1
	`, competition); err != nil {
		return classifyPQ(competition, "bump competition version", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyPQ(competition, "commit publish transaction", err)
	}
	return nil
}

func lockCompetition(ctx context.Context, tx *sql.Tx, competition string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO competitions (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, competition); err != nil {
		return 0, err
	}
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM competitions WHERE id = $1 FOR UPDATE`, competition).Scan(&version)
	return version, err
}

func applyChanges(ctx context.Context, tx *sql.Tx, competition string, changes []Change) error {
	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO results (competition, registration_id, score, percentile, rank, category, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (competition, registration_id)
		DO UPDATE SET score = EXCLUDED.score, percentile = EXCLUDED.percentile,
			rank = EXCLUDED.rank, category = EXCLUDED.category, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare result upsert: %w", err)
	}
	defer upsert.Close()

	remove, err := tx.PrepareContext(ctx, `
		DELETE FROM results WHERE competition = $1 AND registration_id = $2
	`)
	if err != nil {
		return fmt.Errorf("prepare result delete: %w", err)
	}
	defer remove.Close()

	for _, ch := range changes {
		switch ch.Action {
		case ActionInsert, ActionUpdate:
			if ch.After == nil {
				return fmt.Errorf("change for %s has no target value", ch.RegistrationID)
			}
			a := ch.After
			if _, err := upsert.ExecContext(ctx, competition, ch.RegistrationID,
				nullDecimal(a.Score), nullDecimal(a.Percentile), nullInt(a.Rank), nullString(a.Category)); err != nil {
				return fmt.Errorf("upsert result registration_id=%s: %w", ch.RegistrationID, err)
			}
		case ActionDelete:
			if _, err := remove.ExecContext(ctx, competition, ch.RegistrationID); err != nil {
				return fmt.Errorf("delete result registration_id=%s: %w", ch.RegistrationID, err)
			}
		default:
			return fmt.Errorf("unknown change action %q", ch.Action)
		}
	}
	return nil
}

func insertChanges(ctx context.Context, tx *sql.Tx, batchID string, changes []Change) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_changes (batch_id, position, registration_id, action, before, after)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
	`)
	if err != nil {
		return fmt.Errorf("prepare change insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range changes {
		before, err := resultJSON(ch.Before)
		if err != nil {
			return err
		}
		after, err := resultJSON(ch.After)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, batchID, i, ch.RegistrationID, string(ch.Action), before, after); err != nil {
			return fmt.Errorf("insert change registration_id=%s: %w", ch.RegistrationID, err)
		}
	}
	return nil
}

func (r *PostgresRepository) History(ctx context.Context, competition string) ([]PublicationBatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, competition, kind, reverses, row_count, created_at, publisher, record_ids, base_version
		FROM publication_batches
		WHERE competition = $1
		ORDER BY seq
	`, competition)
	if err != nil {
		return nil, classifyPQ(competition, "load history", err)
	}
	defer rows.Close()

	batches := []PublicationBatch{}
	for rows.Next() {
		var (
			b        PublicationBatch
			kind     string
			reverses sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Competition, &kind, &reverses, &b.RowCount, &b.CreatedAt, &b.Publisher, pq.Array(&b.RecordIDs), &b.BaseVersion); err != nil {
			return nil, classifyPQ(competition, "scan history", err)
		}
		b.Kind = BatchKind(kind)
		b.Reverses = reverses.String
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(competition, "load history", err)
	}
	return batches, nil
}

func (r *PostgresRepository) Changes(ctx context.Context, batchID string) ([]Change, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT registration_id, action, before, after
		FROM batch_changes
		WHERE batch_id = $1
		ORDER BY position
	`, batchID)
	if err != nil {
		return nil, classifyPQ("", "load batch changes", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			ch            Change
			action        string
			before, after []byte
		)
		if err := rows.Scan(&ch.RegistrationID, &action, &before, &after); err != nil {
			return nil, classifyPQ("", "scan batch change", err)
		}
		ch.Action = ChangeAction(action)
		if ch.Before, err = parseResultJSON(before); err != nil {
			return nil, err
		}
		if ch.After, err = parseResultJSON(after); err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ("", "load batch changes", err)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	return changes, nil
}

func (r *PostgresRepository) SeedRegistrations(ctx context.Context, competition string, regs []Registration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPQ(competition, "begin registration transaction", err)
	}
	defer tx.Rollback()

	if _, err := lockCompetition(ctx, tx, competition); err != nil {
		return classifyPQ(competition, "lock competition", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO registrations (competition, id, email, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (competition, id)
		DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
	`)
	if err != nil {
		return classifyPQ(competition, "prepare registration upsert", err)
	}
	defer stmt.Close()

	for _, reg := range regs {
		if _, err := stmt.ExecContext(ctx, competition, reg.ID, reg.Email, reg.Name); err != nil {
			return classifyPQ(competition, fmt.Sprintf("upsert registration id=%s", reg.ID), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE competitions SET version = version + 1, updated_at = NOW() WHERE id = $1
	`, competition); err != nil {
		return classifyPQ(competition, "bump competition version", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyPQ(competition, "commit registration transaction", err)
	}
	return nil
}

// classifyPQ maps driver failures onto the publish error taxonomy. Errors that
// are already typed pass through.
func classifyPQ(competition, op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001" || pqErr.Code == "40P01":
			return &TransactionConflictError{Competition: competition, Err: fmt.Errorf("%s: %w", op, err)}
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			return &StorageUnavailableError{Err: fmt.Errorf("%s: %w", op, err)}
		case pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "reverses"):
			return &AlreadyRolledBackError{BatchID: conflictingKey(pqErr.Detail)}
		}
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return &StorageUnavailableError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conflictingKey extracts the value from a unique violation detail such as
// "Key (reverses)=(b-1) already exists.".
func conflictingKey(detail string) string {
	_, rest, ok := strings.Cut(detail, ")=(")
	if !ok {
		return detail
	}
	if i := strings.LastIndex(rest, ")"); i >= 0 {
		return rest[:i]
	}
	return rest
}

func resultJSON(r *Result) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result %s: %w", r.RegistrationID, err)
	}
	return string(b), nil
}

func parseResultJSON(b []byte) (*Result, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode stored change: %w", err)
	}
	return &r, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ Repository = (*PostgresRepository)(nil)
