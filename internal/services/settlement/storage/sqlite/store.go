// Package sqlite provides a SQLite-backed settlement storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/missionforge/missionforge/internal/platform/storage/sqlitemigrate"
	"github.com/missionforge/missionforge/internal/services/settlement/domain/proposal"
	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	"github.com/missionforge/missionforge/internal/services/settlement/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists settlement state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite settlement store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const proposalColumns = `id, project_id, mission_id, contributor, founder,
	requested_amount, counter_amount, notes, status, network,
	escrow_open_ref, escrow_release_ref, contributor_confirmed_at,
	created_at, updated_at`

// CreateProposal inserts one proposal record.
func (s *Store) CreateProposal(ctx context.Context, p proposal.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("proposal id is required")
	}
	if !proposal.ValidStatus(p.Status) {
		return fmt.Errorf("proposal status %q is not valid", p.Status)
	}
	createdAt := p.CreatedAt.UTC()
	updatedAt := p.UpdatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO proposals (
		   id, project_id, mission_id, contributor, founder,
		   requested_amount, counter_amount, notes, status, network,
		   escrow_open_ref, escrow_release_ref, contributor_confirmed_at,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.ProjectID,
		p.MissionID,
		p.Contributor,
		p.Founder,
		p.RequestedAmount,
		p.CounterAmount,
		p.Notes,
		string(p.Status),
		p.Network,
		p.EscrowOpenRef,
		p.EscrowReleaseRef,
		nullableMillis(p.ContributorConfirmedAt),
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// GetProposal returns one proposal by ID.
func (s *Store) GetProposal(ctx context.Context, id string) (proposal.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return proposal.Proposal{}, err
	}
	if s == nil || s.sqlDB == nil {
		return proposal.Proposal{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return proposal.Proposal{}, fmt.Errorf("proposal id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`,
		id,
	)
	p, err := scanProposal(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return proposal.Proposal{}, storage.ErrNotFound
		}
		return proposal.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// ListProposalsByStatus returns up to limit proposals in any of the given
// statuses, oldest update first. The reconciliation sweep uses this to walk
// settled proposals.
func (s *Store) ListProposalsByStatus(ctx context.Context, statuses []proposal.Status, limit int) ([]proposal.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+proposalColumns+` FROM proposals
		  WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		  ORDER BY updated_at ASC, id ASC
		  LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]proposal.Proposal, 0, limit)
	for rows.Next() {
		p, scanErr := scanProposal(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan proposal: %w", scanErr)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

// UpdateProposal writes the record only while the stored status equals
// expected. Losing the race returns ErrConflict with nothing written.
func (s *Store) UpdateProposal(ctx context.Context, updated proposal.Proposal, expected proposal.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.updateProposalTx(ctx, s.sqlDB, updated, expected)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) updateProposalTx(ctx context.Context, db execer, updated proposal.Proposal, expected proposal.Status) error {
	if strings.TrimSpace(updated.ID) == "" {
		return fmt.Errorf("proposal id is required")
	}
	if !proposal.ValidStatus(updated.Status) {
		return fmt.Errorf("proposal status %q is not valid", updated.Status)
	}
	if !proposal.ValidStatus(expected) {
		return fmt.Errorf("expected status %q is not valid", expected)
	}
	updatedAt := updated.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := db.ExecContext(
		ctx,
		`UPDATE proposals SET
		   counter_amount = ?,
		   notes = ?,
		   status = ?,
		   escrow_open_ref = ?,
		   escrow_release_ref = ?,
		   contributor_confirmed_at = ?,
		   updated_at = ?
		 WHERE id = ? AND status = ?`,
		updated.CounterAmount,
		updated.Notes,
		string(updated.Status),
		updated.EscrowOpenRef,
		updated.EscrowReleaseRef,
		nullableMillis(updated.ContributorConfirmedAt),
		toMillis(updatedAt),
		updated.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		row := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM proposals WHERE id = ?`, updated.ID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			return fmt.Errorf("check proposal existence: %w", scanErr)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// CompleteProposal applies a conditional update and enqueues the reputation
// outbox event atomically, so the notification can never be lost between the
// status write and the enqueue.
func (s *Store) CompleteProposal(ctx context.Context, updated proposal.Proposal, expected proposal.Status, event storage.ReputationOutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start complete transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.updateProposalTx(ctx, tx, updated, expected); err != nil {
		return err
	}
	if err := enqueueReputationEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete transaction: %w", err)
	}
	return nil
}

type proposalScanner func(dest ...any) error

func scanProposal(scan proposalScanner) (proposal.Proposal, error) {
	var p proposal.Proposal
	var status string
	var confirmedAt sql.NullInt64
	var createdAt int64
	var updatedAt int64
	err := scan(
		&p.ID,
		&p.ProjectID,
		&p.MissionID,
		&p.Contributor,
		&p.Founder,
		&p.RequestedAmount,
		&p.CounterAmount,
		&p.Notes,
		&status,
		&p.Network,
		&p.EscrowOpenRef,
		&p.EscrowReleaseRef,
		&confirmedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return proposal.Proposal{}, err
	}
	p.Status = proposal.Status(status)
	if confirmedAt.Valid {
		p.ContributorConfirmedAt = fromMillis(confirmedAt.Int64)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func nullableMillis(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return toMillis(value)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
