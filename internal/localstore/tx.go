package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/fellowship/internal/domain"
)

// Tx is the write transaction handed to commit hooks.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// ProjectionRecord links a source entity to the entity a rule projected
// from it.
type ProjectionRecord struct {
	SourceKind domain.Kind
	SourceID   string
	RuleID     string
	TargetKind domain.Kind
	TargetID   string
	Seq        int64
}

// Get reads one record inside the transaction.
func (t *Tx) Get(ctx context.Context, kind domain.Kind, id string) (domain.Entity, error) {
	return getRecord(ctx, t.tx, kind, id)
}

// Put validates and upserts a record inside the transaction. Hooks are
// not run for writes made by hooks.
func (t *Tx) Put(ctx context.Context, entity domain.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	_, _, err := t.store.upsert(ctx, t.tx, entity)
	return err
}

// ClaimProjection records a projection firing. ON CONFLICT DO NOTHING makes
// the claim idempotent: inserted is false and existing holds the original
// target when the (source, rule) pair already fired.
func (t *Tx) ClaimProjection(ctx context.Context, rec ProjectionRecord) (inserted bool, existing ProjectionRecord, err error) {
	if rec.Seq == 0 {
		rec.Seq = t.store.clock.Next()
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO projections
		(source_kind, source_id, rule_id, target_kind, target_id, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_kind, source_id, rule_id) DO NOTHING
	`,
		string(rec.SourceKind),
		rec.SourceID,
		rec.RuleID,
		string(rec.TargetKind),
		rec.TargetID,
		rec.Seq,
	)
	if err != nil {
		return false, ProjectionRecord{}, fmt.Errorf("claim projection: insert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, ProjectionRecord{}, fmt.Errorf("claim projection: rows affected: %w", err)
	}
	if n > 0 {
		return true, rec, nil
	}

	existing, err = t.projection(ctx, rec.SourceKind, rec.SourceID, rec.RuleID)
	if err != nil {
		return false, ProjectionRecord{}, err
	}
	return false, existing, nil
}

func (t *Tx) projection(ctx context.Context, kind domain.Kind, sourceID, ruleID string) (ProjectionRecord, error) {
	var rec ProjectionRecord
	var sk, tk string
	err := t.tx.QueryRowContext(ctx, `
		SELECT source_kind, source_id, rule_id, target_kind, target_id, seq
		FROM projections
		WHERE source_kind = ? AND source_id = ? AND rule_id = ?
	`, string(kind), sourceID, ruleID).Scan(&sk, &rec.SourceID, &rec.RuleID, &tk, &rec.TargetID, &rec.Seq)
	if err != nil {
		return ProjectionRecord{}, fmt.Errorf("claim projection: select existing: %w", err)
	}
	rec.SourceKind = domain.Kind(sk)
	rec.TargetKind = domain.Kind(tk)
	return rec, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryer, kind domain.Kind, id string) (domain.Entity, error) {
	var payload string
	err := q.QueryRowContext(ctx, `
		SELECT payload FROM records WHERE kind = ? AND id = ?
	`, string(kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.Error{Code: domain.CodeNotFound, Op: "get", Kind: kind, ID: id}
	}
	if err != nil {
		return nil, domain.StorageError("get", kind, err)
	}

	e, err := domain.Decode(kind, []byte(payload))
	if err != nil {
		return nil, &domain.Error{Code: domain.CodeCorruptRecord, Op: "get", Kind: kind, ID: id, Err: err}
	}
	return e, nil
}

// upsert writes entity and bumps its revision. created reports whether the
// row is new. The creation seq of an existing row is preserved so
// collection order stays stable across edits.
func (s *Store) upsert(ctx context.Context, tx *sql.Tx, entity domain.Entity) (revision int64, created bool, err error) {
	kind := entity.EntityKind()
	payload, err := json.Marshal(entity)
	if err != nil {
		return 0, false, fmt.Errorf("upsert %s: marshal: %w", kind, err)
	}

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT revision FROM records WHERE kind = ? AND id = ?
	`, string(kind), entity.EntityID()).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return 0, false, fmt.Errorf("upsert %s: read revision: %w", kind, err)
	}

	revision = current + 1
	now := s.now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	if created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (kind, id, payload, revision, seq, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(kind), entity.EntityID(), string(payload), revision, s.clock.Next(), now)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE records SET payload = ?, revision = ?, updated_at = ?
			WHERE kind = ? AND id = ?
		`, string(payload), revision, now, string(kind), entity.EntityID())
	}
	if err != nil {
		return 0, false, fmt.Errorf("upsert %s: write: %w", kind, err)
	}
	return revision, created, nil
}
