package localstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fellowship/internal/domain"
)

// Get returns every record of kind in creation order (seq ASC, id ASC).
//
// Get never returns nil. If the collection cannot be read, the slice is
// empty and the error is STORAGE_UNAVAILABLE. If some records cannot be
// decoded they are skipped, the remaining records are returned, and the
// error is CORRUPT_RECORD.
func (s *Store) Get(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	entities := []domain.Entity{}
	if !kind.Valid() {
		return entities, &domain.Error{Code: domain.CodeInvalidCommand, Op: "get", Kind: kind, Message: "unknown kind"}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM records
		WHERE kind = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(kind))
	if err != nil {
		return entities, domain.StorageError("get", kind, err)
	}
	defer rows.Close()

	var corrupt []string
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return []domain.Entity{}, domain.StorageError("get", kind, err)
		}
		e, err := domain.Decode(kind, []byte(payload))
		if err != nil {
			slog.Warn("skipping undecodable record", "kind", kind, "id", id, "error", err)
			corrupt = append(corrupt, id)
			continue
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return []domain.Entity{}, domain.StorageError("get", kind, err)
	}

	if len(corrupt) > 0 {
		return entities, &domain.Error{
			Code:    domain.CodeCorruptRecord,
			Op:      "get",
			Kind:    kind,
			Message: fmt.Sprintf("%d record(s) skipped: %v", len(corrupt), corrupt),
		}
	}
	return entities, nil
}

// GetByID returns one record, or NOT_FOUND.
func (s *Store) GetByID(ctx context.Context, kind domain.Kind, id string) (domain.Entity, error) {
	return getRecord(ctx, s.db, kind, id)
}

// Revision returns the current revision of a record, or 0 if absent.
func (s *Store) Revision(ctx context.Context, kind domain.Kind, id string) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM records WHERE kind = ? AND id = ?
	`, string(kind), id).Scan(&rev)
	if err != nil {
		return 0, domain.StorageError("revision", kind, err)
	}
	return rev, nil
}

// Unprojected returns the records of kind that have no projection firing
// for ruleID, in creation order. Undecodable records are skipped.
func (s *Store) Unprojected(ctx context.Context, kind domain.Kind, ruleID string) ([]domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.payload FROM records r
		WHERE r.kind = ?
		  AND NOT EXISTS (
			SELECT 1 FROM projections p
			WHERE p.source_kind = r.kind AND p.source_id = r.id AND p.rule_id = ?
		  )
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`, string(kind), ruleID)
	if err != nil {
		return nil, domain.StorageError("unprojected", kind, err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, domain.StorageError("unprojected", kind, err)
		}
		e, err := domain.Decode(kind, []byte(payload))
		if err != nil {
			slog.Warn("skipping undecodable record", "kind", kind, "id", id, "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("unprojected", kind, err)
	}
	return out, nil
}

// Projections returns the projection firings recorded for a source.
func (s *Store) Projections(ctx context.Context, sourceKind domain.Kind, sourceID string) ([]ProjectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_kind, source_id, rule_id, target_kind, target_id, seq
		FROM projections
		WHERE source_kind = ? AND source_id = ?
		ORDER BY seq ASC
	`, string(sourceKind), sourceID)
	if err != nil {
		return nil, domain.StorageError("projections", sourceKind, err)
	}
	defer rows.Close()

	out := []ProjectionRecord{}
	for rows.Next() {
		var rec ProjectionRecord
		var sk, tk string
		if err := rows.Scan(&sk, &rec.SourceID, &rec.RuleID, &tk, &rec.TargetID, &rec.Seq); err != nil {
			return nil, domain.StorageError("projections", sourceKind, err)
		}
		rec.SourceKind = domain.Kind(sk)
		rec.TargetKind = domain.Kind(tk)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("projections", sourceKind, err)
	}
	return out, nil
}
