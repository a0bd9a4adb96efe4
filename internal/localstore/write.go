package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/metrics"
)

// PutResult describes a committed write.
type PutResult struct {
	Kind     domain.Kind
	ID       string
	Revision int64

	// Created is true when the record did not exist before.
	Created bool

	// Replayed is true when the correlation id was already applied; the
	// result then describes the entity created by the first application.
	Replayed bool
}

// Put upserts entity into kind and runs commit hooks.
//
// A non-nil error with a committed write is possible: when a hook fails,
// Put returns the PutResult together with a PROJECTION_FAILED error.
func (s *Store) Put(ctx context.Context, kind domain.Kind, entity domain.Entity) (PutResult, error) {
	return s.PutOnce(ctx, kind, "", entity)
}

// PutOnce is Put keyed by a correlation id. The first call with a given
// correlationID writes entity; later calls write nothing, re-run the
// commit hooks for the entity created the first time, and report
// Replayed. An empty correlationID behaves like Put.
func (s *Store) PutOnce(ctx context.Context, kind domain.Kind, correlationID string, entity domain.Entity) (PutResult, error) {
	if entity == nil {
		return PutResult{}, &domain.Error{Code: domain.CodeInvalidCommand, Op: "put", Kind: kind, Message: "nil entity"}
	}
	if entity.EntityKind() != kind {
		return PutResult{}, &domain.Error{
			Code:    domain.CodeInvalidCommand,
			Op:      "put",
			Kind:    kind,
			ID:      entity.EntityID(),
			Message: fmt.Sprintf("entity belongs to %s", entity.EntityKind()),
		}
	}
	if entity.EntityID() == "" {
		return PutResult{}, &domain.Error{Code: domain.CodeInvalidCommand, Op: "put", Kind: kind, Message: "missing id"}
	}
	if err := entity.Validate(); err != nil {
		return PutResult{}, err
	}

	var res PutResult
	var hookErr error
	start := time.Now()
	err := s.submit(ctx, kind, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.StorageError("put", kind, err)
		}
		defer tx.Rollback()

		target := entity
		if correlationID != "" {
			prior, found, err := lookupCommand(ctx, tx, correlationID)
			if err != nil {
				return domain.StorageError("put", kind, err)
			}
			if found {
				existing, err := getRecord(ctx, tx, prior.kind, prior.entityID)
				if err != nil {
					return err
				}
				target = existing
				res = PutResult{Kind: prior.kind, ID: prior.entityID, Replayed: true}
			}
		}

		if !res.Replayed {
			rev, created, err := s.upsert(ctx, tx, entity)
			if err != nil {
				return domain.StorageError("put", kind, err)
			}
			res = PutResult{Kind: kind, ID: entity.EntityID(), Revision: rev, Created: created}

			if correlationID != "" {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO command_log (correlation_id, kind, entity_id, seq)
					VALUES (?, ?, ?, ?)
				`, correlationID, string(kind), entity.EntityID(), s.clock.Next()); err != nil {
					return domain.StorageError("put", kind, fmt.Errorf("log command: %w", err))
				}
			}
		}

		hookErr = s.runHooks(ctx, tx, res.Kind, target)

		if err := tx.Commit(); err != nil {
			hookErr = nil
			return domain.StorageError("put", kind, fmt.Errorf("commit: %w", err))
		}
		return nil
	})
	metrics.RecordLocalWrite(string(kind), time.Since(start), err)
	if err != nil {
		return PutResult{}, err
	}
	return res, hookErr
}

// Update applies fn to the current record under kind's write queue, so fn
// always sees the latest committed state. fn must return an entity with
// the same id. Commit hooks run on the updated entity.
func (s *Store) Update(ctx context.Context, kind domain.Kind, id string, fn func(domain.Entity) (domain.Entity, error)) (domain.Entity, error) {
	updated, _, err := s.UpdateRevision(ctx, kind, id, fn)
	return updated, err
}

// UpdateRevision is Update that also returns the revision the update
// committed at.
func (s *Store) UpdateRevision(ctx context.Context, kind domain.Kind, id string, fn func(domain.Entity) (domain.Entity, error)) (domain.Entity, int64, error) {
	var updated domain.Entity
	var revision int64
	var hookErr error
	start := time.Now()
	err := s.submit(ctx, kind, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.StorageError("update", kind, err)
		}
		defer tx.Rollback()

		current, err := getRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil || next.EntityID() != id || next.EntityKind() != kind {
			return &domain.Error{Code: domain.CodeInvalidCommand, Op: "update", Kind: kind, ID: id, Message: "update changed entity identity"}
		}
		if err := next.Validate(); err != nil {
			return err
		}

		rev, _, err := s.upsert(ctx, tx, next)
		if err != nil {
			return domain.StorageError("update", kind, err)
		}
		hookErr = s.runHooks(ctx, tx, kind, next)

		if err := tx.Commit(); err != nil {
			hookErr = nil
			return domain.StorageError("update", kind, fmt.Errorf("commit: %w", err))
		}
		updated, revision = next, rev
		return nil
	})
	metrics.RecordLocalWrite(string(kind), time.Since(start), err)
	if err != nil {
		return nil, 0, err
	}
	return updated, revision, hookErr
}

// Delete removes one record. Projections derived from it are left in place.
func (s *Store) Delete(ctx context.Context, kind domain.Kind, id string) error {
	start := time.Now()
	err := s.submit(ctx, kind, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id)
		if err != nil {
			return domain.StorageError("delete", kind, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return domain.StorageError("delete", kind, err)
		}
		if n == 0 {
			return &domain.Error{Code: domain.CodeNotFound, Op: "delete", Kind: kind, ID: id}
		}
		return nil
	})
	metrics.RecordLocalWrite(string(kind), time.Since(start), err)
	return err
}

// runHooks runs every commit hook under its own savepoint. The first hook
// failure is returned as PROJECTION_FAILED; later hooks still run.
func (s *Store) runHooks(ctx context.Context, tx *sql.Tx, kind domain.Kind, entity domain.Entity) error {
	hooks := s.commitHooks()
	if len(hooks) == 0 {
		return nil
	}

	t := &Tx{tx: tx, store: s}
	var first error
	for i, h := range hooks {
		sp := fmt.Sprintf("hook_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return projectionFailed(kind, entity.EntityID(), fmt.Errorf("savepoint: %w", err))
		}

		herr := h.OnEntityCommitted(ctx, t, kind, entity)
		if herr != nil {
			slog.Warn("commit hook failed; source committed without projection",
				"kind", kind, "id", entity.EntityID(), "hook", i, "error", herr)
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO "+sp); err != nil {
				return projectionFailed(kind, entity.EntityID(), errors.Join(herr, err))
			}
			if first == nil {
				first = projectionFailed(kind, entity.EntityID(), herr)
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
			return projectionFailed(kind, entity.EntityID(), fmt.Errorf("release: %w", err))
		}
	}
	return first
}

func projectionFailed(kind domain.Kind, id string, err error) error {
	if errors.Is(err, domain.ErrProjectionFailed) {
		return err
	}
	return &domain.Error{Code: domain.CodeProjectionFailed, Op: "project", Kind: kind, ID: id, Err: err}
}

type commandEntry struct {
	kind     domain.Kind
	entityID string
}

func lookupCommand(ctx context.Context, tx *sql.Tx, correlationID string) (commandEntry, bool, error) {
	var kind, id string
	err := tx.QueryRowContext(ctx, `
		SELECT kind, entity_id FROM command_log WHERE correlation_id = ?
	`, correlationID).Scan(&kind, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return commandEntry{}, false, nil
	}
	if err != nil {
		return commandEntry{}, false, fmt.Errorf("lookup command: %w", err)
	}
	return commandEntry{kind: domain.Kind(kind), entityID: id}, true, nil
}
