package projection

import (
	"context"
	"log/slog"

	"github.com/roach88/fellowship/internal/domain"
)

// Source is the part of the local store Reconcile needs.
type Source interface {
	Unprojected(ctx context.Context, kind domain.Kind, ruleID string) ([]domain.Entity, error)
	Update(ctx context.Context, kind domain.Kind, id string, fn func(domain.Entity) (domain.Entity, error)) (domain.Entity, error)
}

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Checked  int      `json:"checked"`
	Repaired int      `json:"repaired"`
	Failed   []string `json:"failed"`
}

// Reconcile re-fires every rule for sources that have no recorded firing,
// such as records written before the Engine was installed or writes whose
// projection failed. Each repair rewrites the source unchanged through the
// serialized write path so the hooks run again in its transaction.
//
// A failure on one source does not stop the pass; its id is listed in
// Failed and the first error is returned.
func (e *Engine) Reconcile(ctx context.Context, src Source) (ReconcileReport, error) {
	report := ReconcileReport{Failed: []string{}}
	var firstErr error

	for _, r := range e.rules {
		pending, err := src.Unprojected(ctx, r.Source, r.ID)
		if err != nil {
			return report, err
		}
		for _, entity := range pending {
			report.Checked++
			if !r.applies(entity) {
				continue
			}
			_, err := src.Update(ctx, r.Source, entity.EntityID(), func(cur domain.Entity) (domain.Entity, error) {
				return cur, nil
			})
			if err != nil {
				slog.Warn("reconcile failed", "rule", r.ID, "source", entity.EntityID(), "error", err)
				report.Failed = append(report.Failed, entity.EntityID())
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			report.Repaired++
		}
	}
	return report, firstErr
}
