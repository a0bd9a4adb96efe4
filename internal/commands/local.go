package commands

import (
	"context"
	"errors"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/localstore"
)

// EventInput is the payload of CreateEvent.
type EventInput struct {
	Title         string `json:"title" yaml:"title"`
	Description   string `json:"description" yaml:"description"`
	Location      string `json:"location" yaml:"location"`
	Date          string `json:"date" yaml:"date"`
	Time          string `json:"time" yaml:"time"`
	ImageURL      string `json:"imageUrl" yaml:"imageUrl"`
	Public        bool   `json:"isPublic" yaml:"isPublic"`
	CorrelationID string `json:"correlationId" yaml:"correlationId"`
}

// AnnouncementInput is the payload of CreateAnnouncement.
type AnnouncementInput struct {
	Title         string `json:"title" yaml:"title"`
	Description   string `json:"description" yaml:"description"`
	ImageURL      string `json:"imageUrl" yaml:"imageUrl"`
	CorrelationID string `json:"correlationId" yaml:"correlationId"`
}

// MinistryInput is the payload of CreateMinistry.
type MinistryInput struct {
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description" yaml:"description"`
	MeetingTime   string `json:"meetingTime" yaml:"meetingTime"`
	Location      string `json:"location" yaml:"location"`
	ImageURL      string `json:"imageUrl" yaml:"imageUrl"`
	Public        bool   `json:"isPublic" yaml:"isPublic"`
	CorrelationID string `json:"correlationId" yaml:"correlationId"`
}

// CreateEvent stores an event. A public event is mirrored into the
// announcement feed in the same commit.
func (s *Service) CreateEvent(ctx context.Context, user domain.User, in EventInput) (Result, error) {
	return guard("create_event", func() (Result, error) {
		e := &domain.Event{
			ID:          s.ids.Generate(),
			Title:       domain.NormalizeText(in.Title),
			Description: domain.NormalizeText(in.Description),
			Location:    domain.NormalizeText(in.Location),
			Date:        in.Date,
			Time:        in.Time,
			ImageURL:    in.ImageURL,
			CreatedBy:   user.ID,
			CreatedAt:   s.now().UTC(),
			Public:      in.Public,
		}
		return s.put(ctx, domain.KindEvent, in.CorrelationID, e)
	})
}

// CreateAnnouncement stores a plain announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, user domain.User, in AnnouncementInput) (Result, error) {
	return guard("create_announcement", func() (Result, error) {
		a := &domain.Announcement{
			ID:          s.ids.Generate(),
			Title:       domain.NormalizeText(in.Title),
			Description: domain.NormalizeText(in.Description),
			ImageURL:    in.ImageURL,
			Type:        domain.AnnouncementPlain,
			CreatedBy:   user.ID,
			CreatedAt:   s.now().UTC(),
		}
		return s.put(ctx, domain.KindAnnouncement, in.CorrelationID, a)
	})
}

// CreateMinistry stores a ministry. A public ministry is mirrored into the
// announcement feed in the same commit.
func (s *Service) CreateMinistry(ctx context.Context, user domain.User, in MinistryInput) (Result, error) {
	return guard("create_ministry", func() (Result, error) {
		m := &domain.Ministry{
			ID:          s.ids.Generate(),
			Name:        domain.NormalizeText(in.Name),
			Description: domain.NormalizeText(in.Description),
			MeetingTime: in.MeetingTime,
			Location:    domain.NormalizeText(in.Location),
			ImageURL:    in.ImageURL,
			CreatedBy:   user.ID,
			CreatedAt:   s.now().UTC(),
			Public:      in.Public,
		}
		return s.put(ctx, domain.KindMinistry, in.CorrelationID, m)
	})
}

// SubmitPrayer stores a prayer request.
func (s *Service) SubmitPrayer(ctx context.Context, text, correlationID string) (Result, error) {
	return guard("submit_prayer", func() (Result, error) {
		p := &domain.Prayer{
			ID:        s.ids.Generate(),
			Text:      domain.NormalizeText(text),
			CreatedAt: s.now().UTC(),
		}
		return s.put(ctx, domain.KindPrayer, correlationID, p)
	})
}

// ToggleAnswered flips a prayer's answered flag.
func (s *Service) ToggleAnswered(ctx context.Context, prayerID string) (Result, error) {
	return guard("toggle_answered", func() (Result, error) {
		return s.updatePrayer(ctx, prayerID, func(p *domain.Prayer) {
			p.IsAnswered = !p.IsAnswered
		})
	})
}

// PrayFor increments a prayer's prayedFor counter. Concurrent calls are
// serialized, so none is lost.
func (s *Service) PrayFor(ctx context.Context, prayerID string) (Result, error) {
	return guard("pray_for", func() (Result, error) {
		return s.updatePrayer(ctx, prayerID, func(p *domain.Prayer) {
			p.PrayedFor++
		})
	})
}

func (s *Service) updatePrayer(ctx context.Context, id string, mutate func(*domain.Prayer)) (Result, error) {
	if id == "" {
		return Result{}, &domain.Error{Code: domain.CodeInvalidCommand, Op: "update", Kind: domain.KindPrayer, Message: "prayer id is required"}
	}
	updated, rev, err := s.local.UpdateRevision(ctx, domain.KindPrayer, id, func(cur domain.Entity) (domain.Entity, error) {
		p, ok := cur.(*domain.Prayer)
		if !ok {
			return nil, &domain.Error{Code: domain.CodeCorruptRecord, Op: "update", Kind: domain.KindPrayer, ID: id}
		}
		next := *p
		mutate(&next)
		return &next, nil
	})
	if err != nil && updated == nil {
		return Result{}, err
	}
	return Result{ID: id, Kind: domain.KindPrayer, Revision: rev}, err
}

func (s *Service) put(ctx context.Context, kind domain.Kind, correlationID string, e domain.Entity) (Result, error) {
	res, err := s.local.PutOnce(ctx, kind, correlationID, e)
	if err != nil && !committed(res, err) {
		return Result{}, err
	}
	if res.Replayed {
		if rev, revErr := s.local.Revision(ctx, res.Kind, res.ID); revErr == nil {
			res.Revision = rev
		}
	}
	return Result{
		ID:            res.ID,
		Kind:          res.Kind,
		Revision:      res.Revision,
		Replayed:      res.Replayed,
		CorrelationID: correlationID,
	}, err
}

// committed reports whether a PutOnce error still left the write in place.
func committed(res localstore.PutResult, err error) bool {
	return res.ID != "" && errors.Is(err, domain.ErrProjectionFailed)
}

// Events lists events in creation order.
func (s *Service) Events(ctx context.Context) ListResult[*domain.Event] {
	return list[*domain.Event](ctx, s.local, domain.KindEvent)
}

// Announcements lists the feed in creation order.
func (s *Service) Announcements(ctx context.Context) ListResult[*domain.Announcement] {
	return list[*domain.Announcement](ctx, s.local, domain.KindAnnouncement)
}

// Ministries lists ministries in creation order.
func (s *Service) Ministries(ctx context.Context) ListResult[*domain.Ministry] {
	return list[*domain.Ministry](ctx, s.local, domain.KindMinistry)
}

// Prayers lists prayer requests in creation order.
func (s *Service) Prayers(ctx context.Context) ListResult[*domain.Prayer] {
	return list[*domain.Prayer](ctx, s.local, domain.KindPrayer)
}

func list[T domain.Entity](ctx context.Context, local *localstore.Store, kind domain.Kind) ListResult[T] {
	items, err := local.Get(ctx, kind)
	out := ListResult[T]{Items: make([]T, 0, len(items)), LoadError: err}
	for _, it := range items {
		if v, ok := it.(T); ok {
			out.Items = append(out.Items, v)
		}
	}
	return out
}
