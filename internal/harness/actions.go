package harness

import (
	"context"

	"github.com/roach88/fellowship/internal/commands"
	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/remote"
	"github.com/roach88/fellowship/internal/resolver"
)

type actionFunc func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error)

var actions = map[string]actionFunc{
	"event.create": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.CreateEvent(ctx, user, commands.EventInput{
			Title:         str(args, "title"),
			Description:   str(args, "description"),
			Location:      str(args, "location"),
			Date:          str(args, "date"),
			Time:          str(args, "time"),
			Public:        flag(args, "isPublic"),
			CorrelationID: str(args, "correlationId"),
		})
		return localResult(res), err
	},
	"announcement.create": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.CreateAnnouncement(ctx, user, commands.AnnouncementInput{
			Title:         str(args, "title"),
			Description:   str(args, "description"),
			CorrelationID: str(args, "correlationId"),
		})
		return localResult(res), err
	},
	"ministry.create": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.CreateMinistry(ctx, user, commands.MinistryInput{
			Name:          str(args, "name"),
			Description:   str(args, "description"),
			MeetingTime:   str(args, "meetingTime"),
			Location:      str(args, "location"),
			Public:        flag(args, "isPublic"),
			CorrelationID: str(args, "correlationId"),
		})
		return localResult(res), err
	},
	"prayer.submit": func(ctx context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.SubmitPrayer(ctx, str(args, "text"), str(args, "correlationId"))
		return localResult(res), err
	},
	"prayer.toggle_answered": func(ctx context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.ToggleAnswered(ctx, str(args, "id"))
		return localResult(res), err
	},
	"prayer.pray_for": func(ctx context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.PrayFor(ctx, str(args, "id"))
		return localResult(res), err
	},
	"group.create": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.CreateGroup(ctx, user, str(args, "name"), str(args, "description"))
		return remoteResult(res), err
	},
	"group.join": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.JoinGroup(ctx, user, str(args, "groupId"))
		return remoteResult(res), err
	},
	"group.send": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.SendGroupMessage(ctx, user, str(args, "groupId"), str(args, "text"), str(args, "correlationId"))
		return remoteResult(res), err
	},
	"group.retry": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.RetryGroupMessage(ctx, user, str(args, "groupId"), str(args, "correlationId"))
		return remoteResult(res), err
	},
	"group.sync": func(ctx context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		groupID := str(args, "groupId")
		timeline := h.svc.Timeline(groupID)
		snap, err := h.remote.Query(ctx, remote.Collection(remote.MessagesCollection(groupID)).OrderedBy("createdAt", remote.Asc))
		if err != nil {
			return renderResult(timeline.Render()), err
		}
		if err := timeline.ApplyRemote(snap); err != nil {
			return renderResult(timeline.Render()), err
		}
		return renderResult(timeline.Render()), nil
	},
	"group.render": func(_ context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		return renderResult(h.svc.Timeline(str(args, "groupId")).Render()), nil
	},
	"discussion.create": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.CreateDiscussion(ctx, user, str(args, "title"), str(args, "topic"))
		return remoteResult(res), err
	},
	"discussion.comment": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.SendComment(ctx, user, str(args, "discussionId"), str(args, "text"), str(args, "correlationId"))
		return remoteResult(res), err
	},
	"discussion.comment_uncounted": func(ctx context.Context, h *Harness, user domain.User, args map[string]any) (map[string]any, error) {
		// A client that writes the comment but not the counter.
		id := str(args, "id")
		err := h.remote.Commit(ctx, remote.Write{
			Op:         remote.OpCreate,
			Collection: remote.CommentsCollection(str(args, "discussionId")),
			ID:         id,
			Data:       map[string]any{"text": str(args, "text"), "userId": user.ID, "userName": user.Name},
		})
		if err != nil {
			return map[string]any{}, &domain.Error{Code: domain.CodePostFailed, Op: "comment", ID: id, Err: err}
		}
		return map[string]any{"id": id}, nil
	},
	"discussion.recount": func(ctx context.Context, h *Harness, _ domain.User, args map[string]any) (map[string]any, error) {
		res, err := h.svc.RecountComments(ctx, str(args, "discussionId"))
		out := remoteResult(res)
		out["count"] = res.Count
		return out, err
	},
	"projection.reconcile": func(ctx context.Context, h *Harness, _ domain.User, _ map[string]any) (map[string]any, error) {
		report, err := h.engine.Reconcile(ctx, h.local)
		return map[string]any{
			"checked":  report.Checked,
			"repaired": report.Repaired,
			"failed":   len(report.Failed),
		}, err
	},
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func flag(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func localResult(res commands.Result) map[string]any {
	out := map[string]any{
		"revision": res.Revision,
		"replayed": res.Replayed,
	}
	if res.ID != "" {
		out["id"] = res.ID
	}
	return out
}

func remoteResult(res commands.Result) map[string]any {
	out := map[string]any{}
	if res.ID != "" {
		out["id"] = res.ID
	}
	if res.CorrelationID != "" {
		out["correlationId"] = res.CorrelationID
	}
	return out
}

func renderResult(msgs []resolver.RenderMessage) map[string]any {
	rendered := make([]any, len(msgs))
	for i, m := range msgs {
		rendered[i] = map[string]any{
			"key":    m.Key(),
			"status": string(m.Status()),
			"body":   m.Body(),
			"author": m.Author(),
		}
	}
	return map[string]any{"messages": rendered}
}
