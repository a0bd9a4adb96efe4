package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entity is a record stored in a local collection.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	Validate() error
}

// Publishable is implemented by entities carrying a visibility flag.
// Only public entities are mirrored into the announcement feed.
type Publishable interface {
	Entity
	IsPublic() bool
	Headline() (title, description string)
}

// Event is a scheduled gathering.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Public      bool      `json:"isPublic"`
}

func (e *Event) EntityID() string { return e.ID }
func (e *Event) EntityKind() Kind { return KindEvent }
func (e *Event) IsPublic() bool   { return e.Public }

func (e *Event) Headline() (string, string) { return e.Title, e.Description }

func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return invalid(KindEvent, "title is required")
	}
	return nil
}

// Announcement is a feed entry, either written directly or projected from a
// public Event or Ministry. SourceID is set only on projections.
type Announcement struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	Type        AnnouncementType `json:"type"`
	SourceID    string           `json:"sourceId,omitempty"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (a *Announcement) EntityID() string { return a.ID }
func (a *Announcement) EntityKind() Kind { return KindAnnouncement }

func (a *Announcement) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return invalid(KindAnnouncement, "title is required")
	}
	switch a.Type {
	case AnnouncementPlain, AnnouncementEvent, AnnouncementMinistry:
	default:
		return invalid(KindAnnouncement, fmt.Sprintf("unknown type %q", a.Type))
	}
	return nil
}

// Ministry is a standing group with a regular meeting.
type Ministry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MeetingTime string    `json:"meetingTime"`
	Location    string    `json:"location"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Public      bool      `json:"isPublic"`
}

func (m *Ministry) EntityID() string { return m.ID }
func (m *Ministry) EntityKind() Kind { return KindMinistry }
func (m *Ministry) IsPublic() bool   { return m.Public }

func (m *Ministry) Headline() (string, string) { return m.Name, m.Description }

func (m *Ministry) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid(KindMinistry, "name is required")
	}
	return nil
}

// Prayer is a prayer request. PrayedFor counts how many times someone
// tapped "prayed"; it never goes below zero.
type Prayer struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	PrayedFor  int       `json:"prayedFor"`
	IsAnswered bool      `json:"isAnswered"`
}

func (p *Prayer) EntityID() string { return p.ID }
func (p *Prayer) EntityKind() Kind { return KindPrayer }

func (p *Prayer) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return invalid(KindPrayer, "text is required")
	}
	if p.PrayedFor < 0 {
		return invalid(KindPrayer, "prayedFor must not be negative")
	}
	return nil
}

// Decode unmarshals a persisted payload into the concrete type for kind.
func Decode(kind Kind, payload []byte) (Entity, error) {
	var e Entity
	switch kind {
	case KindEvent:
		e = &Event{}
	case KindAnnouncement:
		e = &Announcement{}
	case KindMinistry:
		e = &Ministry{}
	case KindPrayer:
		e = &Prayer{}
	default:
		return nil, fmt.Errorf("decode: unknown kind %q", kind)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if e.EntityID() == "" {
		return nil, fmt.Errorf("decode %s: missing id", kind)
	}
	return e, nil
}

func invalid(kind Kind, msg string) error {
	return &Error{Code: CodeInvalidCommand, Kind: kind, Message: msg}
}
