package domain

import "fmt"

// Kind names a local collection. The value doubles as the persisted
// collection name.
type Kind string

const (
	KindEvent        Kind = "events"
	KindAnnouncement Kind = "announcements"
	KindMinistry     Kind = "ministries"
	KindPrayer       Kind = "prayers"
)

// Kinds lists every local collection in a stable order.
var Kinds = []Kind{KindEvent, KindAnnouncement, KindMinistry, KindPrayer}

// Valid reports whether k names a known local collection.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindAnnouncement, KindMinistry, KindPrayer:
		return true
	}
	return false
}

// ParseKind accepts either the collection name ("events") or the singular
// form ("event").
func ParseKind(s string) (Kind, error) {
	switch s {
	case "events", "event":
		return KindEvent, nil
	case "announcements", "announcement":
		return KindAnnouncement, nil
	case "ministries", "ministry":
		return KindMinistry, nil
	case "prayers", "prayer":
		return KindPrayer, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// AnnouncementType tags where an announcement came from.
type AnnouncementType string

const (
	AnnouncementPlain    AnnouncementType = "announcement"
	AnnouncementEvent    AnnouncementType = "event"
	AnnouncementMinistry AnnouncementType = "ministry"
)
