package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus tracks whether a row has been confirmed by the remote store.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingInsert SyncStatus = "pending_insert"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
)

// Pending reports whether the status represents an unconfirmed local mutation.
func (s SyncStatus) Pending() bool {
	return s == StatusPendingInsert || s == StatusPendingUpdate || s == StatusPendingDelete
}

// Day is the natural key of a journal entry: one calendar date per user,
// formatted as 2006-01-02.
type Day string

const dayLayout = "2006-01-02"

// ParseDay validates a calendar date string and returns it as a Day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(t.Format(dayLayout)), nil
}

// DayOf returns the Day for a point in time, in that time's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(dayLayout))
}

// Time returns the midnight UTC instant for the day.
func (d Day) Time() time.Time {
	t, _ := time.Parse(dayLayout, string(d))
	return t
}

func (d Day) String() string { return string(d) }

// TagColor is drawn from a fixed palette.
type TagColor string

const (
	ColorRed    TagColor = "red"
	ColorOrange TagColor = "orange"
	ColorYellow TagColor = "yellow"
	ColorGreen  TagColor = "green"
	ColorTeal   TagColor = "teal"
	ColorBlue   TagColor = "blue"
	ColorPurple TagColor = "purple"
	ColorGray   TagColor = "gray"
)

// Palette returns the valid tag colors.
func Palette() []TagColor {
	return []TagColor{ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorTeal, ColorBlue, ColorPurple, ColorGray}
}

// ValidColor reports whether c is in the palette.
func ValidColor(c TagColor) bool {
	for _, p := range Palette() {
		if c == p {
			return true
		}
	}
	return false
}

// Entry is one journal day. Content is an ordered tree of rich-text blocks,
// opaque to the sync engine: plain structured JSON locally, an encrypted blob
// plus nonce remotely. Revision is the optimistic-concurrency token; the
// authoritative copy lives server-side and only ever increases.
type Entry struct {
	UserID     string          `json:"user_id"`
	Day        Day             `json:"day"`
	Content    json.RawMessage `json:"content,omitempty"`
	Revision   int64           `json:"revision"`
	SyncStatus SyncStatus      `json:"sync_status"`
	CreatedAt  time.Time       `json:"created_at"`
	ModifiedAt time.Time       `json:"modified_at"`
}

// Tag is a user-scoped label. Names are not required to be unique.
type Tag struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Color      TagColor   `json:"color"`
	Revision   int64      `json:"revision"`
	SyncStatus SyncStatus `json:"sync_status"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// EntryTag links a tag to a day. Composite key (user_id, day, tag_id);
// OrderNo is the tag's position within the day's tag list.
type EntryTag struct {
	UserID     string     `json:"user_id"`
	Day        Day        `json:"day"`
	TagID      string     `json:"tag_id"`
	OrderNo    int        `json:"order_no"`
	Revision   int64      `json:"revision"`
	SyncStatus SyncStatus `json:"sync_status"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}
