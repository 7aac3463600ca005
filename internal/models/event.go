package models

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EventEntity is the entity name used for indexing and cache keys
const EventEntity = "Event"

// Event represents a persistent, full-text indexed event.
//
// ID is assigned by the persistence layer on first persist and must not be set
// by application code. Equality and hashing consider ID, Title and Date only;
// the Log is deliberately left out of both.
type Event struct {
	ID    string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Title string    `gorm:"column:title" json:"title"`
	Date  time.Time `gorm:"column:event_date" json:"date"`
	Log   []string  `gorm:"-" json:"log"`
}

// EventLogEntry is a single row of an event's log collection
type EventLogEntry struct {
	EventID  string `gorm:"column:event_id;type:varchar(36);primaryKey" json:"event_id"`
	Position int    `gorm:"column:position;primaryKey" json:"position"`
	Entry    string `gorm:"column:entry;not null" json:"entry"`
}

// TableName overrides the table name used by gorm
func (Event) TableName() string {
	return "events"
}

// TableName overrides the table name used by gorm
func (EventLogEntry) TableName() string {
	return "event_log"
}

// NewEvent creates a transient event with an empty log
func NewEvent(title string, date time.Time) *Event {
	return &Event{
		Title: title,
		Date:  date,
		Log:   []string{},
	}
}

// AddLogEntry appends an entry to the event log
func (e *Event) AddLogEntry(entry string) {
	e.Log = append(e.Log, entry)
}

// SetLog replaces the event log
func (e *Event) SetLog(log []string) {
	e.Log = log
}

// Clone returns a copy that shares no state with e
func (e *Event) Clone() *Event {
	c := *e
	c.Log = append([]string{}, e.Log...)
	return &c
}

// Equal reports whether two events share id, title and date.
func (e *Event) Equal(other *Event) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	return e.ID == other.ID && e.Title == other.Title && e.Date.Equal(other.Date)
}

// Hash returns a hash consistent with Equal.
func (e *Event) Hash() uint64 {
	if e == nil {
		return 0
	}

	d := xxhash.New()
	_, _ = d.WriteString(e.ID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(e.Title)
	_, _ = d.Write([]byte{0})

	var ts [8]byte
	if !e.Date.IsZero() {
		binary.BigEndian.PutUint64(ts[:], uint64(e.Date.UnixNano()))
	}
	_, _ = d.Write(ts[:])

	return d.Sum64()
}

// String renders the full state of the event, log included
func (e *Event) String() string {
	var sb strings.Builder
	sb.WriteString("Event")
	fmt.Fprintf(&sb, "{id='%s'", e.ID)
	fmt.Fprintf(&sb, ", title='%s'", e.Title)
	fmt.Fprintf(&sb, ", date=%s", e.Date.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, ", log=[%s]", strings.Join(e.Log, ", "))
	sb.WriteString("}")
	return sb.String()
}

// IndexID returns the document id used by the full-text index
func (e *Event) IndexID() string {
	return e.ID
}

// IndexFields returns the fields indexed for full-text search
func (e *Event) IndexFields() map[string]interface{} {
	return map[string]interface{}{
		"title": e.Title,
	}
}

// LogEntries converts the log into ordered rows
func (e *Event) LogEntries() []EventLogEntry {
	entries := make([]EventLogEntry, 0, len(e.Log))
	for i, entry := range e.Log {
		entries = append(entries, EventLogEntry{
			EventID:  e.ID,
			Position: i,
			Entry:    entry,
		})
	}
	return entries
}
