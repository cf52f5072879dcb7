package appointment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minTick is the smallest step used to keep edit timestamps strictly increasing.
const minTick = time.Millisecond

// Entry is one add-or-edit unit of prescription content.
type Entry struct {
	Text        string     `json:"text"`
	Attachments []string   `json:"attachments"`
	IsEdited    bool       `json:"isEdited"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// EntryInput is the content of a new entry.
type EntryInput struct {
	Text        string
	Attachments []string
}

// EntryPatch describes an edit. A nil or blank Text keeps the prior text.
type EntryPatch struct {
	Text        *string
	Attachments []string
}

// HasContent reports whether the input would produce a non-empty entry.
func (in EntryInput) HasContent() bool {
	return strings.TrimSpace(in.Text) != "" || len(in.Attachments) > 0
}

// Prescription is the ordered history of entries of one appointment.
// Positions are stable: entries are only appended and edited in place.
type Prescription struct {
	Entries []Entry `json:"entries"`
}

// Len returns the number of entries.
func (p *Prescription) Len() int { return len(p.Entries) }

// Append adds a new entry at the end and returns its index.
func (p *Prescription) Append(in EntryInput, now time.Time) int {
	idx := len(p.Entries)
	p.Entries = append(p.Entries, Entry{
		Text:        strings.TrimSpace(in.Text),
		Attachments: cloneStrings(in.Attachments),
		CreatedAt:   now.UTC(),
	})
	return idx
}

// Update edits the entry at index. Attachments are appended, never replaced.
func (p *Prescription) Update(index int, patch EntryPatch, now time.Time) error {
	if index < 0 || index >= len(p.Entries) {
		return indexError(strconv.Itoa(index), len(p.Entries))
	}

	e := &p.Entries[index]
	if patch.Text != nil {
		if text := strings.TrimSpace(*patch.Text); text != "" {
			e.Text = text
		}
	}
	if len(patch.Attachments) > 0 {
		merged := make([]string, 0, len(e.Attachments)+len(patch.Attachments))
		merged = append(merged, e.Attachments...)
		merged = append(merged, patch.Attachments...)
		e.Attachments = merged
	}

	prev := e.CreatedAt
	if e.UpdatedAt != nil {
		prev = *e.UpdatedAt
	}
	ts := now.UTC()
	if !ts.After(prev) {
		ts = prev.Add(minTick)
	}
	e.UpdatedAt = &ts
	e.IsEdited = true
	return nil
}

// ParseIndex parses a client supplied entry index against the current count.
func (p *Prescription) ParseIndex(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	idx, err := strconv.Atoi(trimmed)
	if err != nil || idx < 0 || idx >= len(p.Entries) {
		return 0, indexError(raw, len(p.Entries))
	}
	return idx, nil
}

// Snapshot returns a deep copy that shares no memory with p.
func (p *Prescription) Snapshot() Prescription {
	out := Prescription{Entries: make([]Entry, len(p.Entries))}
	for i, e := range p.Entries {
		out.Entries[i] = e.clone()
	}
	return out
}

func (e Entry) clone() Entry {
	c := e
	c.Attachments = cloneStrings(e.Attachments)
	if e.UpdatedAt != nil {
		ts := *e.UpdatedAt
		c.UpdatedAt = &ts
	}
	return c
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// NormalizeEntry builds a canonical entry from any historical record shape.
// Images from older records come first, followed by attachments.
func NormalizeEntry(text string, images, attachments []string, isEdited bool, createdAt time.Time, updatedAt *time.Time) Entry {
	all := make([]string, 0, len(images)+len(attachments))
	for _, ref := range images {
		if ref = strings.TrimSpace(ref); ref != "" {
			all = append(all, ref)
		}
	}
	for _, ref := range attachments {
		if ref = strings.TrimSpace(ref); ref != "" {
			all = append(all, ref)
		}
	}

	e := Entry{
		Text:        text,
		Attachments: all,
		CreatedAt:   createdAt.UTC(),
	}
	switch {
	case updatedAt != nil && !updatedAt.IsZero():
		ts := updatedAt.UTC()
		if ts.Before(e.CreatedAt) {
			ts = e.CreatedAt
		}
		e.UpdatedAt = &ts
		e.IsEdited = true
	case isEdited:
		ts := e.CreatedAt
		e.UpdatedAt = &ts
		e.IsEdited = true
	}
	return e
}

type entryRecord struct {
	Text        string     `json:"text"`
	Images      []string   `json:"images"`
	Attachments []string   `json:"attachments"`
	IsEdited    bool       `json:"isEdited"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// UnmarshalJSON accepts the canonical entry and the older text+images shape.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*e = NormalizeEntry(rec.Text, rec.Images, rec.Attachments, rec.IsEdited, rec.CreatedAt, rec.UpdatedAt)
	return nil
}

// MarshalJSON always emits the canonical shape with a non-null attachment list.
func (p Prescription) MarshalJSON() ([]byte, error) {
	entries := make([]Entry, len(p.Entries))
	for i, e := range p.Entries {
		if e.Attachments == nil {
			e.Attachments = []string{}
		}
		entries[i] = e
	}
	return json.Marshal(struct {
		Entries []Entry `json:"entries"`
	}{Entries: entries})
}

// UnmarshalJSON normalizes every stored prescription shape: null, a bare
// string, a bare array of entries, or the canonical object.
func (p *Prescription) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	p.Entries = nil
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			p.Entries = []Entry{{Text: text, Attachments: []string{}}}
		}
		return nil
	case '[':
		return json.Unmarshal(trimmed, &p.Entries)
	case '{':
		var doc struct {
			Entries []Entry `json:"entries"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return err
		}
		p.Entries = doc.Entries
		return nil
	default:
		return fmt.Errorf("unsupported prescription encoding starting with %q", trimmed[0])
	}
}
