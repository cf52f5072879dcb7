package appointment

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seeded(t *testing.T) *Prescription {
	t.Helper()
	p := &Prescription{}
	p.Append(EntryInput{Text: "Paracetamol 500mg twice daily", Attachments: []string{"x"}}, t0)
	p.Append(EntryInput{Text: "Rest for 3 days"}, t0.Add(time.Minute))
	return p
}

func TestAppendReturnsPreviousLength(t *testing.T) {
	p := &Prescription{}

	assert.Equal(t, 0, p.Append(EntryInput{Text: "first"}, t0))
	before := p.Snapshot()
	idx := p.Append(EntryInput{Attachments: []string{"https://files.example/scan.png"}}, t0.Add(time.Second))

	assert.Equal(t, 1, idx)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, before.Entries[0], p.Entries[0])

	added := p.Entries[1]
	assert.False(t, added.IsEdited)
	assert.Nil(t, added.UpdatedAt)
	assert.Equal(t, t0.Add(time.Second), added.CreatedAt)
	assert.Equal(t, []string{"https://files.example/scan.png"}, added.Attachments)
}

func TestUpdateLeavesOtherEntriesUntouched(t *testing.T) {
	p := seeded(t)
	p.Append(EntryInput{Text: "third"}, t0.Add(2*time.Minute))
	before := p.Snapshot()

	require.NoError(t, p.Update(1, EntryPatch{Text: strPtr("Rest for 5 days")}, t0.Add(time.Hour)))

	before0, _ := json.Marshal(before.Entries[0])
	after0, _ := json.Marshal(p.Entries[0])
	assert.Equal(t, string(before0), string(after0))
	before2, _ := json.Marshal(before.Entries[2])
	after2, _ := json.Marshal(p.Entries[2])
	assert.Equal(t, string(before2), string(after2))

	assert.Equal(t, "Rest for 5 days", p.Entries[1].Text)
	assert.True(t, p.Entries[1].IsEdited)
	require.NotNil(t, p.Entries[1].UpdatedAt)
	assert.True(t, p.Entries[1].UpdatedAt.After(p.Entries[1].CreatedAt))
}

func TestUpdateAppendsAttachments(t *testing.T) {
	p := seeded(t)

	require.NoError(t, p.Update(0, EntryPatch{Attachments: []string{"a", "b"}}, t0.Add(time.Hour)))

	assert.Equal(t, []string{"x", "a", "b"}, p.Entries[0].Attachments)
	assert.Equal(t, "Paracetamol 500mg twice daily", p.Entries[0].Text)
}

func TestUpdateBlankTextKeepsPriorText(t *testing.T) {
	p := seeded(t)

	require.NoError(t, p.Update(0, EntryPatch{Text: strPtr("   ")}, t0.Add(time.Hour)))
	assert.Equal(t, "Paracetamol 500mg twice daily", p.Entries[0].Text)
	assert.True(t, p.Entries[0].IsEdited)

	require.NoError(t, p.Update(0, EntryPatch{Text: strPtr("  Ibuprofen 200mg  ")}, t0.Add(2*time.Hour)))
	assert.Equal(t, "Ibuprofen 200mg", p.Entries[0].Text)
}

func TestUpdateTimestampStrictlyIncreases(t *testing.T) {
	p := seeded(t)

	// clock does not advance between the append and two edits
	require.NoError(t, p.Update(0, EntryPatch{}, t0))
	first := *p.Entries[0].UpdatedAt
	assert.True(t, first.After(p.Entries[0].CreatedAt))

	require.NoError(t, p.Update(0, EntryPatch{}, t0))
	second := *p.Entries[0].UpdatedAt
	assert.True(t, second.After(first))

	// a clock that went backwards is still bumped past the prior edit
	require.NoError(t, p.Update(0, EntryPatch{}, t0.Add(-time.Hour)))
	assert.True(t, p.Entries[0].UpdatedAt.After(second))
}

func TestUpdateOutOfRange(t *testing.T) {
	p := seeded(t)
	before := p.Snapshot()

	err := p.Update(5, EntryPatch{Text: strPtr("nope")}, t0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	assert.Contains(t, err.Error(), `"5"`)
	assert.Contains(t, err.Error(), "2 entries")
	assert.Equal(t, before, p.Snapshot())

	assert.Error(t, p.Update(-1, EntryPatch{}, t0))
}

func TestParseIndex(t *testing.T) {
	p := seeded(t)

	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "0", want: 0},
		{raw: " 1 ", want: 1},
		{raw: "2", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "one", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "1.5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := p.ParseIndex(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "appointment has 2 entries")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	p := seeded(t)
	require.NoError(t, p.Update(0, EntryPatch{}, t0.Add(time.Hour)))

	snap := p.Snapshot()
	snap.Entries[0].Attachments[0] = "changed"
	*snap.Entries[0].UpdatedAt = time.Time{}

	assert.Equal(t, "x", p.Entries[0].Attachments[0])
	assert.False(t, p.Entries[0].UpdatedAt.IsZero())
}

func TestPrescriptionDecodesLegacyShapes(t *testing.T) {
	created := "2025-01-02T03:04:05Z"
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, p Prescription)
	}{
		{
			name:  "null",
			input: `null`,
			check: func(t *testing.T, p Prescription) { assert.Empty(t, p.Entries) },
		},
		{
			name:  "bare string",
			input: `"Amoxicillin 250mg"`,
			check: func(t *testing.T, p Prescription) {
				require.Len(t, p.Entries, 1)
				assert.Equal(t, "Amoxicillin 250mg", p.Entries[0].Text)
				assert.False(t, p.Entries[0].IsEdited)
			},
		},
		{
			name:  "text and images",
			input: `[{"text":"take with food","images":["i1.png","i2.png"],"createdAt":"` + created + `"}]`,
			check: func(t *testing.T, p Prescription) {
				require.Len(t, p.Entries, 1)
				assert.Equal(t, []string{"i1.png", "i2.png"}, p.Entries[0].Attachments)
			},
		},
		{
			name:  "images and attachments merged in order",
			input: `{"entries":[{"text":"t","images":["i.png"],"attachments":["r.pdf"],"createdAt":"` + created + `"}]}`,
			check: func(t *testing.T, p Prescription) {
				assert.Equal(t, []string{"i.png", "r.pdf"}, p.Entries[0].Attachments)
			},
		},
		{
			name:  "updatedAt without flag",
			input: `[{"text":"t","createdAt":"` + created + `","updatedAt":"2025-02-01T00:00:00Z"}]`,
			check: func(t *testing.T, p Prescription) {
				assert.True(t, p.Entries[0].IsEdited)
				require.NotNil(t, p.Entries[0].UpdatedAt)
			},
		},
		{
			name:  "flag without updatedAt",
			input: `[{"text":"t","isEdited":true,"createdAt":"` + created + `"}]`,
			check: func(t *testing.T, p Prescription) {
				assert.True(t, p.Entries[0].IsEdited)
				require.NotNil(t, p.Entries[0].UpdatedAt)
				assert.Equal(t, p.Entries[0].CreatedAt, *p.Entries[0].UpdatedAt)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Prescription
			require.NoError(t, json.Unmarshal([]byte(tt.input), &p))
			tt.check(t, p)
			for _, e := range p.Entries {
				assert.Equal(t, e.IsEdited, e.UpdatedAt != nil)
			}
		})
	}
}

func TestPrescriptionEncodesCanonicalShape(t *testing.T) {
	p := Prescription{Entries: []Entry{{Text: "t", CreatedAt: t0}}}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[{"text":"t","attachments":[],"isEdited":false,"createdAt":"2026-03-05T10:00:00Z"}]}`, string(data))
	assert.Nil(t, p.Entries[0].Attachments)

	var back Prescription
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "t", back.Entries[0].Text)
	assert.Empty(t, back.Entries[0].Attachments)
}
