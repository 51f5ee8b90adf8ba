package draft

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want Origin
	}{
		{"auto", OriginAuto},
		{"auto_save", OriginAuto},
		{"manual", OriginManual},
		{"MANUAL_SAVE", OriginManual},
		{"submission", OriginSubmission},
		{"", OriginAuto},
		{"checkpoint", OriginAuto},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseOrigin(tt.in), "input %q", tt.in)
	}
}

func TestOriginSaveType(t *testing.T) {
	assert.Equal(t, "auto_save", OriginAuto.SaveType())
	assert.Equal(t, "manual_save", OriginManual.SaveType())
	assert.Equal(t, "submission", OriginSubmission.SaveType())
	assert.Equal(t, "auto_save", Origin("").SaveType())
}

func TestRecordDecodeDefaultsOrigin(t *testing.T) {
	raw := `{"content":"print(1)","subjectId":"12","variant":"python","savedAt":"2026-01-02T03:04:05Z"}`
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, OriginAuto, rec.Origin)

	raw = `{"content":"x","subjectId":"12","variant":"python","savedAt":"2026-01-02T03:04:05Z","origin":"snapshot"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, OriginAuto, rec.Origin)

	raw = `{"content":"x","subjectId":"12","variant":"python","savedAt":"2026-01-02T03:04:05Z","origin":42}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, OriginAuto, rec.Origin)
}

func TestRecordNewerThan(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	rec := Record{SavedAt: t2}
	assert.True(t, rec.NewerThan(nil))
	assert.True(t, rec.NewerThan(&t1))
	assert.False(t, rec.NewerThan(&t2))

	older := Record{SavedAt: t1}
	assert.False(t, older.NewerThan(&t2))
}
