// Package draft defines the unit of draft persistence shared by the local
// cache, the remote store client and the reconciler.
package draft

import (
	"encoding/json"
	"strings"
	"time"
)

// Origin records why a draft was saved.
type Origin string

const (
	OriginAuto       Origin = "auto"
	OriginManual     Origin = "manual"
	OriginSubmission Origin = "submission"
)

// ParseOrigin accepts both the short form ("manual") and the backend's
// save_type form ("manual_save"). Anything unknown or empty is OriginAuto.
func ParseOrigin(s string) Origin {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual", "manual_save":
		return OriginManual
	case "submission":
		return OriginSubmission
	default:
		return OriginAuto
	}
}

// SaveType returns the backend wire name for the origin.
func (o Origin) SaveType() string {
	switch o {
	case OriginManual:
		return "manual_save"
	case OriginSubmission:
		return "submission"
	default:
		return "auto_save"
	}
}

// UnmarshalJSON decodes leniently so that records written by older or newer
// clients still load.
func (o *Origin) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*o = OriginAuto
		return nil
	}
	*o = ParseOrigin(s)
	return nil
}

// Record is one saved version of a draft.
type Record struct {
	SubjectID string    `json:"subjectId"`
	Variant   string    `json:"variant"`
	Content   string    `json:"content"`
	SavedAt   time.Time `json:"savedAt"`
	Origin    Origin    `json:"origin"`
}

// NewerThan reports whether r was saved strictly after t. A nil t means there
// is nothing to compare against, so any record is newer.
func (r Record) NewerThan(t *time.Time) bool {
	if t == nil {
		return true
	}
	return r.SavedAt.After(*t)
}
