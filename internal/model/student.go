package model

import "time"

// Student represents a student user. Students authenticate with tokens issued
// by cmd/issue-token; no password is stored here.
type Student struct {
	ID        int       `json:"id"`
	NISN      string    `json:"nisn"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
