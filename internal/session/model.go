// Package session owns editing sessions: one live document tree per session,
// its persisted form, and the turn loop against the completion agent.
package session

import (
	"time"

	"github.com/vrite/vrite/internal/blocks"
)

// Document is the persisted form of an edited document: the block model
// snapshot plus metadata. Only plain (fully resolved) documents are saved.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Blocks    []blocks.Block `json:"blocks"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DocumentMeta is a lightweight representation for listing in the UI.
type DocumentMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
