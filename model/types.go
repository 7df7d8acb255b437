package model

import (
	"encoding/json"
	"time"
)

// TimeFormat is the canonical timestamp encoding: RFC 3339 UTC with
// microsecond precision. All persisted timestamps use this format, so
// lexical order equals chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in the canonical persisted form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Memory is the unit of stored knowledge: a user-authored text record
// with opaque metadata and server-side bookkeeping.
type Memory struct {
	// ID is unique within a UID; the pair (ID, UID) identifies at most
	// one record, ever.
	ID string `json:"id"`

	// UID is the owning user. Immutable after creation.
	UID string `json:"uid"`

	// Content is the decompressed UTF-8 text.
	Content string `json:"content"`

	// Metadata is an opaque JSON object. The store never inspects its
	// shape beyond a size limit.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	// DeletedAt is non-empty for soft-deleted records. Such records are
	// excluded from normal reads but retained until purged.
	DeletedAt string `json:"deleted_at,omitempty"`

	// Version starts at 1 and increments by exactly 1 on every
	// successful update. It never decreases and survives soft delete.
	Version int `json:"version"`
}

// Deleted reports whether the memory is soft-deleted.
func (m *Memory) Deleted() bool { return m.DeletedAt != "" }

// Action identifies a mutating operation in the audit trail.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionPurge  Action = "PURGE"
)

// AuditEntry is an append-only record of a mutating action. Entries are
// never mutated or deleted except by cascading user deletion.
type AuditEntry struct {
	ID        int64  `json:"id"`
	UID       string `json:"uid"`
	Action    Action `json:"action"`
	MemoryID  string `json:"memory_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

// SearchResult pairs a memory with its similarity to the query.
type SearchResult struct {
	Memory Memory `json:"memory"`

	// Similarity is the cosine similarity in [-1, 1]; 0 when either
	// vector has zero norm.
	Similarity float32 `json:"similarity"`
}

// UserStats summarizes a user's active memory set.
type UserStats struct {
	Count  int    `json:"count"`
	Bytes  int64  `json:"bytes"`
	Oldest string `json:"oldest,omitempty"`
	Newest string `json:"newest,omitempty"`
}

// StoreStats summarizes the whole store across users.
type StoreStats struct {
	Users          int   `json:"users"`
	ActiveMemories int   `json:"active_memories"`
	DeletedPending int   `json:"deleted_pending"`
	AuditEntries   int64 `json:"audit_entries"`
	Dimension      int   `json:"dimension"`
}
