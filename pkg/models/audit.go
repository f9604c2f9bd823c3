package models

import "time"

// AuditRecord is the durable record of one tool execution attempt.
// Created once per attempt that reached the external call, never mutated.
type AuditRecord struct {
	ID           string        `json:"id"`
	CredentialID string        `json:"credential_id"`
	Query        string        `json:"query"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// CredentialUsage aggregates tool-call accounting for one credential.
type CredentialUsage struct {
	CredentialID string    `json:"credential_id"`
	TotalCalls   int64     `json:"total_calls"`
	LastUsedAt   time.Time `json:"last_used_at"`
}
