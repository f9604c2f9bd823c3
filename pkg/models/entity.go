package models

// Entity is a structured reference extracted from model output using the
// <urn:Type:id> syntax. Entities are derived data with no identity beyond
// the URN; extraction deduplicates by full URN.
type Entity struct {
	URN         string `json:"urn"`
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
