// Package entities extracts structured entity references from model output.
package entities

import (
	"regexp"
	"strings"

	"github.com/canopyhq/graphpilot/pkg/models"
)

// urnPattern matches the fixed reference syntax <urn:Type:identifier>.
// Malformed near-matches (missing segments, stray whitespace) are not
// extracted; there are no partial matches.
var urnPattern = regexp.MustCompile(`<urn:([A-Za-z][A-Za-z0-9]*):([A-Za-z0-9][A-Za-z0-9._-]*)>`)

// Extract scans text for <urn:Type:id> references and returns the
// entities found, deduplicated by full URN in first-seen order.
func Extract(text string) []models.Entity {
	matches := urnPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	entities := make([]models.Entity, 0, len(matches))
	for _, m := range matches {
		urn := m[0]
		if seen[urn] {
			continue
		}
		seen[urn] = true
		entities = append(entities, models.Entity{
			URN:         urn,
			Type:        m[1],
			ID:          m[2],
			DisplayName: humanize(m[2]),
		})
	}
	return entities
}

// humanize turns an identifier into a display name by replacing
// dashes and underscores with spaces.
func humanize(id string) string {
	return strings.NewReplacer("-", " ", "_", " ").Replace(id)
}
