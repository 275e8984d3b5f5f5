// Package citations attaches retrieval metadata to session start parameters
// as auxiliary context, without touching the conversation log or the
// transport contract.
package citations

import (
	"encoding/json"
)

// ContextKey is the parameter name under which serialized citations travel.
const ContextKey = "citation_context"

// Citation is a read-only retrieval result sourced outside this package.
type Citation struct {
	ID             string  `json:"id"`
	Filename       string  `json:"filename"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ContextParams serializes citations into a single auxiliary field suitable
// for merging into session start parameters. It returns nil when disabled or
// when there is nothing to attach, so either transport can include or ignore
// it without special cases.
func ContextParams(cits []Citation, enabled bool) map[string]string {
	if !enabled || len(cits) == 0 {
		return nil
	}
	b, err := json.Marshal(cits)
	if err != nil {
		return nil
	}
	return map[string]string{ContextKey: string(b)}
}
