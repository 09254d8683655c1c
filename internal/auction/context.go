// Package auction orchestrates the create, classify, register, publish,
// collect, settle pipeline for one auction.
package auction

import (
	"encoding/json"
)

// Intent carries the conversational intent signals of a context request
type Intent struct {
	Type           string `json:"type,omitempty"`
	DecisionPhase  string `json:"decision_phase,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`
	TurnIndex      int    `json:"turn_index,omitempty"`
}

// ContextRequest is the coordinator-side view of a platform request. The
// stable spine is typed; vendor extensions stay raw so canonical JSON runs
// over them unchanged. The classification hints (category_pools, categories,
// pools, context, features) are open-shaped because platforms send both
// scalars and lists there.
type ContextRequest struct {
	ContextID      string                     `json:"context_id,omitempty"`
	SessionID      string                     `json:"session_id,omitempty"`
	PlatformID     string                     `json:"platform_id,omitempty"`
	OperatorID     string                     `json:"operator_id,omitempty"`
	QueryText      string                     `json:"query_text,omitempty"`
	Locale         string                     `json:"locale,omitempty"`
	Geo            string                     `json:"geo,omitempty"`
	Timestamp      string                     `json:"timestamp,omitempty"`
	Intent         *Intent                    `json:"intent,omitempty"`
	AllowedFormats []string                   `json:"allowed_formats,omitempty"`
	Auth           map[string]interface{}     `json:"auth,omitempty"`
	Verticals      []string                   `json:"verticals,omitempty"`
	Extensions     map[string]json.RawMessage `json:"extensions,omitempty"`

	RequestID      string `json:"request_id,omitempty"`
	ServeTokenHint string `json:"serve_token_hint,omitempty"`

	CategoryPools interface{}            `json:"category_pools,omitempty"`
	Categories    interface{}            `json:"categories,omitempty"`
	Pools         interface{}            `json:"pools,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Features      map[string]interface{} `json:"features,omitempty"`
}

// ToMap renders the request as the open document stored on the ledger and
// published to bidder pools.
func (c *ContextRequest) ToMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
