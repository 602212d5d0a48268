package models

import (
	"encoding/json"
	"time"
)

// PropertyAnalysis is a persisted AI analysis of one property.
type PropertyAnalysis struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Address   string          `json:"address"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"createdAt"`
}
