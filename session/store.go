// Package session persists finished exchanges for auditing. An exchange
// audit row captures what each leg of the mesh did: the answer, the outcome
// and the full per-agent tool call history.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meshkit-ai/meshkit/mesh"
)

// Exchange is one finished exchange leg as seen by one agent.
type Exchange struct {
	ExchangeID string                   `json:"exchange_id"`
	Agent      string                   `json:"agent"`
	Status     string                   `json:"status"`
	Answer     string                   `json:"answer,omitempty"`
	Note       string                   `json:"note,omitempty"`
	TotalCalls int                      `json:"total_calls"`
	History    map[string][]mesh.Record `json:"history,omitempty"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Store persists exchange audit rows.
type Store interface {
	// Save records one finished exchange leg.
	Save(ctx context.Context, ex Exchange) error

	// List returns all recorded legs of the given exchange, oldest first.
	List(ctx context.Context, exchangeID string) ([]Exchange, error)
}

func marshalHistory(h map[string][]mesh.Record) ([]byte, error) {
	if len(h) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

func unmarshalHistory(raw []byte) (map[string][]mesh.Record, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var h map[string][]mesh.Record
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	return h, nil
}
