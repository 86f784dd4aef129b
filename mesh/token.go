package mesh

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Token is the serialized continuation of an exchange threaded through a
// peer request. It carries only what the callee needs to enforce the guards
// as part of the caller's exchange; histories travel back in the response.
type Token struct {
	ExchangeID string   `json:"exchange_id"`
	CallStack  []string `json:"call_stack"`
	Depth      int      `json:"depth"`
	TotalCalls int      `json:"total_calls"`
}

// Encode serializes the token into an opaque URL-safe string.
func (t Token) Encode() string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses a token previously produced by Encode. A depth that
// disagrees with the call stack length marks a tampered or corrupted token.
func DecodeToken(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("failed to decode mesh state token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("failed to unmarshal mesh state token: %w", err)
	}
	if t.Depth != len(t.CallStack) {
		return Token{}, fmt.Errorf("inconsistent mesh state token: depth %d does not match call stack length %d", t.Depth, len(t.CallStack))
	}
	return t, nil
}
