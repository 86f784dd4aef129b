package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshkit-ai/meshkit/mesh"
)

func TestToolContext_Validate(t *testing.T) {
	state := mesh.NewState(mesh.Guards{MaxDepth: 4, MaxTotalCalls: 10, MaxSteps: 8})
	info := AgentInfo{Name: "calculations-agent", Description: "Does math."}

	tc := NewToolContext(context.Background(), state, info, "call_1", nil, nil)
	require.NoError(t, tc.Validate())
	assert.Equal(t, "calculations-agent", tc.AgentName())
	assert.Equal(t, "call_1", tc.ToolCallID())

	// A zero value is not usable by tool implementations.
	assert.Error(t, (&ToolContext{}).Validate())

	// Missing state or call identifier fails even when constructed.
	assert.Error(t, NewToolContext(context.Background(), nil, info, "call_1", nil, nil).Validate())
	assert.Error(t, NewToolContext(context.Background(), state, info, "", nil, nil).Validate())
}
