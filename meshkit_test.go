package meshkit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshkit-ai/meshkit/agent"
	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/mesh"
	"github.com/meshkit-ai/meshkit/model"
	"github.com/meshkit-ai/meshkit/session"
	"github.com/meshkit-ai/meshkit/tool"
)

func TestMesh_TwoAgentExchange(t *testing.T) {
	store := session.NewInMemoryStore()
	m, err := New(mesh.Guards{MaxDepth: 4, MaxTotalCalls: 10, MaxSteps: 8},
		func(o *Options) { o.Store = store },
	)
	require.NoError(t, err)

	calcModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{{
			ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"6*7"}`),
		}}},
		model.Decision{Text: "42"},
	)
	_, err = m.RegisterAgent("calculations-agent", "Solves math problems.", calcModel,
		func(o *agent.Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)

	assistantModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{{
			ID: "a1", Name: "calculations_agent", Arguments: json.RawMessage(`{"prompt":"what is 6*7?"}`),
		}}},
		model.Decision{Text: "It is 42."},
	)
	_, err = m.RegisterAgent("assistant-agent", "General assistant.", assistantModel,
		func(o *agent.Options) { o.Tools = m.Peers("calculations-agent") },
	)
	require.NoError(t, err)

	resp, err := m.Ask(context.Background(), "assistant-agent", "what is 6*7?")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, "It is 42.", resp.Answer)
	assert.Equal(t, 2, resp.TotalCalls)
	assert.Len(t, resp.History["assistant-agent"], 1)
	assert.Len(t, resp.History["calculations-agent"], 1)

	// Both legs audited under the same exchange id.
	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, all[0].ExchangeID, all[1].ExchangeID)
}

func TestMesh_UnknownAgent(t *testing.T) {
	m, err := New(mesh.Guards{MaxDepth: 2, MaxTotalCalls: 2, MaxSteps: 2})
	require.NoError(t, err)

	_, err = m.Ask(context.Background(), "nobody", "hi")
	assert.Error(t, err)
}

func TestMesh_RequiresGuards(t *testing.T) {
	_, err := New(mesh.Guards{})
	assert.Error(t, err)
}

func TestMesh_DuplicateAgent(t *testing.T) {
	m, err := New(mesh.Guards{MaxDepth: 2, MaxTotalCalls: 2, MaxSteps: 2})
	require.NoError(t, err)

	_, err = m.RegisterAgent("a", "A.", model.NewScriptModel())
	require.NoError(t, err)
	_, err = m.RegisterAgent("a", "A.", model.NewScriptModel())
	assert.Error(t, err)
}
