package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	def      ToolDefinition
	readOnly bool
	calls    int
	result   *ToolResult
	err      error
}

func (t *fakeTool) Definition() ToolDefinition { return t.def }
func (t *fakeTool) ReadOnly() bool             { return t.readOnly }
func (t *fakeTool) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

func TestPolicyExecutor_DropsSecretDenylistedTools(t *testing.T) {
	secret := &fakeTool{def: ToolDefinition{Name: "admin.reset"}, readOnly: true}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: secret, Class: ToolClassReadOnly, SecretName: "admin_key"}}, true)

	defs, err := exec.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestPolicyExecutor_DropsNonReadOnlyInGroupChat(t *testing.T) {
	write := &fakeTool{def: ToolDefinition{Name: "wallet.send"}, readOnly: false}
	read := &fakeTool{def: ToolDefinition{Name: "wallet.balance"}, readOnly: true}
	exec := NewPolicyExecutor([]PolicyTool{
		{Tool: write, Class: ToolClassCriticalWrite},
		{Tool: read, Class: ToolClassReadOnly},
	}, false)

	defs, err := exec.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "wallet.balance", defs[0].Name)
}

func TestPolicyExecutor_KeepsNonReadOnlyInPrivateChat(t *testing.T) {
	write := &fakeTool{def: ToolDefinition{Name: "wallet.send"}, readOnly: false}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: write, Class: ToolClassCriticalWrite}}, true)

	defs, err := exec.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestPolicyExecutor_CriticalWriteAlwaysNeedsApproval(t *testing.T) {
	write := &fakeTool{
		def: ToolDefinition{Name: "wallet.send"}, readOnly: false,
		result: &ToolResult{Content: "sent"},
	}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: write, Class: ToolClassCriticalWrite}}, true)

	result, err := exec.Execute(context.Background(), ToolCall{ID: "c1", Name: "wallet.send", Arguments: `{"amount":1}`})
	require.NoError(t, err)
	assert.True(t, result.NeedsApproval)
	assert.Equal(t, 0, write.calls, "a call needing approval must not actually execute")
}

func TestPolicyExecutor_AdvancedComputeNeedsApprovalOnlyWhenLarge(t *testing.T) {
	compute := &fakeTool{
		def: ToolDefinition{Name: "sim.run"}, readOnly: false,
		result: &ToolResult{Content: "ok"},
	}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: compute, Class: ToolClassAdvancedCompute}}, true)

	small, err := exec.Execute(context.Background(), ToolCall{ID: "c1", Name: "sim.run", Arguments: `{"x":1}`})
	require.NoError(t, err)
	assert.False(t, small.NeedsApproval)

	big := `{"x":"` + strings.Repeat("a", advancedComputeSizeThreshold) + `"}`
	large, err := exec.Execute(context.Background(), ToolCall{ID: "c2", Name: "sim.run", Arguments: big})
	require.NoError(t, err)
	assert.True(t, large.NeedsApproval)
}

func TestPolicyExecutor_CachesReadOnlyResultsByCanonicalInput(t *testing.T) {
	read := &fakeTool{
		def: ToolDefinition{Name: "wallet.balance"}, readOnly: true,
		result: &ToolResult{Content: "12.4 TON"},
	}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: read, Class: ToolClassReadOnly}}, true)
	ctx := context.Background()

	_, err := exec.Execute(ctx, ToolCall{ID: "c1", Name: "wallet.balance", Arguments: `{"a":1,"b":2}`})
	require.NoError(t, err)
	// Same logical input, different key order: should hit the cache, not re-execute.
	_, err = exec.Execute(ctx, ToolCall{ID: "c2", Name: "wallet.balance", Arguments: `{"b":2,"a":1}`})
	require.NoError(t, err)

	assert.Equal(t, 1, read.calls)
}

func TestPolicyExecutor_WriteToolsAreNeverCached(t *testing.T) {
	write := &fakeTool{
		def: ToolDefinition{Name: "wallet.link"}, readOnly: false,
		result: &ToolResult{Content: "linked"},
	}
	exec := NewPolicyExecutor([]PolicyTool{{Tool: write, Class: ToolClassReadOnly}}, true)
	// Class read_only keeps it listed/callable without approval, but
	// ReadOnly() on the tool itself is what the cache check uses.
	ctx := context.Background()
	_, _ = exec.Execute(ctx, ToolCall{ID: "c1", Name: "wallet.link", Arguments: `{}`})
	_, _ = exec.Execute(ctx, ToolCall{ID: "c2", Name: "wallet.link", Arguments: `{}`})
	assert.Equal(t, 2, write.calls)
}

func TestPolicyExecutor_UnknownToolReturnsErrorResultNotGoError(t *testing.T) {
	exec := NewPolicyExecutor(nil, true)
	result, err := exec.Execute(context.Background(), ToolCall{ID: "c1", Name: "nope"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
