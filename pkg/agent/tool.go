package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ToolResult is the output of one tool execution.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool

	// NeedsApproval is set by policy wrapping (not by the tool itself) when
	// the call must be parked for a human decision instead of executed.
	NeedsApproval bool
}

// Tool is one callable capability. ReadOnly gates both the non-read-only
// drop in non-private chats and the response cache (§4.9).
type Tool interface {
	Definition() ToolDefinition
	ReadOnly() bool
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolExecutor abstracts the full tool surface available to a turn.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	Close() error
}

const (
	toolExecuteTimeout = 20 * time.Second
	readOnlyCacheTTL   = 30 * time.Second
	// advancedComputeSizeThreshold is the input-JSON byte size past which an
	// otherwise-unmarked "advanced compute" tool still requires approval.
	advancedComputeSizeThreshold = 6000
)

// ToolClass groups tools for the default needs-approval decision, before any
// size-based override.
type ToolClass string

const (
	ToolClassReadOnly        ToolClass = "read_only"
	ToolClassCriticalWrite   ToolClass = "critical_write"
	ToolClassAdvancedCompute ToolClass = "advanced_compute"
)

// PolicyTool pairs a Tool with the classification policy-wrapping needs; set
// by whatever builds the tool catalogue (not inferred at call time).
type PolicyTool struct {
	Tool
	Class      ToolClass
	SecretName string // non-empty => always dropped, never listed or callable
}

// PolicyExecutor wraps a tool catalogue with the §4.9 safety policy:
//   - secrets-denylisted tools are dropped entirely
//   - non-read-only tools are dropped outside private chats
//   - every execution gets a 20s timeout
//   - read-only results are cached for 30s, keyed by (name, canonical input)
//   - critical writes and oversized advanced-compute calls are flagged
//     NeedsApproval instead of executed
type PolicyExecutor struct {
	tools         map[string]PolicyTool
	isPrivateChat bool

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result   *ToolResult
	cachedAt time.Time
}

// NewPolicyExecutor builds a policy-wrapped executor from a catalogue. Tools
// with a non-empty SecretName, or non-read-only tools in a non-private chat,
// are excluded from both Execute and ListTools.
func NewPolicyExecutor(catalogue []PolicyTool, isPrivateChat bool) *PolicyExecutor {
	tools := make(map[string]PolicyTool, len(catalogue))
	for _, t := range catalogue {
		if t.SecretName != "" {
			continue
		}
		if !t.ReadOnly() && !isPrivateChat {
			continue
		}
		tools[t.Definition().Name] = t
	}
	return &PolicyExecutor{tools: tools, isPrivateChat: isPrivateChat, cache: map[string]cacheEntry{}}
}

func (p *PolicyExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	defs := make([]ToolDefinition, 0, len(p.tools))
	for _, t := range p.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func (p *PolicyExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	t, ok := p.tools[call.Name]
	if !ok {
		return &ToolResult{CallID: call.ID, Name: call.Name, Content: fmt.Sprintf("tool %q is not available", call.Name), IsError: true}, nil
	}

	if needsApproval(t.Class, call.Arguments) {
		return &ToolResult{CallID: call.ID, Name: call.Name, NeedsApproval: true}, nil
	}

	if t.ReadOnly() {
		if cached, ok := p.cachedResult(call); ok {
			return cached, nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, toolExecuteTimeout)
	defer cancel()

	result, err := t.Execute(execCtx, call)
	if err != nil {
		return &ToolResult{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}, nil
	}

	if t.ReadOnly() {
		p.storeCache(call, result)
	}
	return result, nil
}

func (p *PolicyExecutor) Close() error { return nil }

// needsApproval implements §4.9's tool-policy classification: critical
// writes always need approval; advanced-compute calls need it only once
// their input grows past the size threshold (a cheap proxy for "complex
// enough to warrant a human look").
func needsApproval(class ToolClass, arguments string) bool {
	switch class {
	case ToolClassCriticalWrite:
		return true
	case ToolClassAdvancedCompute:
		return len(arguments) >= advancedComputeSizeThreshold
	default:
		return false
	}
}

func cacheKey(call ToolCall) string {
	canon := canonicalizeJSON(call.Arguments)
	sum := sha256.Sum256([]byte(call.Name + "\x00" + canon))
	return hex.EncodeToString(sum[:])
}

// canonicalizeJSON re-marshals arguments with sorted keys so semantically
// identical calls share a cache entry regardless of field order; falls back
// to the raw string if it isn't valid JSON.
func canonicalizeJSON(arguments string) string {
	var v interface{}
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return arguments
	}
	b, err := json.Marshal(v)
	if err != nil {
		return arguments
	}
	return string(b)
}

func (p *PolicyExecutor) cachedResult(call ToolCall) (*ToolResult, bool) {
	key := cacheKey(call)
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[key]
	if !ok || time.Since(entry.cachedAt) > readOnlyCacheTTL {
		return nil, false
	}
	cloned := *entry.result
	cloned.CallID = call.ID
	return &cloned, true
}

func (p *PolicyExecutor) storeCache(call ToolCall, result *ToolResult) {
	key := cacheKey(call)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cacheEntry{result: result, cachedAt: time.Now()}
}
