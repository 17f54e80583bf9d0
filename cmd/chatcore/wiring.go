package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/chatbridge/core/pkg/agent"
	"github.com/chatbridge/core/pkg/agent/anthropic"
	"github.com/chatbridge/core/pkg/agent/langchain"
	"github.com/chatbridge/core/pkg/config"
	"github.com/chatbridge/core/pkg/preferences"
	"github.com/chatbridge/core/pkg/queue"
	"github.com/chatbridge/core/pkg/ratelimit"
	"github.com/chatbridge/core/pkg/router"
	"github.com/chatbridge/core/pkg/transport"
	"github.com/chatbridge/core/pkg/transport/slack"
	"github.com/chatbridge/core/pkg/updatestore"
)

func ratelimitConfigFrom(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		ChatMinuteMax:     cfg.RateLimit.ChatMinuteMax,
		UserBurstMax:      cfg.RateLimit.UserBurstMax,
		BurstWindow:       cfg.RateLimit.BurstWindow,
		UserMinuteMax:     cfg.RateLimit.UserMinuteMax,
		UserDailyMax:      cfg.RateLimit.UserDailyMax,
		TrustedMultiplier: cfg.RateLimit.TrustedMultiplier,
		TrustedUserIDs:    cfg.TrustedUserIDs,
		NoticeCooldown:    cfg.RateLimit.NoticeCooldown,
	}
}

// modelResolver implements agent.ModelResolver over the YAML-loaded
// provider registry and model chain: each chain entry becomes one
// ModelAttempt, built once at startup rather than per-turn, since the SDK
// clients hold no per-call state worth re-creating.
type modelResolver struct {
	chain []agent.ModelAttempt
	byID  map[string]int // provider name -> index in chain
}

func newModelResolver(cfg *config.Config) *modelResolver {
	r := &modelResolver{byID: make(map[string]int, len(cfg.ModelChain))}

	for _, name := range cfg.ModelChain {
		provider, err := cfg.GetLLMProvider(name)
		if err != nil {
			log.Fatalf("model chain entry %q: %v", name, err)
		}

		client, err := buildLLMClient(provider)
		if err != nil {
			log.Fatalf("construct client for provider %q: %v", name, err)
		}

		r.byID[name] = len(r.chain)
		r.chain = append(r.chain, agent.ModelAttempt{
			Provider: &agent.ProviderConfig{
				Type:      string(provider.Type),
				Model:     provider.Model,
				APIKeyEnv: provider.APIKeyEnv,
				BaseURL:   provider.BaseURL,
			},
			Client: client,
		})
	}
	return r
}

func buildLLMClient(p *config.LLMProviderConfig) (agent.LLMClient, error) {
	apiKey := envOrEmpty(p.APIKeyEnv)

	switch p.Type {
	case config.LLMProviderTypeAnthropic:
		return anthropic.New(p.Model, apiKey, p.BaseURL), nil
	case config.LLMProviderTypeLangchain:
		return langchain.New(p.Model, apiKey, p.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

// Resolve returns the attempt chain starting at modelID's position, so a
// turn pinned to a specific entry still falls back to whatever follows it
// in the configured order. An unrecognized or empty modelID falls back to
// the chain from the top.
func (r *modelResolver) Resolve(modelID string) ([]agent.ModelAttempt, error) {
	if len(r.chain) == 0 {
		return nil, fmt.Errorf("model chain is empty")
	}
	if idx, ok := r.byID[modelID]; ok {
		return r.chain[idx:], nil
	}
	return r.chain, nil
}

// emptyToolCatalogueFactory builds a PolicyExecutor with no tools wired in.
// Domain-specific tools are an external collaborator this core only
// specifies an interface for; a deployment plugs its own catalogue in by
// replacing this factory with one that builds a non-empty []agent.PolicyTool.
type emptyToolCatalogueFactory struct{}

func (emptyToolCatalogueFactory) Build(isPrivateChat bool) agent.ToolExecutor {
	return agent.NewPolicyExecutor(nil, isPrivateChat)
}

// stubCommandHandler acknowledges /start and /cancel with a fixed notice;
// every other command, /network included, gets an empty reply. Command behavior itself is an external collaborator (§1); a real
// deployment replaces this with logic that edits preferences, cancels a
// pending turn, etc.
type stubCommandHandler struct{}

func (stubCommandHandler) HandleCommand(ctx context.Context, cmd router.Command) (string, error) {
	switch cmd.Name {
	case "/start":
		return "Welcome! Send a message to get started.", nil
	case "/cancel":
		return "Nothing to cancel.", nil
	default:
		return "", nil
	}
}

// settingsHandler applies a "cfg:" callback directly through the
// preferences resolver: this is core functionality (unlike the tool
// catalogue or wallet custody), so it is wired for real rather than
// stubbed.
type settingsHandler struct {
	prefs *preferences.Resolver
}

func (h settingsHandler) HandleSettingsCallback(ctx context.Context, cb router.SettingsCallback, upd router.InboundUpdate) (string, error) {
	update := preferences.UserUpdate{}
	switch cb.Section {
	case "response_style":
		style := agent.ResponseStyle(cb.Value)
		update.ResponseStyle = &style
	case "risk_profile":
		profile := agent.RiskProfile(cb.Value)
		update.RiskProfile = &profile
	case "network":
		update.Network = &cb.Value
	default:
		return "", nil
	}

	if err := h.prefs.UpsertUser(ctx, upd.UserID, update); err != nil {
		return "", fmt.Errorf("apply settings: %w", err)
	}
	return fmt.Sprintf("Updated %s to %s.", cb.Section, cb.Value), nil
}

// stubWalletHandler acknowledges wallet callbacks without touching any
// custody logic, which this core explicitly never implements (Non-goal:
// "managing cryptocurrency custody").
type stubWalletHandler struct{}

func (stubWalletHandler) HandleWalletCallback(ctx context.Context, cb router.WalletCallback, upd router.InboundUpdate) (string, error) {
	return "Wallet management is handled outside this service.", nil
}

// transportDraftSink adapts one chat's streaming updates to transport.Transport.
type transportDraftSink struct {
	bot      transport.Transport
	chatID   string
	threadID string
	draftID  string
}

func (d transportDraftSink) SendDraft(ctx context.Context, text string) error {
	err := d.bot.SendDraft(ctx, d.chatID, d.draftID, text, transport.SendTextOptions{ThreadID: d.threadID})
	if err == transport.ErrUnsupported {
		return nil
	}
	return err
}

// newUpdatesWorkerPool builds the "updates" queue's worker pool: each job
// carries an update id, which the handler resolves back to its stored raw
// payload, decodes into a router.InboundUpdate, and routes. A resulting
// Turn is forwarded to the "agent-turns" queue; a Notice is sent directly.
func newUpdatesWorkerPool(podID string, updatesBroker, agentTurnsBroker *queue.Broker, workerN int, updateStore *updatestore.Store, rt *router.Router, bot transport.Transport) *queue.WorkerPool {
	handler := func(ctx context.Context, job *queue.Job) error {
		var updateID int64
		if _, err := fmt.Sscanf(string(job.Payload), "%d", &updateID); err != nil {
			return fmt.Errorf("decode update id from job payload: %w", err)
		}

		row, err := updateStore.Get(ctx, updateID)
		if err != nil {
			return fmt.Errorf("load update %d: %w", updateID, err)
		}

		upd, err := slack.DecodeInboundUpdate(row.RawPayload)
		if err != nil {
			if markErr := updateStore.MarkFailed(ctx, updateID, err); markErr != nil {
				slog.Error("mark update failed also failed", "update_id", updateID, "error", markErr)
			}
			return nil // malformed payload isn't retryable; don't requeue it forever
		}

		outcome, err := rt.Route(ctx, upd)
		if err != nil {
			return fmt.Errorf("route update %d: %w", updateID, err)
		}

		if outcome.Turn != nil {
			payload, err := json.Marshal(outcome.Turn)
			if err != nil {
				return fmt.Errorf("encode turn request: %w", err)
			}
			jobID := fmt.Sprintf("turn-%s", outcome.Turn.CorrelationID)
			if err := agentTurnsBroker.Enqueue(ctx, jobID, payload, queue.EnqueueOptions{}); err != nil {
				return fmt.Errorf("enqueue agent turn: %w", err)
			}
		} else if outcome.Notice != "" {
			if err := bot.SendText(ctx, upd.ChatID, outcome.Notice, transport.SendTextOptions{ThreadID: upd.ThreadID}); err != nil {
				slog.Warn("send routing notice failed", "chat_id", upd.ChatID, "error", err)
			}
		}

		return updateStore.MarkProcessed(ctx, updateID)
	}

	return queue.NewWorkerPool(podID, updatesBroker, workerN, handler)
}

// agentTurnHandler builds the "agent-turns" queue's handler: decode the
// turn request, run it through the executor, and deliver the result text.
func agentTurnHandler(executor *agent.Executor, bot transport.Transport) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var req agent.TurnExecutionRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return fmt.Errorf("decode turn request: %w", err)
		}

		draft := transportDraftSink{bot: bot, chatID: req.ChatID, threadID: req.ThreadID, draftID: req.CorrelationID}

		result, err := executor.Run(ctx, req, draft)
		if err != nil {
			return fmt.Errorf("run turn %s: %w", req.CorrelationID, err)
		}

		if result.Text == "" {
			return nil
		}
		if err := bot.SendText(ctx, req.ChatID, result.Text, transport.SendTextOptions{ThreadID: req.ThreadID}); err != nil {
			return fmt.Errorf("send turn result: %w", err)
		}
		return nil
	}
}

// deadletterHandler builds the "retry-deadletter" queue's handler: jobs
// arriving here already exhausted every attempt on their origin queue
// (§4.3), so this handler only records them for operator visibility rather
// than ever retrying them again.
func deadletterHandler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var envelope struct {
			OriginQueue string `json:"origin_queue"`
			LastError   string `json:"last_error"`
		}
		if err := json.Unmarshal(job.Payload, &envelope); err != nil {
			slog.Error("dead-lettered job has an undecodable envelope", "job_id", job.ID, "error", err)
			return nil
		}
		slog.Error("job exhausted its retry budget",
			"job_id", job.ID, "origin_queue", envelope.OriginQueue, "last_error", envelope.LastError)
		return nil
	}
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return getEnv(name, "")
}
