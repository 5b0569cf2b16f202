package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

// ChatModel is the subset of the eino chat model used by the router.
// It is satisfied by model.ToolCallingChatModel and by fakes in tests.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Router maps free-form user text onto tool calls using an LLM.
// It never executes the calls it produces; callers hand the plan to
// the dispatcher.
type Router struct {
	config  domain.ClassifierConfig
	model   ChatModel
	metrics domain.Metrics
	logger  *zap.Logger
}

// Options configures a Router.
type Options struct {
	Config domain.ClassifierConfig
	// Model overrides the provider-initialized chat model. Used in tests.
	Model   ChatModel
	Metrics domain.Metrics
	Logger  *zap.Logger
}

// New creates a Router, initializing the chat model from config unless
// one is supplied in Options.
func New(ctx context.Context, opts Options) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}

	chatModel := opts.Model
	if chatModel == nil {
		m, err := initializeModel(ctx, opts.Config)
		if err != nil {
			return nil, fmt.Errorf("initialize model: %w", err)
		}
		chatModel = m
	}

	return &Router{
		config:  opts.Config,
		model:   chatModel,
		metrics: metrics,
		logger:  logger.Named("intent"),
	}, nil
}

// plannedCall is the wire shape the model is asked to produce.
type plannedCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Route asks the model for a plan over the tools in snapshot. A plan
// naming a tool absent from the snapshot gets exactly one correction
// round; if the corrected plan still names an unknown tool, Route
// returns ErrHallucinatedTool. An empty plan means no tool applies.
func (r *Router) Route(ctx context.Context, text string, snapshot domain.ToolSnapshot) ([]domain.ToolCall, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "intent.route", "empty input text", nil)
	}
	if len(snapshot.Tools) == 0 {
		return nil, nil
	}

	messages := []*schema.Message{
		schema.SystemMessage(planSystemPrompt),
		schema.UserMessage(r.buildPlanPrompt(text, snapshot)),
	}

	plan, raw, err := r.generatePlan(ctx, messages)
	if err != nil {
		return nil, err
	}

	invalid := invalidToolNames(plan, snapshot)
	if len(invalid) == 0 {
		return toToolCalls(plan), nil
	}

	r.logger.Warn("plan names unknown tools, retrying with correction",
		zap.Strings("invalid", invalid))

	messages = append(messages,
		schema.AssistantMessage(raw, nil),
		schema.UserMessage(r.buildCorrectionPrompt(invalid, snapshot)),
	)

	plan, _, err = r.generatePlan(ctx, messages)
	if err != nil {
		return nil, err
	}

	invalid = invalidToolNames(plan, snapshot)
	if len(invalid) > 0 {
		return nil, domain.E(domain.CodeNotFound, "intent.route",
			fmt.Sprintf("model insisted on unknown tools: %s", strings.Join(invalid, ", ")),
			domain.ErrHallucinatedTool)
	}
	return toToolCalls(plan), nil
}

// generatePlan runs one model round and parses its output.
func (r *Router) generatePlan(ctx context.Context, messages []*schema.Message) ([]plannedCall, string, error) {
	started := time.Now()
	response, err := r.model.Generate(ctx, messages)
	r.metrics.ObserveClassifier(r.config.Provider, r.config.Model, time.Since(started))
	if err != nil {
		return nil, "", fmt.Errorf("LLM generate: %w", err)
	}
	r.observeTokenUsage(response)

	plan, err := parsePlan(response.Content)
	if err != nil {
		return nil, response.Content, domain.E(domain.CodeRemote, "intent.route",
			fmt.Sprintf("unparseable plan: %v", err), err)
	}
	return plan, response.Content, nil
}

// buildPlanPrompt renders the user text and the tool catalog.
func (r *Router) buildPlanPrompt(text string, snapshot domain.ToolSnapshot) string {
	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(text)
	sb.WriteString("\n\nAvailable tools:\n")

	for _, t := range snapshot.Tools {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		for _, p := range t.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			sb.WriteString(fmt.Sprintf("    %s (%s, %s)\n", p.Name, p.Type, req))
		}
	}

	sb.WriteString("\nProduce the plan as a JSON array of calls. Use only the tools listed above.\n")
	sb.WriteString("Return an empty array if no tool applies. Do not include any other text.")
	return sb.String()
}

// buildCorrectionPrompt tells the model which names were invalid.
func (r *Router) buildCorrectionPrompt(invalid []string, snapshot domain.ToolSnapshot) string {
	names := make([]string, len(snapshot.Tools))
	for i, t := range snapshot.Tools {
		names[i] = t.Name
	}
	var sb strings.Builder
	sb.WriteString("These tools do not exist: ")
	sb.WriteString(strings.Join(invalid, ", "))
	sb.WriteString(".\nThe only valid tool names are: ")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString(".\nReturn a corrected JSON array of calls using only valid names, or an empty array.")
	return sb.String()
}

// parsePlan extracts the call list from model output. Models wrap JSON
// in code fences often enough that we strip them before decoding.
func parsePlan(content string) ([]plannedCall, error) {
	text := stripCodeFences(content)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	var plan []plannedCall
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		// Some models return a single object instead of an array, or
		// decline with {"action": "none"}.
		var one struct {
			plannedCall
			Action string `json:"action"`
		}
		if objErr := json.Unmarshal([]byte(text), &one); objErr == nil {
			if one.Tool != "" {
				return []plannedCall{one.plannedCall}, nil
			}
			if one.Action == "none" {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("invalid JSON plan: %w", err)
	}
	for _, call := range plan {
		if call.Tool == "" {
			return nil, fmt.Errorf("plan entry missing tool name")
		}
	}
	return plan, nil
}

func stripCodeFences(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func invalidToolNames(plan []plannedCall, snapshot domain.ToolSnapshot) []string {
	valid := make(map[string]bool, len(snapshot.Tools))
	for _, t := range snapshot.Tools {
		valid[t.Name] = true
	}
	var invalid []string
	seen := make(map[string]bool)
	for _, call := range plan {
		if valid[call.Tool] || seen[call.Tool] {
			continue
		}
		seen[call.Tool] = true
		invalid = append(invalid, call.Tool)
	}
	return invalid
}

func toToolCalls(plan []plannedCall) []domain.ToolCall {
	if len(plan) == 0 {
		return nil
	}
	calls := make([]domain.ToolCall, len(plan))
	for i, p := range plan {
		args := p.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls[i] = domain.ToolCall{Tool: p.Tool, Arguments: args}
	}
	return calls
}

func (r *Router) observeTokenUsage(response *schema.Message) {
	if response == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	r.metrics.ObserveClassifierTokens(r.config.Provider, r.config.Model, tokens)
}

const planSystemPrompt = `You are an intent router. Given a user request and a list of available tools, produce a plan of tool calls that fulfills the request.

Output only a JSON array where each element is {"tool": "<tool name>", "arguments": {<argument name>: <value>}}.
Example: [{"tool": "search_memories", "arguments": {"query": "standup notes"}}]

Use only tools from the provided list. Return an empty array [] if no tool is relevant. Do not include any extra text or formatting.`
