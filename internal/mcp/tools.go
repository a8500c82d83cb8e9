package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"signalhub/internal/domain"
	"signalhub/internal/gateway"
	"signalhub/internal/routing/escalation"

	"github.com/xeipuuv/gojsonschema"
)

// queryArgsSchema is shared by the query-shaped tools.
func queryArgsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The question or request to process",
			},
			"limit": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 50,
			},
			"language": map[string]any{
				"type": "string",
				"enum": []any{"go", "python", "javascript", "typescript", "rust", "java", "other"},
			},
			"file_pattern": map[string]any{"type": "string"},
			"min_score": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"session_id": map[string]any{"type": "string"},
			"user_id":    map[string]any{"type": "string"},
			"model": map[string]any{
				"type": "string",
				"enum": []any{"small", "medium", "large"},
			},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

func escalateArgsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"model": map[string]any{
				"type": "string",
				"enum": []any{"medium", "large"},
			},
			"reason": map[string]any{"type": "string"},
			"duration": map[string]any{
				"type": "string",
				"enum": []any{"single", "session"},
			},
			"session_id": map[string]any{"type": "string"},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

type toolHandler func(ctx context.Context, args map[string]any) (any, error)

type tool struct {
	def     ToolDefinition
	schema  *gojsonschema.Schema
	handler toolHandler
}

type toolset struct {
	gateway    *gateway.Service
	sessions   *escalation.SessionManager
	costFactor func(domain.ModelTier) float64
	tools      []*tool
	byName     map[string]*tool
}

func newToolset(gw *gateway.Service, sessions *escalation.SessionManager, costFactor func(domain.ModelTier) float64) *toolset {
	ts := &toolset{
		gateway:    gw,
		sessions:   sessions,
		costFactor: costFactor,
		byName:     make(map[string]*tool),
	}

	queryTools := []struct{ name, desc string }{
		{"search_code", "Search the codebase for relevant snippets"},
		{"explain_code", "Explain what a piece of code does"},
		{"find_similar", "Find code similar to the given fragment"},
		{"get_context", "Assemble relevant context for a question"},
	}
	for _, qt := range queryTools {
		name := qt.name
		ts.register(name, qt.desc, queryArgsSchema(), func(ctx context.Context, args map[string]any) (any, error) {
			return ts.handleQuery(ctx, name, args)
		})
	}
	ts.register("escalate_query", "Run a query on a stronger model, optionally for the rest of the session",
		escalateArgsSchema(), ts.handleEscalate)

	return ts
}

func (ts *toolset) register(name, description string, schemaDoc map[string]any, handler toolHandler) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		panic(fmt.Sprintf("tool %s schema: %v", name, err))
	}
	t := &tool{
		def:     ToolDefinition{Name: name, Description: description, InputSchema: schemaDoc},
		schema:  schema,
		handler: handler,
	}
	ts.tools = append(ts.tools, t)
	ts.byName[name] = t
}

func (ts *toolset) definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(ts.tools))
	for _, t := range ts.tools {
		defs = append(defs, t.def)
	}
	return defs
}

func (ts *toolset) call(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	t, ok := ts.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	validation, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, fmt.Errorf("%w: validating arguments: %v", domain.ErrInvalidInput, err)
	}
	if !validation.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, validation.Errors()[0].String())
	}

	result, err := t.handler(ctx, args)
	if err != nil {
		return nil, err
	}
	return wrapResult(result)
}

func (ts *toolset) handleQuery(ctx context.Context, toolName string, args map[string]any) (any, error) {
	q := domain.Query{
		Text:     argString(args, "query"),
		ToolName: toolName,
		UserID:   argString(args, "user_id"),
	}
	if lang := argString(args, "language"); lang != "" {
		q.Context = map[string]string{"language": lang}
	}
	if model := argString(args, "model"); model != "" {
		if tier, ok := domain.ParseTier(model); ok {
			q.PreferredModel = tier
		}
	}

	resp, err := ts.gateway.Handle(ctx, q, argString(args, "session_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":        true,
		"outcome":        domain.OutcomeOK,
		"content":        resp.Content,
		"model":          resp.Model,
		"cached":         resp.Cached,
		"similarity":     resp.Similarity,
		"routing_reason": resp.RoutingReason,
		"cost_usd":       resp.CostUSD,
		"savings_usd":    resp.SavingsUSD,
		"latency_ms":     resp.LatencyMs,
	}, nil
}

func (ts *toolset) handleEscalate(ctx context.Context, args map[string]any) (any, error) {
	model := domain.TierLarge
	if m := argString(args, "model"); m != "" {
		tier, ok := domain.ParseTier(m)
		if !ok {
			return nil, fmt.Errorf("%w: model %q", domain.ErrUnknownModel, m)
		}
		model = tier
	}
	duration := argString(args, "duration")
	if duration == "" {
		duration = "single"
	}
	reason := argString(args, "reason")
	sessionID := argString(args, "session_id")

	if duration == "session" {
		if sessionID == "" {
			return nil, fmt.Errorf("%w: session escalation requires session_id", domain.ErrInvalidInput)
		}
		if _, err := ts.sessions.Escalate(sessionID, model, 0, reason); err != nil {
			return nil, err
		}
	}

	q := domain.Query{
		Text:           argString(args, "query"),
		ToolName:       "escalate_query",
		PreferredModel: model,
	}
	resp, err := ts.gateway.Handle(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}

	ack := map[string]any{
		"success":              true,
		"outcome":              domain.OutcomeOK,
		"content":              resp.Content,
		"model":                resp.Model,
		"escalated_to":         model,
		"duration":             duration,
		"cost_usd":             resp.CostUSD,
		"times_more_expensive": ts.costFactor(model),
	}
	if duration == "session" {
		ack["session_expires_in"] = escalation.DefaultSessionDuration.String()
	}
	return ack, nil
}

func wrapResult(result any) (*CallToolResult, error) {
	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(text)}},
	}, nil
}

// argString reads an optional string argument.
func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
