// Package agent implements the Agentic Loop: one background goroutine per
// user turn that alternates LLM calls and tool dispatch until the model
// stops requesting tools, ported in shape from the teacher's
// pkg/agent/controller/react.go iteration loop onto spec.md §4.6's simpler
// single-agent, single-provider contract.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mundiai/agent-runtime/internal/cancelflag"
	"github.com/mundiai/agent-runtime/internal/convlock"
	"github.com/mundiai/agent-runtime/internal/dbgw"
	"github.com/mundiai/agent-runtime/internal/ephemeral"
	"github.com/mundiai/agent-runtime/internal/events"
	"github.com/mundiai/agent-runtime/internal/llm"
	"github.com/mundiai/agent-runtime/internal/mapstate"
	"github.com/mundiai/agent-runtime/internal/masking"
	"github.com/mundiai/agent-runtime/internal/metrics"
	"github.com/mundiai/agent-runtime/internal/models"
	"github.com/mundiai/agent-runtime/internal/objectstore"
	"github.com/mundiai/agent-runtime/internal/qgis"
	"github.com/mundiai/agent-runtime/internal/store"
	"github.com/mundiai/agent-runtime/internal/tools"
	"github.com/mundiai/agent-runtime/internal/tracing"
)

var tracer = tracing.Tracer("agentrtd/agent")

const (
	maxIterations        = 25
	unattachedLayerLimit = 10
)

// ErrConversationLocked is returned by StartTurn when another turn is
// already in flight for this conversation, per spec.md §4.6 step 1.
var ErrConversationLocked = errors.New("agent: conversation is locked by another turn")

// TurnRequest names the user, conversation, map, and content for one new
// turn of the agentic loop.
type TurnRequest struct {
	UserID          string
	ConversationID  string
	MapID           string
	Content         string
	SelectedFeature *mapstate.SelectedFeature
}

// StartResult is returned to the HTTP caller immediately after the user
// message and system context are persisted, before the loop itself runs.
type StartResult struct {
	Status         string `json:"status"`
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Loop owns everything one agentic turn needs: storage, the conversation
// lock and cancellation flag, the tool registry, and the LLM client.
type Loop struct {
	store     *store.Store
	gateway   *dbgw.Gateway
	userPools *dbgw.UserPool
	publisher *events.Publisher
	locker    *convlock.Locker
	cancel    *cancelflag.Flags
	registry  *tools.Registry
	llmClient *llm.Client
	objStore  *objectstore.Store
	qgis      *qgis.Client
}

// Deps groups Loop's constructor dependencies.
type Deps struct {
	Store       *store.Store
	Gateway     *dbgw.Gateway
	UserPools   *dbgw.UserPool
	Publisher   *events.Publisher
	Locker      *convlock.Locker
	Cancel      *cancelflag.Flags
	Registry    *tools.Registry
	LLMClient   *llm.Client
	ObjectStore *objectstore.Store
	QGIS        *qgis.Client
}

// NewLoop wires a Loop from its dependencies.
func NewLoop(d Deps) *Loop {
	return &Loop{
		store:     d.Store,
		gateway:   d.Gateway,
		userPools: d.UserPools,
		publisher: d.Publisher,
		locker:    d.Locker,
		cancel:    d.Cancel,
		registry:  d.Registry,
		llmClient: d.LLMClient,
		objStore:  d.ObjectStore,
		qgis:      d.QGIS,
	}
}

// StartTurn acquires the conversation lock, persists the map-state system
// message(s) and the user's message, then spawns the iteration loop as a
// detached background task and returns immediately, per spec.md §4.6 steps
// 1-4.
func (l *Loop) StartTurn(ctx context.Context, req TurnRequest) (*StartResult, error) {
	lock, err := l.locker.Acquire(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, convlock.ErrAlreadyLocked) {
			return nil, ErrConversationLocked
		}
		return nil, fmt.Errorf("agent: acquiring conversation lock: %w", err)
	}

	if err := l.persistSystemContext(ctx, req); err != nil {
		l.locker.Release(ctx, lock)
		return nil, err
	}

	userMsg := &models.Message{
		ConversationID: req.ConversationID,
		MapID:          req.MapID,
		SenderID:       req.UserID,
		Role:           models.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	msgID, err := l.store.InsertMessage(ctx, userMsg)
	if err != nil {
		l.locker.Release(ctx, lock)
		return nil, fmt.Errorf("agent: persisting user message: %w", err)
	}

	// The loop outlives this HTTP request; it gets its own background
	// context so a client disconnect never aborts an in-flight turn.
	go l.run(context.WithoutCancel(ctx), req, lock)

	return &StartResult{
		Status:         "processing_started",
		MessageID:      msgID,
		ConversationID: req.ConversationID,
	}, nil
}

// persistSystemContext builds and stores the <MapState>/<SelectedFeature>
// system message describing the map snapshot active when this turn began.
func (l *Loop) persistSystemContext(ctx context.Context, req TurnRequest) error {
	m, err := l.store.GetMap(ctx, req.MapID)
	if err != nil {
		return fmt.Errorf("agent: loading map for system context: %w", err)
	}
	layers, err := l.store.ListLayers(ctx, m.LayerIDs)
	if err != nil {
		return fmt.Errorf("agent: loading layers for system context: %w", err)
	}

	description := mapstate.Describe(m, layers)
	content, err := mapstate.SystemMessage(description, req.SelectedFeature)
	if err != nil {
		return fmt.Errorf("agent: assembling map-state system message: %w", err)
	}

	sysMsg := &models.Message{
		ConversationID: req.ConversationID,
		MapID:          req.MapID,
		SenderID:       req.UserID,
		Role:           models.RoleSystem,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if _, err := l.store.InsertMessage(ctx, sysMsg); err != nil {
		return fmt.Errorf("agent: persisting map-state system message: %w", err)
	}
	return nil
}

// run executes the bounded iteration loop for one turn and releases the
// conversation lock on every exit path, per spec.md §4.6.
func (l *Loop) run(ctx context.Context, req TurnRequest, lock *convlock.Lock) {
	defer l.locker.Release(ctx, lock)

	metrics.ActiveLoops.Inc()
	defer metrics.ActiveLoops.Dec()

	logger := slog.With("conversation_id", req.ConversationID, "map_id", req.MapID)

	for iteration := 0; iteration < maxIterations; iteration++ {
		cancelled, err := l.cancel.Consume(ctx, req.MapID)
		if err != nil {
			logger.Error("agent: checking cancellation flag", "error", err)
		}
		if cancelled {
			logger.Info("agent: turn cancelled by user", "iteration", iteration)
			return
		}

		done, err := l.iterate(ctx, req, logger)
		if err != nil {
			logger.Error("agent: iteration failed", "iteration", iteration, "error", masking.Mask(err.Error()))
			return
		}
		if done {
			return
		}
	}

	logger.Warn("agent: reached max iterations without a final turn", "max_iterations", maxIterations)
	l.forceConclusion(ctx, req, logger)
}

// iterate runs one LLM call plus any requested tool dispatches. It returns
// done=true when the model produced a tool-call-free turn (the natural end
// of this conversational exchange) or when an unrecoverable error
// terminated the loop early.
func (l *Loop) iterate(ctx context.Context, req TurnRequest, logger *slog.Logger) (done bool, err error) {
	ctx, span := tracer.Start(ctx, "agent.iterate", trace.WithAttributes(
		attribute.String("conversation_id", req.ConversationID),
		attribute.String("map_id", req.MapID),
	))
	defer span.End()
	defer func() {
		outcome := "continue"
		if err != nil {
			outcome = "error"
			span.SetStatus(codes.Error, err.Error())
		} else if done {
			outcome = "concluded"
		}
		metrics.LoopIterationsTotal.WithLabelValues(outcome).Inc()
	}()

	history, err := l.store.ListMessages(ctx, req.ConversationID)
	if err != nil {
		return true, fmt.Errorf("reading message history: %w", err)
	}

	unattached, err := l.store.UnattachedLayers(ctx, req.UserID, req.MapID, unattachedLayerLimit)
	if err != nil {
		logger.Warn("agent: listing unattached layers", "error", err)
	}

	messages := toLLMMessages(history)
	if layerList := describeUnattachedLayers(unattached); layerList != "" {
		messages = append([]llm.Message{{Role: "system", Content: layerList}}, messages...)
	}
	messages = append([]llm.Message{{Role: "system", Content: SystemPrompt()}}, messages...)

	thinkScope, scopeErr := ephemeral.Begin(ctx, l.publisher, req.ConversationID, "Kue is thinking...")
	if scopeErr != nil {
		logger.Warn("agent: opening thinking scope", "error", scopeErr)
	}
	resp, err := l.llmClient.Generate(ctx, messages, l.toolDefinitions())
	thinkScope.Close(ctx, false)

	if err != nil {
		return true, l.handleLLMError(ctx, req, err)
	}

	assistantMsg := &models.Message{
		ConversationID: req.ConversationID,
		MapID:          req.MapID,
		SenderID:       "kue",
		Role:           models.RoleAssistant,
		Content:        resp.Content,
		ToolCalls:      toolCallsFromResponse(resp),
		CreatedAt:      time.Now(),
	}
	if _, err := l.store.InsertMessage(ctx, assistantMsg); err != nil {
		return true, fmt.Errorf("persisting assistant message: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		return true, nil
	}

	for _, tc := range resp.ToolCalls {
		l.dispatchToolCall(ctx, req, tc)
	}
	return false, nil
}

// dispatchToolCall invokes one tool call inside its own ephemeral scope and
// persists the result as a tool message, per spec.md §4.6's per-call bullet.
func (l *Loop) dispatchToolCall(ctx context.Context, req TurnRequest, tc llm.ToolCall) {
	ctx, span := tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool", tc.Name),
		attribute.String("conversation_id", req.ConversationID),
	))
	defer span.End()

	scope, err := ephemeral.Begin(ctx, l.publisher, req.ConversationID, toolActionLabel(tc.Name))
	if err != nil {
		slog.Error("agent: opening tool ephemeral scope", "tool", tc.Name, "error", err)
	}

	rc := &tools.RequestContext{
		UserID:         req.UserID,
		MapID:          req.MapID,
		ConversationID: req.ConversationID,
		Store:          l.store,
		Gateway:        l.gateway,
		UserPools:      l.userPools,
		Publisher:      l.publisher,
		ObjectStore:    l.objStore,
		QGIS:           l.qgis,
		Cancel:         l.cancel,
	}

	result := l.registry.Call(ctx, rc, tc.Name, []byte(tc.Arguments))
	scope.Close(ctx, tc.Name == "set_layer_style")

	toolResultLabel := "ok"
	if _, isErr := result.(*tools.ToolError); isErr {
		toolResultLabel = "error"
		span.SetStatus(codes.Error, "tool handler returned an error")
	}
	metrics.ToolCallsTotal.WithLabelValues(tc.Name, toolResultLabel).Inc()

	toolMsg := &models.Message{
		ConversationID: req.ConversationID,
		MapID:          req.MapID,
		SenderID:       "kue",
		Role:           models.RoleTool,
		ToolCallID:     tc.ID,
		ToolResult:     marshalToolResult(result),
		CreatedAt:      time.Now(),
	}
	if _, err := l.store.InsertMessage(ctx, toolMsg); err != nil {
		slog.Error("agent: persisting tool message", "tool", tc.Name, "error", err)
	}
}

// handleLLMError classifies a failed LLM call into the user-visible
// notifications spec.md §4.6 names, publishes one, and returns the
// terminating error for the loop's run logger.
func (l *Loop) handleLLMError(ctx context.Context, req TurnRequest, err error) error {
	var userMessage string
	if errors.Is(err, llm.ErrContextLengthExceeded) {
		userMessage = "Maximum context length exceeded for this conversation. Please create a new chat to continue."
	} else {
		userMessage = "Error connecting to the language model. Please try again."
	}
	if pubErr := ephemeral.PublishError(ctx, l.publisher, req.ConversationID, userMessage); pubErr != nil {
		slog.Error("agent: publishing LLM error notification", "error", pubErr)
	}
	return err
}

// forceConclusion is a best-effort notice when the loop hits its iteration
// cap; it does not make an additional LLM call, since tool dispatch already
// persists every intermediate result the user can see.
func (l *Loop) forceConclusion(ctx context.Context, req TurnRequest, logger *slog.Logger) {
	if err := ephemeral.PublishError(ctx, l.publisher, req.ConversationID,
		"Reached the maximum number of steps for this turn."); err != nil {
		logger.Error("agent: publishing max-iterations notice", "error", err)
	}
}

func (l *Loop) toolDefinitions() []llm.ToolDefinition {
	list := l.registry.List()
	out := make([]llm.ToolDefinition, 0, len(list))
	for _, t := range list {
		out = append(out, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
		})
	}
	return out
}

// toolActionLabel renders the ephemeral scope's human-readable action text
// for a given tool call, mirroring spec.md §4.6's examples
// ("QGIS running native:buffer...", "Querying PostgreSQL database...").
func toolActionLabel(toolName string) string {
	switch toolName {
	case "query_postgis_database":
		return "Querying PostgreSQL database..."
	case "query_duckdb_sql":
		return "Querying vector data..."
	case "new_layer_from_postgis":
		return "Creating layer from PostGIS..."
	case "set_layer_style":
		return "Updating layer style..."
	case "add_layer_to_map":
		return "Adding layer to map..."
	case "download_from_openstreetmap":
		return "Downloading from OpenStreetMap..."
	case "zoom_to_bounds":
		return "Zooming to bounds..."
	default:
		return fmt.Sprintf("QGIS running %s...", qgisAlgorithmLabel(toolName))
	}
}

func qgisAlgorithmLabel(toolName string) string {
	id := toolName
	for i, r := range id {
		if r == '_' {
			return id[:i] + ":" + id[i+1:]
		}
	}
	return id
}
