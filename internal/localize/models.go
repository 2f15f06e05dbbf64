package localize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/core/config/modelconfig"
	"basegraph.app/localizer/internal/budget"
)

// DefaultCallTimeout bounds a single ranking call once it has started.
const DefaultCallTimeout = 2 * time.Minute

// ModelCaller sends a request to the model configured for task.
type ModelCaller interface {
	Call(ctx context.Context, task modelconfig.Task, req llm.Request) (*llm.Response, error)
}

// TaskModels routes each task to a client for its configured model. Clients
// are created on first use, so building one makes no network calls.
type TaskModels struct {
	base      llm.Config
	tasks     budget.TaskConfigs
	newClient func(llm.Config) (llm.Client, error)

	mu      sync.Mutex
	clients map[string]llm.Client
}

func NewTaskModels(base llm.Config, tasks budget.TaskConfigs) *TaskModels {
	return &TaskModels{
		base:      base,
		tasks:     tasks,
		newClient: llm.New,
		clients:   make(map[string]llm.Client),
	}
}

func (m *TaskModels) Call(ctx context.Context, task modelconfig.Task, req llm.Request) (*llm.Response, error) {
	tc, err := m.tasks.Task(task)
	if err != nil {
		return nil, err
	}

	client, err := m.client(tc.Model)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", tc.Model, err)
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = tc.MaxTokens
	}
	return client.Chat(ctx, req)
}

func (m *TaskModels) client(model string) (llm.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[model]; ok {
		return c, nil
	}

	cfg := m.base
	cfg.Model = model
	c, err := m.newClient(cfg)
	if err != nil {
		return nil, err
	}
	m.clients[model] = c
	return c, nil
}

// callModel checks for cancellation once, then runs the call detached from
// the caller so an in-flight request completes or hits its own timeout.
func callModel(ctx context.Context, models ModelCaller, task modelconfig.Task, req llm.Request, timeout time.Duration) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return models.Call(callCtx, task, req)
}
