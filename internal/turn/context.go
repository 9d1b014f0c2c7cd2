package turn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// Context is the per-turn container for the cancellation token and the tool
// results produced during the turn. Results are stamped with the turn ID so
// stale results from a cancelled turn can never leak into a later one.
type Context struct {
	id    string
	token *CancellationToken

	mu      sync.Mutex
	results []models.ToolResult
}

// NewContext creates a turn context with a fresh ID and token.
func NewContext() *Context {
	return &Context{
		id:    "turn-" + uuid.NewString(),
		token: NewCancellationToken(),
	}
}

// ID returns the turn's unique identifier.
func (c *Context) ID() string { return c.id }

// Token returns the turn's cancellation token.
func (c *Context) Token() *CancellationToken { return c.token }

// Cancel cancels the turn's token.
func (c *Context) Cancel() { c.token.Cancel() }

// IsCancelled reports whether the turn has been cancelled.
func (c *Context) IsCancelled() bool { return c.token.IsCancelled() }

// AddToolResult clones the result, stamps it with this turn's ID, and
// appends it. Results arriving after cancellation are dropped.
func (c *Context) AddToolResult(r models.ToolResult) bool {
	if c.token.IsCancelled() {
		return false
	}
	clone := r.Clone()
	clone.TurnID = c.id

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, clone)
	return true
}

// ToolResults returns a copy of the accumulated results in append order.
func (c *Context) ToolResults() []models.ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ToolResult, len(c.results))
	copy(out, c.results)
	return out
}
