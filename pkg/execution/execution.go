package execution

// Context describes the host execution unit (a notebook cell) that a chat
// turn runs in. Both fields are optional; outside a notebook the zero value
// is used and cell-aware behavior switches off.
type Context struct {
	// CellKey is a stable identifier for the execution unit, surviving
	// reruns of the same unit.
	CellKey string
	// ExecutionCount is the host's monotonic execution counter, or nil when
	// the host does not expose one.
	ExecutionCount *int
}

// Provider reports the current execution context. It is polled once at the
// start of each chat turn; implementations wrap whatever host introspection
// is available (IPython shell, kernel hooks, a REPL line counter).
type Provider interface {
	Current() Context
}

// NullProvider is the Provider used outside any notebook host. It always
// reports an empty context.
type NullProvider struct{}

var _ Provider = (*NullProvider)(nil)

func (NullProvider) Current() Context {
	return Context{}
}

// ManualProvider lets embedding code set the execution context explicitly.
// Hosts without introspection hooks call Set before each turn.
type ManualProvider struct {
	current Context
}

var _ Provider = (*ManualProvider)(nil)

func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

func (p *ManualProvider) Set(cellKey string, executionCount int) {
	p.current = Context{
		CellKey:        cellKey,
		ExecutionCount: &executionCount,
	}
}

func (p *ManualProvider) Reset() {
	p.current = Context{}
}

func (p *ManualProvider) Current() Context {
	return p.current
}
