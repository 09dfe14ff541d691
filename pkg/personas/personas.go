package personas

import (
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a persona name resolves to nothing.
var ErrNotFound = errors.New("persona not found")

// Persona is a named bundle of a system prompt plus default request
// parameters. Params may contain keys that are not request parameters;
// the settings resolver filters them at use time.
type Persona struct {
	Name          string                 `yaml:"name,omitempty"`
	SystemMessage string                 `yaml:"system_message"`
	Params        map[string]interface{} `yaml:"params,omitempty"`

	// Source records where the persona was loaded from (file path, "memory").
	Source string `yaml:"-"`
}

func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	return clone.Clone(p).(*Persona)
}

// Provider resolves persona names for a session.
type Provider interface {
	Get(name string) (*Persona, error)
	List() ([]string, error)
}
