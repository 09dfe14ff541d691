package settings

import (
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoModel is returned when no layer resolves a model name. There is no
// silent fallback to an arbitrary model string.
var ErrNoModel = errors.New("no model specified: provide one via call parameters, session override, persona, or the host default")

// ParamModel is the key under which the model identifier travels through
// the layers. It is popped out of the resolved parameter bag because the
// model is always passed as a distinct call argument.
const ParamModel = "model"

// recognizedRequestParameters is the allow-list applied to persona-declared
// parameters. Session overrides and call parameters are passed through
// unfiltered; personas come from files and routinely carry non-API keys.
var recognizedRequestParameters = map[string]struct{}{
	"model":             {},
	"temperature":       {},
	"top_p":             {},
	"n":                 {},
	"stream":            {},
	"max_tokens":        {},
	"presence_penalty":  {},
	"frequency_penalty": {},
	"logit_bias":        {},
	"stop":              {},
}

// FilterRequestParameters keeps only recognized request parameters,
// logging each dropped key at debug level.
func FilterRequestParameters(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	kept := make(map[string]interface{}, len(params))
	for key, value := range params {
		if _, ok := recognizedRequestParameters[key]; !ok {
			log.Debug().Str("key", key).Msg("skipping unrecognized request parameter")
			continue
		}
		kept[key] = value
	}
	return kept
}

// Resolver computes the effective request configuration for one model call
// from four layered sources, lowest to highest precedence: the host default
// model, the active persona's declared parameters (allow-list filtered),
// session-level overrides, and call-scoped parameters.
type Resolver struct {
	defaultModel string
}

func NewResolver(defaultModel string) *Resolver {
	return &Resolver{defaultModel: defaultModel}
}

// Resolve merges the layers key by key, later layer winning, then pops the
// model identifier out of the bag. The inputs are never mutated; values are
// deep-copied into the result so that nested parameters such as logit_bias
// cannot alias caller state.
func (r *Resolver) Resolve(
	personaParams map[string]interface{},
	sessionOverrides map[string]interface{},
	callParams map[string]interface{},
) (string, map[string]interface{}, error) {
	merged := map[string]interface{}{}
	if r.defaultModel != "" {
		merged[ParamModel] = r.defaultModel
	}

	for key, value := range FilterRequestParameters(personaParams) {
		merged[key] = clone.Clone(value)
	}
	for key, value := range sessionOverrides {
		merged[key] = clone.Clone(value)
	}
	for key, value := range callParams {
		merged[key] = clone.Clone(value)
	}

	model, _ := merged[ParamModel].(string)
	delete(merged, ParamModel)

	if model == "" {
		return "", nil, ErrNoModel
	}

	log.Debug().
		Str("model", model).
		Int("param_count", len(merged)).
		Msg("resolved effective request configuration")
	return model, merged, nil
}
