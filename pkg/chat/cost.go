package chat

import (
	"strings"

	"github.com/go-go-golems/spellbook/pkg/llm"
)

type tokenRates struct {
	inputPerToken  float64
	outputPerToken float64
}

// Rough published per-token rates, matched by model prefix. Unknown models
// fall through to a generic rate so cost metadata is always present.
var costTable = []struct {
	prefix string
	rates  tokenRates
}{
	{"gpt-4o-mini", tokenRates{0.00000015, 0.0000006}},
	{"gpt-4o", tokenRates{0.0000025, 0.00001}},
	{"gpt-4", tokenRates{0.00003, 0.00006}},
	{"gpt-3.5", tokenRates{0.0000005, 0.0000015}},
}

var defaultRates = tokenRates{0.000001, 0.000002}

func estimateCost(model string, usage *llm.Usage) float64 {
	if usage == nil {
		return 0
	}
	rates := defaultRates
	for _, entry := range costTable {
		if strings.HasPrefix(model, entry.prefix) {
			rates = entry.rates
			break
		}
	}
	return float64(usage.InputTokens)*rates.inputPerToken + float64(usage.OutputTokens)*rates.outputPerToken
}
