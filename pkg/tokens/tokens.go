package tokens

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec(model string) tokenizer.Codec {
	if model != "" {
		if c, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
			return c
		}
	}
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("could not load cl100k_base codec, falling back to estimation")
			return
		}
		codec = c
	})
	return codec
}

// Count returns the number of tokens in text for the given model. Unknown
// models fall back to the cl100k_base encoding; if no codec can be loaded at
// all, a rough 4-characters-per-token estimate is returned instead.
func Count(text string, model string) int {
	if text == "" {
		return 0
	}
	c := getCodec(model)
	if c == nil {
		return estimate(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		log.Warn().Err(err).Msg("token encoding failed, falling back to estimation")
		return estimate(text)
	}
	return len(ids)
}

func estimate(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
