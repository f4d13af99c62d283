// Package tokens estimates token counts for streamed agent content. The
// counts feed billing audit metadata only; they are never billed directly.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator wraps a tiktoken codec. Agent backends do not report usage, so
// a cl100k estimate over the final content is the closest audit signal
// available.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates an estimator using the cl100k_base encoding.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// Count returns the estimated token count for text. Encoding failures
// degrade to zero; an audit estimate is never worth failing a stream over.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}
