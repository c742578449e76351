package ai

import (
	"github.com/pkoukk/tiktoken-go"

	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

// TiktokenCounter counts tokens with the model's own encoding. Unknown
// models fall back to cl100k_base, close enough for budget trimming.
type TiktokenCounter struct{}

func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

func (t *TiktokenCounter) CountTokens(model string, text string) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	return len(enc.Encode(text, nil, nil)), nil
}
