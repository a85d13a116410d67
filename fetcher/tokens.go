package fetcher

import (
	"sync"

	. "github.com/stevegt/goadapt"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecErr  error
	codecOnce sync.Once
)

// TokenCount returns the number of cl100k_base tokens in text.  The
// count is an estimate for non-OpenAI models.
func TokenCount(text string) (count int, err error) {
	defer Return(&err)
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	Ck(codecErr)
	ids, _, err := codec.Encode(text)
	Ck(err)
	count = len(ids)
	return
}

// TokenCount estimates the prompt size of the request.  It returns -1
// if the tokenizer is unavailable.
func (r ChatRequest) TokenCount() int {
	n := 0
	for _, text := range []string{r.SystemPrompt, r.UserContent()} {
		c, err := TokenCount(text)
		if err != nil {
			return -1
		}
		n += c
	}
	return n
}
