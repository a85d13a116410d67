// Package fetcher sends a chat question, together with the editor's
// code, to an OpenAI-compatible chat completions API and returns the
// reply text.
//
// Failures never cross the package boundary as errors: the caller
// always gets a ChatReply, possibly holding one of the sentinel
// strings.  An empty reply is retried a bounded number of times; an
// HTTP or transport failure is not retried.
package fetcher

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	oai "github.com/sashabaranov/go-openai"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultReferer identifies the calling site to OpenRouter.
	DefaultReferer = "http://localhost:8080"
	// DefaultTitle is the client title shown by OpenRouter.
	DefaultTitle = "Judge0 IDE"
	// MaxRetries is the number of retries after an empty reply.
	MaxRetries = 3
	// RetryDelay is the pause before each retry.
	RetryDelay = 1000 * time.Millisecond

	// NoReply is returned when every attempt produced an empty reply.
	NoReply = "No reply received."
	// ErrorReply is returned when the API call failed.
	ErrorReply = "Error: Unable to get model response."
)

// ChatReply is the outcome of one FetchReply call.
type ChatReply struct {
	Text    string
	IsError bool
}

// Config holds the endpoint and retry settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Referer    string
	Title      string
	MaxRetries int
	RetryDelay time.Duration
	// Timeout bounds a single HTTP attempt; zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns the OpenRouter settings with the given key.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		Referer:    DefaultReferer,
		Title:      DefaultTitle,
		MaxRetries: MaxRetries,
		RetryDelay: RetryDelay,
	}
}

// Fetcher calls the completion API.
type Fetcher struct {
	cfg    Config
	client *oai.Client
}

// New returns a Fetcher for cfg.  An empty BaseURL means
// DefaultBaseURL.
func New(cfg Config) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	ocfg := oai.DefaultConfig(cfg.APIKey)
	ocfg.BaseURL = cfg.BaseURL
	ocfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			referer: cfg.Referer,
			title:   cfg.Title,
			next:    http.DefaultTransport,
		},
	}
	return &Fetcher{
		cfg:    cfg,
		client: oai.NewClientWithConfig(ocfg),
	}
}

// headerTransport adds the OpenRouter site identification headers.
// go-openai sets Authorization and Content-Type itself.
type headerTransport struct {
	referer string
	title   string
	next    http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if h.referer != "" {
		req.Header.Set("HTTP-Referer", h.referer)
	}
	if h.title != "" {
		req.Header.Set("X-Title", h.title)
	}
	return h.next.RoundTrip(req)
}

// FetchReply asks modelID the question with snapshot as code
// context.  The reply is never partial: FetchReply returns once, after
// success, after the retries for empty replies are used up, or after
// the first failed call.
func (f *Fetcher) FetchReply(ctx context.Context, question, modelID, snapshot string) (reply ChatReply) {
	req := BuildRequest(modelID, question, snapshot)
	Debug("fetch: model %s, prompt tokens %d", req.ModelID, req.TokenCount())
	for attempt := 0; ; attempt++ {
		log.Printf("fetch: attempt %d of %d, model %s", attempt+1, f.cfg.MaxRetries+1, req.ModelID)
		text, err := f.complete(ctx, req)
		if err != nil {
			var apiErr *oai.APIError
			var reqErr *oai.RequestError
			switch {
			case errors.As(err, &apiErr):
				log.Printf("fetch: API error: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
			case errors.As(err, &reqErr):
				log.Printf("fetch: API error: status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
			default:
				log.Printf("fetch: error: %v", err)
			}
			return ChatReply{Text: ErrorReply, IsError: true}
		}
		if strings.TrimSpace(text) != "" {
			return ChatReply{Text: text}
		}
		if attempt >= f.cfg.MaxRetries {
			break
		}
		log.Printf("fetch: empty reply, retrying attempt %d of %d", attempt+1, f.cfg.MaxRetries)
		if err := sleep(ctx, f.cfg.RetryDelay); err != nil {
			log.Printf("fetch: retry wait aborted: %v", err)
			return ChatReply{Text: ErrorReply, IsError: true}
		}
	}
	return ChatReply{Text: NoReply}
}

// complete makes one API call and returns the normalized reply text.
func (f *Fetcher) complete(ctx context.Context, req ChatRequest) (text string, err error) {
	resp, err := f.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model:    req.ModelID,
		Messages: req.Messages(),
	})
	if err != nil {
		return
	}
	text = ReplyText(resp)
	return
}

// ReplyText extracts the text of the first choice.  List-shaped
// content is reduced to its text parts joined by newlines.  A
// response without a usable message gives "".
func ReplyText(resp oai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	msg := resp.Choices[0].Message
	if msg.MultiContent == nil {
		return msg.Content
	}
	var texts []string
	for _, part := range msg.MultiContent {
		if part.Type == oai.ChatMessagePartTypeText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// sleep waits for d without blocking other goroutines.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatRequest is everything sent for one question.
type ChatRequest struct {
	ModelID        string
	SystemPrompt   string
	UserQuestion   string
	EditorSnapshot string
}

// BuildRequest fills in the default model and the model's system
// prompt.
func BuildRequest(modelID, question, snapshot string) ChatRequest {
	if modelID == "" {
		modelID = catalog.DefaultModel
	}
	return ChatRequest{
		ModelID:        modelID,
		SystemPrompt:   catalog.SystemPrompt(modelID),
		UserQuestion:   question,
		EditorSnapshot: snapshot,
	}
}

// UserContent is the user message text.
func (r ChatRequest) UserContent() string {
	return "User Question: " + r.UserQuestion + "\n\nActive Code:\n" + r.EditorSnapshot
}

// Messages returns the system and user messages for the request.
func (r ChatRequest) Messages() []oai.ChatCompletionMessage {
	return []oai.ChatCompletionMessage{
		{
			Role:    oai.ChatMessageRoleSystem,
			Content: r.SystemPrompt,
		},
		{
			Role:    oai.ChatMessageRoleUser,
			Content: r.UserContent(),
		},
	}
}
