package render

import (
	"bytes"
	"log"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MarkdownFunc converts markdown source to HTML.
type MarkdownFunc func(md string) string

// Passthrough returns md unchanged and unescaped.  It is what a
// Renderer uses when no converter is supplied.
func Passthrough(md string) string {
	return md
}

var gm = goldmark.New(goldmark.WithExtensions(extension.GFM))

// GoldmarkMarkdown converts markdown to HTML using goldmark with the
// GitHub-flavored extensions.
func GoldmarkMarkdown(md string) string {
	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		log.Printf("markdown conversion error: %v", err)
		return "<p>Error rendering markdown</p>"
	}
	return buf.String()
}

// Renderer builds chat message markup.
type Renderer struct {
	markdown MarkdownFunc
}

// New returns a Renderer that uses md for prose.  A nil md means
// Passthrough.
func New(md MarkdownFunc) *Renderer {
	if md == nil {
		md = Passthrough
	}
	return &Renderer{markdown: md}
}

// BotHTML renders a bot reply.  Replies without fences are rendered
// as one markdown block; otherwise every segment gets its own
// container.
func (r *Renderer) BotHTML(reply string) string {
	if !strings.Contains(reply, Fence) {
		return `<div class="chat-message bot prose prose-invert">` + r.markdown(reply) + `</div>`
	}
	var sb strings.Builder
	sb.WriteString(`<div class="chat-message bot">`)
	for _, s := range Segments(reply) {
		sb.WriteString(r.SegmentHTML(s))
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

// SegmentHTML renders a single segment.  Code is always escaped.
// Copy buttons carry no inline handler; the page binds one to every
// .copy-code-btn it inserts.
func (r *Renderer) SegmentHTML(s Segment) string {
	switch s.Kind {
	case CodeSegment:
		return `<div class="chat-code"><pre><code class="language-` + EscapeHTML(s.Language) + `">` +
			EscapeHTML(s.Content) +
			`</code></pre><button class="copy-code-btn" type="button"><i class="copy icon"></i> Copy</button></div>`
	default:
		return `<div class="chat-text prose prose-invert">` + r.markdown(s.Markdown) + `</div>`
	}
}

// UserHTML renders a user message as escaped plain text.
func UserHTML(text string) string {
	return `<div class="chat-message user">` + EscapeHTML(text) + `</div>`
}
