// Package render turns a bot reply into display markup.  Fenced code
// blocks are split out of the surrounding prose so they can be shown
// escaped, in their own container with a copy button; the prose is
// handed to a markdown converter.
package render

import (
	"regexp"
	"strings"
)

// Fence is the marker that opens and closes a code block.
const Fence = "```"

// Kind tags a Segment.
type Kind int

const (
	// TextSegment holds markdown source.
	TextSegment Kind = iota
	// CodeSegment holds the body of a fenced code block.
	CodeSegment
)

func (k Kind) String() string {
	switch k {
	case TextSegment:
		return "text"
	case CodeSegment:
		return "code"
	}
	return "unknown"
}

// Segment is one piece of a rendered reply.  Markdown is set for
// TextSegment; Language and Content are set for CodeSegment.
type Segment struct {
	Kind     Kind
	Markdown string
	Language string
	Content  string
}

// Text returns a TextSegment.
func Text(md string) Segment {
	return Segment{Kind: TextSegment, Markdown: md}
}

// Code returns a CodeSegment.  An absent language is "".
func Code(language, content string) Segment {
	return Segment{Kind: CodeSegment, Language: language, Content: content}
}

var fenceRe = regexp.MustCompile("```(\\w*)\n([\\s\\S]*?)```")

// Segments splits reply into text and code segments in reply order.
// Text segments are the verbatim substrings between fences; substrings
// that are blank are dropped.  An opening fence without a matching
// close is never matched, so it and everything after it end up in the
// trailing text segment.
func Segments(reply string) (segs []Segment) {
	if !strings.Contains(reply, Fence) {
		return []Segment{Text(reply)}
	}
	last := 0
	for _, m := range fenceRe.FindAllStringSubmatchIndex(reply, -1) {
		if before := reply[last:m[0]]; strings.TrimSpace(before) != "" {
			segs = append(segs, Text(before))
		}
		segs = append(segs, Code(reply[m[2]:m[3]], reply[m[4]:m[5]]))
		last = m[1]
	}
	if rest := reply[last:]; strings.TrimSpace(rest) != "" {
		segs = append(segs, Text(rest))
	}
	return
}

// Source reassembles segments into markdown, writing code segments
// back as fenced blocks.
func Source(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case TextSegment:
			sb.WriteString(s.Markdown)
		case CodeSegment:
			sb.WriteString(Fence + s.Language + "\n" + s.Content + Fence)
		}
	}
	return sb.String()
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML replaces & < > " and ' with their entities in a single
// pass over text, so entities it produces are never escaped again.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}
