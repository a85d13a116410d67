package editor

import (
	"os"
	"strings"
	"sync"

	. "github.com/stevegt/goadapt"
)

// Source provides the text the chatbot sends as code context.
type Source interface {
	Snapshot() string
}

// Buffers is the set of documents open in the editor, kept in the
// order they were opened.  It is safe for concurrent use.
type Buffers struct {
	mutex sync.RWMutex
	names []string
	texts map[string]string
}

// NewBuffers returns an empty set of buffers.
func NewBuffers() *Buffers {
	return &Buffers{texts: make(map[string]string)}
}

// Open sets the text of the named buffer.  A new name is appended
// after the existing buffers; an existing one keeps its position.
func (b *Buffers) Open(name, text string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.texts[name]; !ok {
		b.names = append(b.names, name)
	}
	b.texts[name] = text
}

// Close removes the named buffer.  It reports whether it was open.
func (b *Buffers) Close(name string) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.texts[name]; !ok {
		return false
	}
	delete(b.texts, name)
	for i, n := range b.names {
		if n == name {
			b.names = append(b.names[:i], b.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the buffer names in open order.
func (b *Buffers) Names() []string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Text returns the text of the named buffer.
func (b *Buffers) Text(name string) (text string, ok bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	text, ok = b.texts[name]
	return
}

// Snapshot returns the text of every buffer joined with newlines, in
// open order.
func (b *Buffers) Snapshot() string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	texts := make([]string, len(b.names))
	for i, n := range b.names {
		texts[i] = b.texts[n]
	}
	return strings.Join(texts, "\n")
}

// LoadFiles opens each file as a buffer named by its path.
func (b *Buffers) LoadFiles(paths ...string) (err error) {
	defer Return(&err)
	for _, path := range paths {
		var buf []byte
		buf, err = os.ReadFile(path)
		Ck(err)
		b.Open(path, string(buf))
	}
	return
}

var _ Source = (*Buffers)(nil)
