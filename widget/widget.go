// Package widget serves the chat panel: the panel page, its JSON API
// and a websocket stream of chat log events.  A host mounts it with
// Register.
package widget

import (
	"context"
	_ "embed"
	"encoding/json"
	"html/template"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
	"github.com/stevegt/idechat/editor"
	"github.com/stevegt/idechat/fetcher"
	"github.com/stevegt/idechat/prefs"
	"github.com/stevegt/idechat/render"
)

//go:embed index.html
var indexHTML string

var tmpl = template.Must(template.New("index").Parse(indexHTML))

// maxBufferSize limits a PUT to /api/buffers.
const maxBufferSize = 8 << 20

// Fetcher answers one question.  *fetcher.Fetcher implements it.
type Fetcher interface {
	FetchReply(ctx context.Context, question, modelID, snapshot string) fetcher.ChatReply
}

// BufferSink accepts editor documents pushed by the page.
// *editor.Buffers implements it.
type BufferSink interface {
	Open(name, text string)
	Close(name string) bool
}

// Options are the collaborators of a Widget.  Prefs may be nil, in
// which case the model choice is not persisted.  Buffer routes are
// only served when Editor also implements BufferSink.
type Options struct {
	Catalog  *catalog.Catalog
	Fetcher  Fetcher
	Renderer *render.Renderer
	Prefs    *prefs.Store
	Editor   editor.Source
}

// Widget is one chat panel and its conversation.
type Widget struct {
	opts Options
	pool *ClientPool

	// sendMu serializes sends so replies are logged in send order.
	sendMu sync.Mutex

	mutex    sync.RWMutex
	selected string
	history  []Event
}

// New returns a Widget and starts its websocket pool.  The selected
// model is the stored preference, else the catalog default.
func New(opts Options) (w *Widget) {
	Assert(opts.Catalog != nil, "widget: nil catalog")
	Assert(opts.Fetcher != nil, "widget: nil fetcher")
	if opts.Renderer == nil {
		opts.Renderer = render.New(render.GoldmarkMarkdown)
	}
	if opts.Editor == nil {
		opts.Editor = editor.NewBuffers()
	}
	w = &Widget{
		opts:     opts,
		pool:     NewClientPool(),
		selected: opts.Catalog.Default().ID,
	}
	if opts.Prefs != nil {
		id, ok, err := opts.Prefs.PreferredModel(opts.Catalog)
		if err != nil {
			log.Printf("reading preferred model: %v", err)
		} else if ok {
			w.selected = id
		}
	}
	go w.pool.Start()
	return
}

// Close disconnects every panel and stops the websocket pool.
func (w *Widget) Close() {
	w.pool.Stop()
}

// Selected returns the id of the selected model.
func (w *Widget) Selected() string {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.selected
}

// History returns the chat log so far.
func (w *Widget) History() []Event {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	out := make([]Event, len(w.history))
	copy(out, w.history)
	return out
}

// Register mounts the panel routes on r under prefix, e.g. "/chat".
// An empty prefix mounts them at the root.
func (w *Widget) Register(r *mux.Router, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	r.HandleFunc(prefix+"/", w.indexHandler).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/api/models", w.modelsHandler).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/api/model", w.modelHandler).Methods(http.MethodPut)
	r.HandleFunc(prefix+"/api/chat", w.chatHandler).Methods(http.MethodPost)
	if _, ok := w.opts.Editor.(BufferSink); ok {
		r.HandleFunc(prefix+"/api/buffers/{name:.+}", w.bufferHandler).Methods(http.MethodPut, http.MethodDelete)
	}
	r.HandleFunc(prefix+"/ws", w.wsHandler)
}

// SelectModel makes id the active model, stores the preference and
// logs the informational message, which it also returns.
func (w *Widget) SelectModel(id string) (ev Event, err error) {
	defer Return(&err)
	m, err := w.opts.Catalog.Find(id)
	Ck(err)
	if w.opts.Prefs != nil {
		err = w.opts.Prefs.SetPreferredModel(w.opts.Catalog, m.ID)
		if err != nil {
			log.Printf("storing preferred model: %v", err)
			err = nil
		}
	}
	w.mutex.Lock()
	w.selected = m.ID
	w.mutex.Unlock()
	log.Printf("model switched to %s", m.ID)
	ev = w.appendEvent("bot", w.opts.Renderer.BotHTML(catalog.SwitchMessage(m)))
	return
}

// SendResult is the outcome of one Send.
type SendResult struct {
	ID       string `json:"id"`
	UserID   string `json:"userID"`
	UserHTML string `json:"userHTML"`
	BotHTML  string `json:"botHTML"`
	Text     string `json:"text"`
	IsError  bool   `json:"isError"`
}

// Send logs question, asks the model with the editor's current code
// and logs the reply.  Sends are handled one at a time.  An empty
// modelID means the selected model; an id outside the catalog means
// the default model.
func (w *Widget) Send(ctx context.Context, question, modelID string) SendResult {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if modelID == "" {
		modelID = w.Selected()
	}
	modelID = w.opts.Catalog.Resolve(modelID)
	user := w.appendEvent("user", render.UserHTML(question))
	reply := w.opts.Fetcher.FetchReply(ctx, question, modelID, w.opts.Editor.Snapshot())
	bot := w.appendEvent("bot", w.opts.Renderer.BotHTML(reply.Text))
	return SendResult{
		ID:       bot.ID,
		UserID:   user.ID,
		UserHTML: user.HTML,
		BotHTML:  bot.HTML,
		Text:     reply.Text,
		IsError:  reply.IsError,
	}
}

func (w *Widget) appendEvent(typ, html string) (ev Event) {
	ev = Event{Type: typ, ID: uuid.NewString(), HTML: html}
	w.mutex.Lock()
	w.history = append(w.history, ev)
	w.mutex.Unlock()
	w.pool.Broadcast(ev)
	return
}

func (w *Widget) indexHandler(rw http.ResponseWriter, r *http.Request) {
	Debug("index request for %s", r.URL.Path)
	prefix := strings.TrimSuffix(r.URL.Path, "/")
	var entries []template.HTML
	for _, ev := range w.History() {
		// rendered by render, which escapes user text
		entries = append(entries, template.HTML(ev.HTML))
	}
	data := struct {
		Prefix   string
		Models   []catalog.ModelDescriptor
		Selected string
		Log      []template.HTML
	}{
		Prefix:   prefix,
		Models:   w.opts.Catalog.Models(),
		Selected: w.Selected(),
		Log:      entries,
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(rw, data); err != nil {
		http.Error(rw, "Template error", http.StatusInternalServerError)
	}
}

func (w *Widget) modelsHandler(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, map[string]interface{}{
		"models":   w.opts.Catalog.Models(),
		"selected": w.Selected(),
	})
}

func (w *Widget) modelHandler(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !w.opts.Catalog.Contains(req.ID) {
		http.Error(rw, Spf("Unknown model %q", req.ID), http.StatusBadRequest)
		return
	}
	ev, err := w.SelectModel(req.ID)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, map[string]interface{}{
		"id":       ev.ID,
		"selected": req.ID,
		"botHTML":  ev.HTML,
	})
}

func (w *Widget) chatHandler(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Model    string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		http.Error(rw, "Empty question", http.StatusBadRequest)
		return
	}
	// a started retry sequence runs to completion even if the page
	// goes away
	ctx := context.WithoutCancel(r.Context())
	res := w.Send(ctx, question, req.Model)
	writeJSON(rw, res)
}

func (w *Widget) bufferHandler(rw http.ResponseWriter, r *http.Request) {
	sink := w.opts.Editor.(BufferSink)
	name := mux.Vars(r)["name"]
	switch r.Method {
	case http.MethodPut:
		buf, err := io.ReadAll(io.LimitReader(r.Body, maxBufferSize+1))
		if err != nil {
			http.Error(rw, "Read error", http.StatusBadRequest)
			return
		}
		if len(buf) > maxBufferSize {
			http.Error(rw, "Buffer too large", http.StatusRequestEntityTooLarge)
			return
		}
		sink.Open(name, string(buf))
		Debug("buffer %s updated, %d bytes", name, len(buf))
		rw.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !sink.Close(name) {
			http.Error(rw, Spf("Buffer %s not open", name), http.StatusNotFound)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func (w *Widget) wsHandler(rw http.ResponseWriter, r *http.Request) {
	w.pool.serve(rw, r, uuid.NewString())
}

func writeJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Printf("writing response: %v", err)
	}
}
