package widget

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
	"github.com/stevegt/idechat/editor"
	"github.com/stevegt/idechat/fetcher"
	"github.com/stevegt/idechat/prefs"
	"github.com/stevegt/idechat/render"
)

var tmpDir string

func TestMain(m *testing.M) {
	var err error
	tmpDir, err = os.MkdirTemp("", "idechat-widget")
	Ck(err)
	rc := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(rc)
}

type call struct {
	question, model, snapshot string
}

// fakeFetcher records calls and the peak number of concurrent calls.
type fakeFetcher struct {
	mutex     sync.Mutex
	reply     fetcher.ChatReply
	delay     time.Duration
	calls     []call
	active    int
	maxActive int
}

func (f *fakeFetcher) FetchReply(ctx context.Context, question, modelID, snapshot string) fetcher.ChatReply {
	f.mutex.Lock()
	f.calls = append(f.calls, call{question, modelID, snapshot})
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mutex.Unlock()
	time.Sleep(f.delay)
	f.mutex.Lock()
	f.active--
	f.mutex.Unlock()
	return f.reply
}

func (f *fakeFetcher) Calls() []call {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]call(nil), f.calls...)
}

type fixture struct {
	w       *Widget
	fetcher *fakeFetcher
	bufs    *editor.Buffers
	store   *prefs.Store
	srv     *httptest.Server
}

func setup(t *testing.T, reply string) (fx *fixture) {
	dbPath := filepath.Join(tmpDir, strings.ReplaceAll(t.Name(), "/", "_")+".db")
	store, err := prefs.Open(dbPath)
	Tassert(t, err == nil, "prefs: %v", err)
	fx = &fixture{
		fetcher: &fakeFetcher{reply: fetcher.ChatReply{Text: reply}},
		bufs:    editor.NewBuffers(),
		store:   store,
	}
	fx.w = New(Options{
		Catalog:  catalog.New(),
		Fetcher:  fx.fetcher,
		Renderer: render.New(render.Passthrough),
		Prefs:    store,
		Editor:   fx.bufs,
	})
	r := mux.NewRouter()
	fx.w.Register(r, "/chat")
	fx.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		fx.srv.Close()
		fx.w.Close()
		fx.store.Close()
	})
	return
}

func (fx *fixture) do(t *testing.T, method, path, body string) (status int, out string) {
	req, err := http.NewRequest(method, fx.srv.URL+path, strings.NewReader(body))
	Tassert(t, err == nil, "request: %v", err)
	resp, err := http.DefaultClient.Do(req)
	Tassert(t, err == nil, "%s %s: %v", method, path, err)
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	Tassert(t, err == nil, "read: %v", err)
	return resp.StatusCode, string(buf)
}

func TestIndex(t *testing.T) {
	fx := setup(t, "hi")
	status, body := fx.do(t, "GET", "/chat/", "")
	Tassert(t, status == 200, "status %d", status)
	for _, m := range catalog.New().Models() {
		Tassert(t, strings.Contains(body, `value="`+m.ID+`"`), "missing option for %s", m.ID)
		Tassert(t, strings.Contains(body, ">"+m.Name+" - "+m.Description+"</option>"), "option for %s lacks name and description", m.ID)
	}
	Tassert(t, strings.Contains(body, " selected>Llama 3.2 11B - Balanced performance and speed<"), "default model not preselected")
	Tassert(t, strings.Contains(body, `id="chat-input"`), "missing input")
	Tassert(t, strings.Contains(body, `id="send-btn"`), "missing send button")
}

func TestModels(t *testing.T) {
	fx := setup(t, "hi")
	status, body := fx.do(t, "GET", "/chat/api/models", "")
	Tassert(t, status == 200, "status %d", status)
	var res struct {
		Models   []catalog.ModelDescriptor `json:"models"`
		Selected string                    `json:"selected"`
	}
	err := json.Unmarshal([]byte(body), &res)
	Tassert(t, err == nil, "decode: %v", err)
	Tassert(t, len(res.Models) == 4, "got %d models", len(res.Models))
	Tassert(t, res.Selected == catalog.DefaultModel, "got %q", res.Selected)
}

func TestSelectModel(t *testing.T) {
	fx := setup(t, "hi")

	status, _ := fx.do(t, "PUT", "/chat/api/model", `{"id":"nope/none"}`)
	Tassert(t, status == http.StatusBadRequest, "status %d", status)
	Tassert(t, fx.w.Selected() == catalog.DefaultModel, "selection changed")

	status, body := fx.do(t, "PUT", "/chat/api/model", `{"id":"gpt-4-turbo"}`)
	Tassert(t, status == 200, "status %d: %s", status, body)
	Tassert(t, strings.Contains(body, "Switched to GPT-4 Turbo."), "got %s", body)
	Tassert(t, fx.w.Selected() == "gpt-4-turbo", "got %q", fx.w.Selected())

	id, ok, err := fx.store.PreferredModel(catalog.New())
	Tassert(t, err == nil && ok && id == "gpt-4-turbo", "stored %q %v %v", id, ok, err)

	// the switch message is part of the log
	hist := fx.w.History()
	Tassert(t, len(hist) == 1 && hist[0].Type == "bot", "got %#v", hist)

	// a new widget on the same store starts with the stored choice
	w2 := New(Options{Catalog: catalog.New(), Fetcher: fx.fetcher, Prefs: fx.store})
	defer w2.Close()
	Tassert(t, w2.Selected() == "gpt-4-turbo", "got %q", w2.Selected())
	_, page := fx.do(t, "GET", "/chat/", "")
	Tassert(t, strings.Contains(page, " selected>GPT-4 Turbo - Powerful general-purpose model<"), "stored model not preselected")
}

func TestChat(t *testing.T) {
	fx := setup(t, "look:\n```go\nfmt.Println(1 < 2)\n```")
	fx.bufs.Open("main.go", "package main")

	status, _ := fx.do(t, "POST", "/chat/api/chat", `{"question":"   "}`)
	Tassert(t, status == http.StatusBadRequest, "status %d", status)
	Tassert(t, len(fx.fetcher.Calls()) == 0, "fetcher called for empty question")

	status, body := fx.do(t, "POST", "/chat/api/chat", `{"question":"  <b>why?</b> ","model":"gpt-3.5-turbo"}`)
	Tassert(t, status == 200, "status %d: %s", status, body)
	var res SendResult
	err := json.Unmarshal([]byte(body), &res)
	Tassert(t, err == nil, "decode: %v", err)
	Tassert(t, !res.IsError, "unexpected error reply")
	Tassert(t, res.ID != "" && res.UserID != "" && res.ID != res.UserID, "ids %q %q", res.ID, res.UserID)
	Tassert(t, strings.Contains(res.UserHTML, "&lt;b&gt;why?&lt;/b&gt;"), "user text not escaped: %s", res.UserHTML)
	Tassert(t, strings.Contains(res.BotHTML, `<code class="language-go">fmt.Println(1 &lt; 2)`), "got %s", res.BotHTML)

	calls := fx.fetcher.Calls()
	Tassert(t, len(calls) == 1, "got %d calls", len(calls))
	Tassert(t, calls[0].question == "<b>why?</b>", "question not trimmed: %q", calls[0].question)
	Tassert(t, calls[0].model == "gpt-3.5-turbo", "got %q", calls[0].model)
	Tassert(t, calls[0].snapshot == "package main", "got %q", calls[0].snapshot)

	// no model means the selected one
	fx.do(t, "POST", "/chat/api/chat", `{"question":"again"}`)
	calls = fx.fetcher.Calls()
	Tassert(t, calls[1].model == catalog.DefaultModel, "got %q", calls[1].model)

	// ids outside the catalog fall back to the default model
	fx.do(t, "POST", "/chat/api/chat", `{"question":"third","model":"mistral/unknown"}`)
	calls = fx.fetcher.Calls()
	Tassert(t, calls[2].model == catalog.DefaultModel, "got %q", calls[2].model)

	hist := fx.w.History()
	Tassert(t, len(hist) == 6, "got %d events", len(hist))
	Tassert(t, hist[0].Type == "user" && hist[1].Type == "bot", "got %#v", hist)

	// the page shows the log
	_, page := fx.do(t, "GET", "/chat/", "")
	Tassert(t, strings.Contains(page, res.BotHTML), "log missing from page")
}

func TestChatErrorReply(t *testing.T) {
	fx := setup(t, "")
	fx.fetcher.reply = fetcher.ChatReply{Text: fetcher.ErrorReply, IsError: true}
	status, body := fx.do(t, "POST", "/chat/api/chat", `{"question":"q"}`)
	Tassert(t, status == 200, "status %d", status)
	var res SendResult
	err := json.Unmarshal([]byte(body), &res)
	Tassert(t, err == nil, "decode: %v", err)
	Tassert(t, res.IsError && res.Text == fetcher.ErrorReply, "got %#v", res)
	Tassert(t, strings.Contains(res.BotHTML, fetcher.ErrorReply), "got %s", res.BotHTML)
}

func TestSendsSerialized(t *testing.T) {
	fx := setup(t, "ok")
	fx.fetcher.delay = 20 * time.Millisecond
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fx.w.Send(context.Background(), Spf("q%d", i), "")
		}(i)
	}
	wg.Wait()
	Tassert(t, fx.fetcher.maxActive == 1, "sends overlapped: %d", fx.fetcher.maxActive)
	hist := fx.w.History()
	Tassert(t, len(hist) == 10, "got %d events", len(hist))
	for i := 0; i < len(hist); i += 2 {
		Tassert(t, hist[i].Type == "user" && hist[i+1].Type == "bot", "event %d out of order", i)
	}
}

func TestBuffers(t *testing.T) {
	fx := setup(t, "ok")
	status, _ := fx.do(t, "PUT", "/chat/api/buffers/src/a.py", "print(1)")
	Tassert(t, status == http.StatusNoContent, "status %d", status)
	status, _ = fx.do(t, "PUT", "/chat/api/buffers/b.py", "print(2)")
	Tassert(t, status == http.StatusNoContent, "status %d", status)
	Tassert(t, fx.bufs.Snapshot() == "print(1)\nprint(2)", "got %q", fx.bufs.Snapshot())

	status, _ = fx.do(t, "DELETE", "/chat/api/buffers/src/a.py", "")
	Tassert(t, status == http.StatusNoContent, "status %d", status)
	Tassert(t, fx.bufs.Snapshot() == "print(2)", "got %q", fx.bufs.Snapshot())

	status, _ = fx.do(t, "DELETE", "/chat/api/buffers/src/a.py", "")
	Tassert(t, status == http.StatusNotFound, "status %d", status)
}

func TestWebsocket(t *testing.T) {
	fx := setup(t, "pong")
	url := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	Tassert(t, err == nil, "dial: %v", err)
	defer conn.Close()

	// wait for the pool to pick up the connection
	for i := 0; i < 100 && fx.w.pool.Len() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	Tassert(t, fx.w.pool.Len() == 1, "panel not registered")

	res := fx.w.Send(context.Background(), "ping", "")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var user, bot Event
	err = conn.ReadJSON(&user)
	Tassert(t, err == nil, "read: %v", err)
	err = conn.ReadJSON(&bot)
	Tassert(t, err == nil, "read: %v", err)
	Tassert(t, user.Type == "user" && user.ID == res.UserID, "got %#v", user)
	Tassert(t, bot.Type == "bot" && bot.ID == res.ID && bot.HTML == res.BotHTML, "got %#v", bot)

	// Close disconnects panels
	fx.w.Close()
	_, _, err = conn.ReadMessage()
	Tassert(t, err != nil, "expected closed connection")
}
