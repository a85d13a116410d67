// Package mock provides a scripted chat completions endpoint for
// tests.  Each call consumes the next configured Reply; once the
// script runs out the last Reply is repeated.
package mock

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Part is one element of a list-shaped message content.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Reply is one scripted response.
type Reply struct {
	// Status defaults to 200.
	Status int
	// Content is sent as a string message content unless Parts or
	// Body is set.
	Content string
	// Parts is sent as a list message content.
	Parts []Part
	// NoChoices sends a response with an empty choices list.
	NoChoices bool
	// Body, if set, is written verbatim.
	Body string
}

// Text returns a 200 reply with string content.
func Text(content string) Reply {
	return Reply{Content: content}
}

// Status returns a reply with the given status and an error body.
func Status(code int) Reply {
	return Reply{
		Status: code,
		Body:   `{"error":{"message":"mock failure","type":"server_error","code":null}}`,
	}
}

// Request is what the server received on one call.
type Request struct {
	Header http.Header
	Path   string
	Body   struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	Time time.Time
}

// Server is a mock completion endpoint.
type Server struct {
	*httptest.Server
	mutex    sync.Mutex
	script   []Reply
	requests []Request
}

// NewServer starts a mock endpoint that answers with replies in order.
func NewServer(replies ...Reply) (s *Server) {
	if len(replies) == 0 {
		replies = []Reply{Text("default mock response")}
	}
	s = &Server{script: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return
}

// BaseURL is the value to configure as the API base URL.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v1"
}

// Calls returns the number of requests received.
func (s *Server) Calls() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.requests)
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Times returns the arrival time of each request.
func (s *Server) Times() (times []time.Time) {
	for _, req := range s.Requests() {
		times = append(times, req.Time)
	}
	return
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req Request
	req.Header = r.Header.Clone()
	req.Path = r.URL.Path
	req.Time = time.Now()
	buf, _ := io.ReadAll(r.Body)
	json.Unmarshal(buf, &req.Body)

	s.mutex.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	reply := s.script[len(s.script)-1]
	if n < len(s.script) {
		reply = s.script[n]
	}
	s.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Body != "" {
		w.WriteHeader(status)
		io.WriteString(w, reply.Body)
		return
	}

	var content interface{} = reply.Content
	if reply.Parts != nil {
		content = reply.Parts
	}
	choices := []interface{}{}
	if !reply.NoChoices {
		choices = append(choices, map[string]interface{}{
			"index": 0,
			"message": map[string]interface{}{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		})
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      "mock-" + time.Now().Format("150405.000000"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Body.Model,
		"choices": choices,
		"usage": map[string]int{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		},
	})
}
