package widget

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 20 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one chat log entry pushed to connected panels.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// ClientPool fans chat log events out to every connected panel.
type ClientPool struct {
	clients    map[*wsClient]bool
	broadcast  chan Event
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
}

// NewClientPool creates a pool; call Start to run it.
func NewClientPool() *ClientPool {
	return &ClientPool{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Start runs the broadcast loop until Stop is called.
func (cp *ClientPool) Start() {
	for {
		select {
		case client := <-cp.register:
			cp.mutex.Lock()
			cp.clients[client] = true
			n := len(cp.clients)
			cp.mutex.Unlock()
			log.Printf("panel %s connected, total panels: %d", client.id, n)

		case client := <-cp.unregister:
			cp.mutex.Lock()
			if _, ok := cp.clients[client]; ok {
				delete(cp.clients, client)
				close(client.send)
			}
			n := len(cp.clients)
			cp.mutex.Unlock()
			log.Printf("panel %s disconnected, total panels: %d", client.id, n)

		case ev := <-cp.broadcast:
			cp.mutex.RLock()
			for client := range cp.clients {
				select {
				case client.send <- ev:
				default:
					// slow panel; drop the event
				}
			}
			cp.mutex.RUnlock()

		case <-cp.done:
			cp.mutex.Lock()
			for client := range cp.clients {
				delete(cp.clients, client)
				close(client.send)
			}
			cp.mutex.Unlock()
			return
		}
	}
}

// Stop ends the broadcast loop and disconnects every panel.
func (cp *ClientPool) Stop() {
	cp.stopOnce.Do(func() { close(cp.done) })
}

// Broadcast queues ev for every connected panel.  It does nothing
// after Stop.
func (cp *ClientPool) Broadcast(ev Event) {
	select {
	case cp.broadcast <- ev:
	case <-cp.done:
	}
}

// Len returns the number of connected panels.
func (cp *ClientPool) Len() int {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()
	return len(cp.clients)
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
	pool *ClientPool
	id   string
}

// serve upgrades the request and attaches the connection to the pool.
func (cp *ClientPool) serve(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	client := &wsClient{
		conn: conn,
		send: make(chan Event, 256),
		pool: cp,
		id:   id,
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	select {
	case cp.register <- client:
	case <-cp.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// writePump writes events to the panel and sends periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("websocket ping error: %v", err)
				return
			}
		}
	}
}

// readPump discards incoming frames; the panel sends over HTTP.  It
// exists to process control frames and notice disconnects.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.pool.unregister <- c:
		case <-c.pool.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			break
		}
	}
}
