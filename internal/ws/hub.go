package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out realtime payloads to subscribers grouped by project ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan envelope
	stop      chan struct{}
	stopOnce  sync.Once
}

// envelope couples a payload with the project it belongs to.
type envelope struct {
	projectID string
	payload   []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	projectID string
	client    Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan envelope, 64),
		stop:      make(chan struct{}),
	}
	go h.run()
	return h
}

// run owns the subscriber map; all mutation happens on this goroutine.
func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			for projectID, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, projectID)
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.projectID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.projectID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.projectID)
				}
			}
		}
	}
}

// Register adds a client to a project stream.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.stop:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.stop:
	}
}

// Broadcast sends payload to all subscribers of the project.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- envelope{projectID: projectID, payload: payload}:
	case <-h.stop:
	}
}

// Close shuts the hub down and disconnects every subscriber.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}
