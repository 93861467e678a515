package ws

// FeedAll subscribes a client to scan events from every drop-box location.
const FeedAll = ""

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages live scan-feed subscriptions keyed by drop-box location. A
// client subscribed to FeedAll receives every event.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	location string
	payload  []byte
}

type subscription struct {
	location string
	client   Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.location]; !ok {
				h.clients[sub.location] = make(map[Subscriber]struct{})
			}
			h.clients[sub.location][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.location]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.location)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg.location, msg.payload)
			if msg.location != FeedAll {
				h.deliver(FeedAll, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(key string, payload []byte) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// Register adds a client to a location feed.
func (h *Hub) Register(location string, client Subscriber) {
	h.register <- subscription{location: location, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(location string, client Subscriber) {
	h.unreg <- subscription{location: location, client: client}
}

// Broadcast sends payload to clients of the event's location and to FeedAll
// subscribers.
func (h *Hub) Broadcast(location string, payload []byte) {
	h.broadcast <- message{location: location, payload: payload}
}
