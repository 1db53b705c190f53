package webmonitor

import (
	"sync"

	"github.com/mkoba/scopecam/internal/logging"
)

// FrameBroadcaster fans live H.264 frames out to HTTP stream clients.
// Slow clients skip frames instead of stalling the publisher.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
}

func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 4)
	fb.clients[id] = ch
	logging.Module("webmonitor").WithField("clients", len(fb.clients)).Debug("Stream client subscribed")
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
	}
}

// ClientCount reports the number of connected stream clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish delivers one Annex-B frame to every client. Clients whose
// buffer is full miss the frame.
func (fb *FrameBroadcaster) Publish(frame []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}
