package server

import (
	"sync"

	"github.com/alxayo/rflow/internal/rflow/wire"
)

// Message is one directional line ready to be framed onto the wire, or one
// just read off it.
type Message struct {
	Direction wire.Direction
	Payload   string
}

// registry tracks every connected client's outgoing queue, keyed by a
// monotonically increasing client id. Modelled on the teacher's
// Registry/Stream split (sync.RWMutex guarding the map) but flattened:
// there is exactly one "stream" here, the whole server, so no per-key
// Stream wrapper is needed. Unlike the teacher's broadcast, which only
// needs to be consistent with itself, this registry's broadcast must hold
// its lock across the full iteration so no register/unregister interleaves
// with an in-flight delivery.
type registry struct {
	mu      sync.RWMutex
	clients map[uint64]chan Message
	nextID  uint64
}

func newRegistry() *registry {
	return &registry{clients: make(map[uint64]chan Message)}
}

// register allocates the next client id and its bounded outgoing queue.
func (r *registry) register(queueSize int) (id uint64, outgoing chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id = r.nextID
	outgoing = make(chan Message, queueSize)
	r.clients[id] = outgoing
	return id, outgoing
}

// unregister removes id from the registry. Returns false if id was already
// gone (defensive against double-teardown).
func (r *registry) unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// count returns the number of currently registered clients.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// broadcast delivers msg to every registered client's outgoing queue,
// including the sender itself (the registry has no notion of echo
// suppression; every client sees every frame). Delivery is a non-blocking
// try-send: a client whose queue is already full drops the message rather
// than stalling every other client's delivery. The read lock is held across
// the entire iteration so no register/unregister can interleave with an
// in-flight broadcast; this is safe to hold for the whole loop precisely
// because every send inside it is non-blocking.
func (r *registry) broadcast(msg Message, onDrop func(id uint64)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, ch := range r.clients {
		select {
		case ch <- msg:
		default:
			if onDrop != nil {
				onDrop(id)
			}
		}
	}
}
