package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// fanout hands every line to a set of subscriber channels. After shut it
// hands out closed channels so late subscribers never block.
type fanout struct {
	mu   sync.Mutex
	subs map[string]chan string
	shut bool
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (f *fanout) add(buffer int) (string, chan string) {
	id := randomID()
	ch := make(chan string, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shut {
		close(ch)
		return id, ch
	}
	if f.subs == nil {
		f.subs = make(map[string]chan string)
	}
	f.subs[id] = ch
	return id, ch
}

func (f *fanout) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// send offers line to every subscriber without waiting. It reports false
// once the fanout is shut.
func (f *fanout) send(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shut {
		return false
	}
	for _, ch := range f.subs {
		select {
		case ch <- line:
		default:
			// a full subscriber misses this line rather than stalling the port
		}
	}
	return true
}

// close closes every subscriber. It reports whether this call shut it.
func (f *fanout) close() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shut {
		return false
	}
	f.shut = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	return true
}

func (f *fanout) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
