package kernel

import (
	"sort"
	"sync"

	"mastermind/internal/logging"
)

// EventFunc receives events published on a topic the subscriber asked
// for. Callbacks run on their own goroutines; a panicking subscriber is
// recovered and logged without affecting the others.
type EventFunc func(topic string, data map[string]any)

// bus is the kernel's in-process pub/sub fan-out.
type bus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventFunc
}

func newBus() *bus {
	return &bus{subscribers: make(map[string][]EventFunc)}
}

func (b *bus) subscribe(topic string, fn EventFunc) {
	if topic == "" || fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], fn)
}

// publish invokes every subscriber of topic concurrently and waits for
// all of them to return. Returns the number of subscribers notified.
func (b *bus) publish(topic string, data map[string]any) int {
	b.mu.RLock()
	subs := make([]EventFunc, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, fn := range subs {
		wg.Add(1)
		go func(fn EventFunc) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.KernelWarn("subscriber panic on topic %s: %v", topic, r)
				}
			}()
			fn(topic, data)
		}(fn)
	}
	wg.Wait()
	return len(subs)
}

// topics returns the subscribed topic names, sorted.
func (b *bus) topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subscribers))
	for t := range b.subscribers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
