package mqtt

import (
	"strings"
	"sync"
)

// router dispatches incoming messages to per-filter callbacks.
//
// paho offers no public way to drop a single route, so the adapter keeps
// its own table and installs one default publish handler that consults it.
type router struct {
	mu     sync.RWMutex
	routes map[string]func(topic string, payload []byte)
}

func newRouter() *router {
	return &router{routes: make(map[string]func(string, []byte))}
}

func (r *router) add(filter string, fn func(string, []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[filter] = fn
}

func (r *router) remove(filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, filter)
}

// dispatch invokes every callback whose filter matches topic and reports
// whether any did.
func (r *router) dispatch(topic string, payload []byte) bool {
	r.mu.RLock()
	var matched []func(string, []byte)
	for filter, fn := range r.routes {
		if matchTopic(filter, topic) {
			matched = append(matched, fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range matched {
		fn(topic, payload)
	}
	return len(matched) > 0
}

// matchTopic reports whether topic matches the subscription filter,
// following MQTT 3.1.1 wildcard rules:
//   - "+" matches exactly one level
//   - "#" (last level only) matches the parent level and everything below
//   - wildcards at the first level never match topics starting with "$"
func matchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
