package bridge

import (
	"strconv"
	"sync"
)

// defaultInboxSize bounds messages waiting for the client to yield.
const defaultInboxSize = 256

type inboxMessage struct {
	slot    int
	payload string
}

// inbox holds incoming messages until the client collects them with z/y.
//
// z releases the messages queued so far; y hands them out one line at a
// time, so messages arriving during a yield loop wait for the next z.
type inbox struct {
	mu       sync.Mutex
	messages []inboxMessage
	max      int
	released int
	current  []string
}

func newInbox(max int) *inbox {
	if max <= 0 {
		max = defaultInboxSize
	}
	return &inbox{max: max}
}

// push queues payload for slot. When the inbox is full the oldest message
// is discarded and push reports false.
func (in *inbox) push(slot int, payload string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	kept := true
	if len(in.messages) >= in.max {
		in.messages = in.messages[1:]
		if in.released > 0 {
			in.released--
		}
		kept = false
	}
	in.messages = append(in.messages, inboxMessage{slot: slot, payload: payload})
	return kept
}

// lock releases every message currently queued and returns their number.
func (in *inbox) lock() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.released = len(in.messages)
	return in.released
}

// next returns the next Y line, or false once the released messages are done.
func (in *inbox) next(chunkSize int) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.current) == 0 {
		if in.released == 0 || len(in.messages) == 0 {
			return "", false
		}
		msg := in.messages[0]
		in.messages = in.messages[1:]
		in.released--
		in.current = framedChunks("Y "+strconv.Itoa(msg.slot), msg.payload, chunkSize)
	}

	line := in.current[0]
	in.current = in.current[1:]
	return line, true
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.messages)
}

func (in *inbox) reset() {
	in.mu.Lock()
	in.messages = nil
	in.released = 0
	in.current = nil
	in.mu.Unlock()
}
