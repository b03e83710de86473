package mqttcore

import (
	"fmt"
	"strings"
)

// DropPolicy selects what the offline queue discards when it is full.
type DropPolicy int

const (
	// DropOldest removes the head of the queue to make room for the new request.
	DropOldest DropPolicy = 0

	// DropNewest rejects the incoming request and leaves the queue unchanged.
	DropNewest DropPolicy = 1
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

// ParseDropPolicy converts a configuration or bridge value to a DropPolicy.
// Accepted: "drop_oldest", "oldest", "0", "drop_newest", "newest", "1".
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop_oldest", "oldest", "0":
		return DropOldest, nil
	case "drop_newest", "newest", "1":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("%w: unknown drop policy %q", ErrInvalidArgument, s)
	}
}

// PublishRequest is a publish held back while the connection is down or
// draining. It is never modified once queued.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// OfflineQueue is a bounded FIFO of publish requests.
//
// It is not safe for concurrent use; Core guards it with its queueing lock.
type OfflineQueue struct {
	items   []PublishRequest
	maxSize int
	policy  DropPolicy
}

// NewOfflineQueue creates a queue holding at most maxSize requests.
// A maxSize of 0 means unlimited.
func NewOfflineQueue(maxSize int, policy DropPolicy) (*OfflineQueue, error) {
	if maxSize < 0 {
		return nil, fmt.Errorf("%w: queue size must not be negative", ErrInvalidArgument)
	}
	if policy != DropOldest && policy != DropNewest {
		return nil, fmt.Errorf("%w: drop policy not supported: %d", ErrInvalidArgument, int(policy))
	}
	return &OfflineQueue{maxSize: maxSize, policy: policy}, nil
}

func (q *OfflineQueue) full() bool {
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

// Append adds req to the tail of the queue.
//
// It returns false when the queue was full: under DropNewest req was not
// added; under DropOldest the head was discarded and req was added.
func (q *OfflineQueue) Append(req PublishRequest) bool {
	if !q.full() {
		q.items = append(q.items, req)
		return true
	}
	if q.policy == DropNewest {
		return false
	}
	q.items[0] = PublishRequest{}
	q.items = append(q.items[1:], req)
	return false
}

// PopFront removes and returns the oldest request.
func (q *OfflineQueue) PopFront() (PublishRequest, bool) {
	if len(q.items) == 0 {
		return PublishRequest{}, false
	}
	req := q.items[0]
	q.items[0] = PublishRequest{}
	q.items = q.items[1:]
	return req, true
}

// IsEmpty reports whether the queue holds no requests.
func (q *OfflineQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Len returns the number of queued requests.
func (q *OfflineQueue) Len() int {
	return len(q.items)
}

// MaxSize returns the configured bound (0 = unlimited).
func (q *OfflineQueue) MaxSize() int {
	return q.maxSize
}

// Policy returns the configured drop policy.
func (q *OfflineQueue) Policy() DropPolicy {
	return q.policy
}
