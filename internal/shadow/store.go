package shadow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	keyPrefix = "JSON-"

	// TimeoutPayload is stored in place of a response that never arrived.
	TimeoutPayload = "REQUEST TIME OUT"

	// TimeoutKey is returned for TimeoutPayload; nothing is stored under it.
	TimeoutKey = keyPrefix + "X"
)

// Kind is the response kind a shadow document arrived as.
type Kind string

const (
	KindAccepted Kind = "accepted"
	KindRejected Kind = "rejected"
	KindDelta    Kind = "delta"
)

// offset is the residue mod 3 of every slot the kind may occupy.
func (k Kind) offset() (int, error) {
	switch k {
	case KindAccepted:
		return 0, nil
	case KindRejected:
		return 1, nil
	case KindDelta:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// Repository persists documents by slot.
//
// SaveDocument stores doc in slot and records slot as the kind's most
// recent one in a single step.
type Repository interface {
	SaveDocument(ctx context.Context, thing string, slot int, kind Kind, doc string) error
	Document(ctx context.Context, thing string, slot int) (string, error)
	Cursors(ctx context.Context, thing string) (map[Kind]int, error)
}

// Store hands out JSON-<n> keys for incoming shadow documents.
//
// Accepted, rejected and delta documents take interleaved slots: accepted
// uses 0, 3, 6, ..., rejected 1, 4, 7, ... and delta 2, 5, 8, .... With a
// history limit L each kind wraps back to its first slot once it has used
// its highest slot below L, overwriting the oldest document of that kind.
// A limit of 0 never wraps.
type Store struct {
	repo  Repository
	thing string
	limit int

	// last is the most recent slot per kind; it starts one step before
	// the kind's first slot.
	last map[Kind]int
	mu   sync.Mutex
}

// NewStore creates a store for one thing, resuming rotation from the
// cursors held in repo.
func NewStore(ctx context.Context, repo Repository, thing string, historyLimit int) (*Store, error) {
	if historyLimit < 0 || historyLimit == 1 || historyLimit == 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHistoryLimit, historyLimit)
	}

	cursors, err := repo.Cursors(ctx, thing)
	if err != nil {
		return nil, fmt.Errorf("loading shadow cursors: %w", err)
	}

	s := &Store{
		repo:  repo,
		thing: thing,
		limit: historyLimit,
		last:  make(map[Kind]int, 3),
	}
	for _, k := range []Kind{KindAccepted, KindRejected, KindDelta} {
		off, _ := k.offset() //nolint:errcheck // fixed kinds
		s.last[k] = off - 3
		if slot, ok := cursors[k]; ok {
			s.last[k] = slot
		}
	}
	return s, nil
}

// Thing returns the thing name the store belongs to.
func (s *Store) Thing() string {
	return s.thing
}

// HistoryLimit returns the configured limit (0 = unlimited).
func (s *Store) HistoryLimit() int {
	return s.limit
}

// highest returns the largest slot below the limit reserved for offset.
func (s *Store) highest(offset int) int {
	top := s.limit - 1
	return top - (top-offset)%3
}

func (s *Store) nextSlot(kind Kind, offset int) int {
	last := s.last[kind]
	if s.limit != 0 && last >= s.highest(offset) {
		return offset
	}
	return last + 3
}

// Put stores payload and returns the key it can be read back with.
// TimeoutPayload is not stored and always yields TimeoutKey.
func (s *Store) Put(ctx context.Context, payload string, kind Kind) (string, error) {
	if payload == TimeoutPayload {
		return TimeoutKey, nil
	}
	offset, err := kind.offset()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.nextSlot(kind, offset)
	if err := s.repo.SaveDocument(ctx, s.thing, slot, kind, payload); err != nil {
		return "", fmt.Errorf("storing shadow document: %w", err)
	}
	s.last[kind] = slot
	return FormatKey(slot), nil
}

// Get returns the document stored under key.
// Unknown keys, TimeoutKey and empty slots return ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	slot, ok := ParseKey(key)
	if !ok {
		return "", fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	return s.repo.Document(ctx, s.thing, slot)
}

// FormatKey returns the key for a slot, e.g. "JSON-4".
func FormatKey(slot int) string {
	return keyPrefix + strconv.Itoa(slot)
}

// ParseKey extracts the slot from a "JSON-<n>" key.
func ParseKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(rest)
	if err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}
