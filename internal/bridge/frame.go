package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	// maxLineSize bounds a single input line; a publish payload travels on one line.
	maxLineSize = 1024 * 1024

	// maxFrameLines bounds the count line.
	maxFrameLines = 16
)

// lineSource reads lines from the remote client on its own goroutine so
// that frame reads can be bounded by a timer.
type lineSource struct {
	lines chan string
	done  chan struct{}
	err   error // set before lines is closed
}

func newLineSource(r io.Reader) *lineSource {
	s := &lineSource{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go s.run(r)
	return s
}

func (s *lineSource) run(r io.Reader) {
	defer close(s.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		select {
		case s.lines <- strings.TrimRight(scanner.Text(), "\r"):
		case <-s.done:
			return
		}
	}
	s.err = scanner.Err()
	if s.err == nil {
		s.err = io.EOF
	}
}

// close releases the reading goroutine once its current read returns.
func (s *lineSource) close() {
	close(s.done)
}

func (s *lineSource) next(ctx context.Context, deadline <-chan time.Time) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", s.err
		}
		return line, nil
	case <-deadline:
		return "", ErrAcceptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// accept reads one frame: a count line N followed by N lines, the first of
// which names the command. Blank lines between frames are skipped. The
// accept timeout starts once the count line has arrived; zero never expires.
func (s *lineSource) accept(ctx context.Context, timeout time.Duration) ([]string, error) {
	var count string
	for count == "" {
		line, err := s.next(ctx, nil)
		if err != nil {
			return nil, err
		}
		count = strings.TrimSpace(line)
	}

	n, err := strconv.Atoi(count)
	if err != nil || n < 1 || n > maxFrameLines {
		return nil, fmt.Errorf("%w: count line %q", ErrMalformedFrame, count)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	frame := make([]string, 0, n)
	for len(frame) < n {
		line, err := s.next(ctx, deadline)
		if err != nil {
			return nil, err
		}
		frame = append(frame, line)
	}
	frame[0] = strings.TrimSpace(frame[0])
	return frame, nil
}

// chunk splits s into pieces of at most size bytes. An empty s yields one
// empty piece.
func chunk(s string, size int) []string {
	if size < 1 {
		size = 1
	}
	if len(s) <= size {
		return []string{s}
	}
	pieces := make([]string, 0, (len(s)+size-1)/size)
	for len(s) > size {
		pieces = append(pieces, s[:size])
		s = s[size:]
	}
	return append(pieces, s)
}

// framedChunks splits payload into lines of the form "<prefix> <more> <data>"
// that fit within size, with more set to 1 on every line but the last.
func framedChunks(prefix, payload string, size int) []string {
	header := len(prefix) + len(" 0 ")
	pieces := chunk(payload, size-header)
	lines := make([]string, len(pieces))
	for i, p := range pieces {
		more := 1
		if i == len(pieces)-1 {
			more = 0
		}
		lines[i] = fmt.Sprintf("%s %d %s", prefix, more, p)
	}
	return lines
}
