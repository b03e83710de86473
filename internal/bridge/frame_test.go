package bridge

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAccept(t *testing.T) {
	src := newLineSource(strings.NewReader("\n\n3\r\np\r\ntopic with spaces\npayload\n"))
	defer src.close()

	frame, err := src.accept(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("accept() error = %v", err)
	}
	want := []string{"p", "topic with spaces", "payload"}
	if !reflect.DeepEqual(frame, want) {
		t.Errorf("frame = %q, want %q", frame, want)
	}

	if _, err := src.accept(context.Background(), time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("accept() at end of input error = %v, want io.EOF", err)
	}
}

func TestAcceptMalformedCount(t *testing.T) {
	tests := []string{"uname\n", "0\n", "-1\n", "99\n"}
	for _, input := range tests {
		t.Run(strings.TrimSpace(input), func(t *testing.T) {
			src := newLineSource(strings.NewReader(input))
			defer src.close()
			if _, err := src.accept(context.Background(), 0); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("accept() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestAcceptTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := newLineSource(r)
	defer src.close()

	go func() {
		_, _ = io.WriteString(w, "3\np\n") //nolint:errcheck // reader side decides
	}()

	start := time.Now()
	_, err := src.accept(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrAcceptTimeout) {
		t.Fatalf("accept() error = %v, want ErrAcceptTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("accept() took %v", elapsed)
	}
}

func TestAcceptContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := newLineSource(r)
	defer src.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.accept(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("accept() error = %v, want context.Canceled", err)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		in   string
		size int
		want []string
	}{
		{"", 5, []string{""}},
		{"abc", 5, []string{"abc"}},
		{"abcde", 5, []string{"abcde"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"abc", 0, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := chunk(tt.in, tt.size); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("chunk(%q, %d) = %q, want %q", tt.in, tt.size, got, tt.want)
		}
	}
}

func TestFramedChunks(t *testing.T) {
	got := framedChunks("Y 3", "abcdefghijklmnopqrstuvwxyz0123", 20)
	want := []string{
		"Y 3 1 abcdefghijklmn",
		"Y 3 1 opqrstuvwxyz01",
		"Y 3 0 23",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("framedChunks() = %q, want %q", got, want)
	}
	for _, line := range got {
		if len(line) > 20 {
			t.Errorf("line %q longer than chunk size", line)
		}
	}

	if got := framedChunks("J", "", 50); !reflect.DeepEqual(got, []string{"J 0 "}) {
		t.Errorf("framedChunks(empty) = %q", got)
	}
}
