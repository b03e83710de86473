package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
	"github.com/nerrad567/gray-logic-edge/internal/shadow"
)

// DefaultChunkSize is the longest line written to the remote client.
const DefaultChunkSize = 50

// Session is the part of mqttcore.Core the bridge drives.
type Session interface {
	ClientID() string
	Configure(broker mqttcore.BrokerConfig) error
	Connect(keepAlive time.Duration) error
	Disconnect() error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, qos byte, handler mqttcore.MessageHandler) error
	Unsubscribe(topic string) error
	SetDrainingInterval(d time.Duration) error
	SetOfflinePublishQueueing(size int, policy mqttcore.DropPolicy) error
	SetBackoffTime(base, max, minStable time.Duration) error
	SetConnectDisconnectTimeout(d time.Duration) error
	SetOperationTimeout(d time.Duration) error
}

// Ensure mqttcore.Core implements Session.
var _ Session = (*mqttcore.Core)(nil)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Session is the MQTT session commands act on.
	Session Session

	// Shadows stores shadow documents. If nil, shadow commands fail.
	Shadows shadow.Repository

	// HistoryLimit bounds stored shadow documents per thing. 0 means unlimited.
	HistoryLimit int

	// ChunkSize is the longest response line. Default: 50.
	ChunkSize int

	// AcceptTimeout bounds reading one frame. Zero never times out.
	AcceptTimeout time.Duration

	// InboxSize bounds messages waiting to be yielded. Default: 256.
	InboxSize int

	// Logger is optional structured logger.
	Logger Logger
}

type handlerFunc func(ctx context.Context, params []string) []string

type command struct {
	params int
	run    handlerFunc
}

// Bridge serves the line protocol used by a microcontroller to drive an
// MQTT session over a serial link.
//
// Thread Safety:
//   - Serve handles one frame at a time; it must not be called concurrently.
//   - Incoming messages and shadow notifications may arrive from any goroutine.
type Bridge struct {
	session       Session
	repo          shadow.Repository
	historyLimit  int
	chunkSize     int
	acceptTimeout time.Duration
	inbox         *inbox
	commands      map[string]command

	// stateMu guards protocol state changed by commands.
	stateMu     sync.Mutex
	initialized bool
	topicSlots  map[string]int

	// shadowMu guards shadow sessions and the request-to-slot routing.
	shadowMu  sync.Mutex
	things    map[string]*thingSession
	requests  map[string]int
	keyThings map[string]string
	jsonLines []string

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge for opts.Session. Call Serve to start handling frames.
func New(opts Options) (*Bridge, error) {
	if opts.Session == nil {
		return nil, ErrSessionRequired
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.HistoryLimit != 0 && opts.HistoryLimit < 3 {
		return nil, shadow.ErrInvalidHistoryLimit
	}

	b := &Bridge{
		session:       opts.Session,
		repo:          opts.Shadows,
		historyLimit:  opts.HistoryLimit,
		chunkSize:     opts.ChunkSize,
		acceptTimeout: opts.AcceptTimeout,
		inbox:         newInbox(opts.InboxSize),
		topicSlots:    make(map[string]int),
		things:        make(map[string]*thingSession),
		requests:      make(map[string]int),
		keyThings:     make(map[string]string),
		logger:        opts.Logger,
	}
	b.commands = b.commandTable()
	return b, nil
}

func (b *Bridge) commandTable() map[string]command {
	return map[string]command{
		"i":    {3, b.cmdInit},
		"g":    {5, b.cmdConfigure},
		"c":    {1, b.cmdConnect},
		"d":    {0, b.cmdDisconnect},
		"p":    {4, b.cmdPublish},
		"s":    {3, b.cmdSubscribe},
		"u":    {1, b.cmdUnsubscribe},
		"z":    {0, b.cmdLock},
		"y":    {0, b.cmdYield},
		"di":   {1, b.cmdDrainingInterval},
		"pq":   {2, b.cmdOfflineQueueing},
		"bf":   {3, b.cmdBackoff},
		"cdt":  {1, b.cmdConnectDisconnectTimeout},
		"mot":  {1, b.cmdOperationTimeout},
		"si":   {2, b.cmdShadowInit},
		"s_rd": {2, b.cmdShadowRegisterDelta},
		"s_ud": {1, b.cmdShadowUnregisterDelta},
		"sg":   {3, b.cmdShadowGet},
		"su":   {4, b.cmdShadowUpdate},
		"sd":   {3, b.cmdShadowDelete},
		"j":    {3, b.cmdJSONValue},
	}
}

// Serve reads frames from r and writes responses to w until r reaches EOF
// or ctx is cancelled. Frames that time out or cannot be parsed are logged
// and skipped.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	src := newLineSource(r)
	defer src.close()
	out := bufio.NewWriter(w)

	b.logInfo("serial bridge serving", "chunk_size", b.chunkSize, "accept_timeout", b.acceptTimeout)
	for {
		frame, err := src.accept(ctx, b.acceptTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrAcceptTimeout), errors.Is(err, ErrMalformedFrame):
			b.logWarn("frame discarded", "error", err)
			continue
		case errors.Is(err, io.EOF):
			b.logInfo("serial bridge input closed")
			return nil
		default:
			return err
		}

		lines := b.execute(ctx, frame[0], frame[1:])
		if err := b.writeLines(out, lines); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// execute runs one command and returns its response lines.
func (b *Bridge) execute(ctx context.Context, name string, params []string) []string {
	b.logDebug("bridge command", "command", name, "params", len(params))

	if name == "~" {
		b.reset()
		return nil
	}

	cmd, ok := b.commands[name]
	if !ok {
		return []string{"X F: Unknown command."}
	}
	code := strings.ToUpper(name)
	if name != "i" && !b.isInitialized() {
		return []string{failure(code, "1", "No setup.")}
	}
	if len(params) != cmd.params {
		return []string{failure(code, "2", fmt.Sprintf("expected %d parameters, got %d", cmd.params, len(params)))}
	}
	return cmd.run(ctx, params)
}

// writeLines writes each response line, split into chunkSize pieces.
func (b *Bridge) writeLines(w *bufio.Writer, lines []string) error {
	for _, line := range lines {
		for _, piece := range chunk(line, b.chunkSize) {
			if _, err := w.WriteString(piece + "\n"); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// reset drops protocol state left by an earlier client session. Broker
// subscriptions and shadow listeners stay in place.
func (b *Bridge) reset() {
	b.stateMu.Lock()
	b.initialized = false
	b.stateMu.Unlock()

	b.inbox.reset()

	b.shadowMu.Lock()
	b.jsonLines = nil
	b.shadowMu.Unlock()

	b.logInfo("bridge session reset")
}

func (b *Bridge) isInitialized() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.initialized
}

// Close stops every shadow listener started through the bridge.
func (b *Bridge) Close() error {
	b.shadowMu.Lock()
	things := b.things
	b.things = make(map[string]*thingSession)
	b.shadowMu.Unlock()

	var errs []error
	for name, ts := range things {
		if err := ts.listener.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping shadow listener %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// PendingMessages returns the number of messages waiting to be yielded.
func (b *Bridge) PendingMessages() int {
	return b.inbox.len()
}

func success(code string) string {
	return code + " T"
}

func failure(code, reason, detail string) string {
	return code + reason + "F: " + detail
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
