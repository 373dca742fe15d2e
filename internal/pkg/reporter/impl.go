package reporter

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valkey-io/valkey-go"
	"github.com/vreid/baishi/internal/pkg/match"
	"go.uber.org/zap"
)

const DefaultChannel = "baishi:steps"

// LogReporter writes one structured line per step.
type LogReporter struct {
	Logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{
		Logger: logger.Named("match"),
	}
}

func (r *LogReporter) Report(event match.StepEvent) {
	fields := []zap.Field{
		zap.String("step", string(event.Step)),
		zap.Time("time", event.Time),
	}

	if event.MatchID != "" {
		fields = append(fields, zap.String("match_id", event.MatchID))
	}

	if event.Handle != "" {
		fields = append(fields, zap.String("match_handle", string(event.Handle)))
	}

	p := event.Payload

	switch event.Step {
	case match.StepDeposit:
		fields = append(fields, zap.String("player", p.Player), zap.String("amount", p.Amount))
	case match.StepStart:
		fields = append(fields, zap.String("player_a", p.PlayerA), zap.String("player_b", p.PlayerB))
	case match.StepEnd:
		fields = append(fields,
			zap.Uint64("score_a", p.ScoreA),
			zap.Uint64("score_b", p.ScoreB),
			zap.String("winner", p.Winner))

		if p.RecordedWinner != "" {
			fields = append(fields, zap.String("recorded_winner", p.RecordedWinner))
		}
	case match.StepPayout:
		fields = append(fields, zap.String("winner", p.Winner), zap.String("amount", p.Amount))
	case match.StepSelect, match.StepScore:
	}

	if p.TxHash != "" {
		fields = append(fields, zap.String("tx_hash", p.TxHash))
	}

	r.Logger.Info("step confirmed", fields...)
}

// ChannelReporter forwards events to consumers. It never blocks the
// pipeline: when the buffer is full, or the reporter has been closed, the
// event is dropped and counted.
type ChannelReporter struct {
	Sink chan<- match.StepEvent

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewChannelReporter(sink chan<- match.StepEvent) *ChannelReporter {
	return &ChannelReporter{
		Sink: sink,
	}
}

func (r *ChannelReporter) Report(event match.StepEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)

		return
	}

	select {
	case r.Sink <- event:
	default:
		r.dropped.Add(1)
	}
}

// Close closes the sink once. Reports racing with or following Close are
// dropped.
func (r *ChannelReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	close(r.Sink)
}

func (r *ChannelReporter) Dropped() int64 {
	return r.dropped.Load()
}

const defaultValkeyBuffer = 1000

// ValkeyReporter publishes every event as JSON on a pub/sub channel. Events
// are queued and published from a background goroutine, so a slow or
// unreachable server never stalls the pipeline; a full queue drops events.
type ValkeyReporter struct {
	Channel string
	Timeout time.Duration
	Logger  *zap.Logger

	publish func(ctx context.Context, channel, message string) error
	closer  func()

	queue   chan []byte
	done    chan struct{}
	dropped atomic.Int64

	mu       sync.RWMutex
	closed   bool
	shutdown sync.Once
}

func NewValkeyReporter(addr string, logger *zap.Logger) (*ValkeyReporter, error) {
	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	publish := func(ctx context.Context, channel, message string) error {
		//nolint:wrapcheck
		return client.Do(ctx, client.B().Publish().Channel(channel).Message(message).Build()).Error()
	}

	return NewPublishReporter(publish, client.Close, logger), nil
}

// NewPublishReporter runs the queue of a ValkeyReporter on top of an
// arbitrary publish function. closer may be nil.
func NewPublishReporter(
	publish func(ctx context.Context, channel, message string) error,
	closer func(),
	logger *zap.Logger,
) *ValkeyReporter {
	r := &ValkeyReporter{
		Channel: DefaultChannel,
		Timeout: 5 * time.Second, //nolint:mnd
		Logger:  logger.Named("valkey"),
		publish: publish,
		closer:  closer,
		queue:   make(chan []byte, defaultValkeyBuffer),
		done:    make(chan struct{}),
	}

	go r.run()

	return r
}

func (r *ValkeyReporter) Report(event match.StepEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		r.Logger.Warn("failed to marshal step event", zap.Error(err))

		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)

		return
	}

	select {
	case r.queue <- message:
	default:
		r.dropped.Add(1)
	}
}

func (r *ValkeyReporter) Dropped() int64 {
	return r.dropped.Load()
}

func (r *ValkeyReporter) run() {
	defer close(r.done)

	for message := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)

		err := r.publish(ctx, r.Channel, string(message))
		if err != nil {
			r.Logger.Warn("failed to publish step event", zap.String("channel", r.Channel), zap.Error(err))
		}

		cancel()
	}
}

// Shutdown stops accepting events, publishes what is queued and closes the
// client.
func (r *ValkeyReporter) Shutdown() error {
	r.shutdown.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		<-r.done

		if r.closer != nil {
			r.closer()
		}
	})

	return nil
}

// Multi reports to every reporter in order.
type Multi []match.Reporter

func (m Multi) Report(event match.StepEvent) {
	for _, r := range m {
		r.Report(event)
	}
}
