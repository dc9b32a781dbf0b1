package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/observability/metrics"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("notification queue closed")

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 4
	defaultMaxRetries  = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultSendTimeout = 10 * time.Second
)

// Queue delivers notifications asynchronously through a bounded buffer and a
// fixed set of workers. Each action is retried with exponential backoff.
type Queue struct {
	channels    map[string]Channel
	jobs        chan alerts.Notification
	workers     int
	maxRetries  int
	backoff     time.Duration
	sendTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// QueueOption configures the queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of delivery workers.
func WithWorkers(workers int) QueueOption {
	return func(q *Queue) {
		if workers > 0 {
			q.workers = workers
		}
	}
}

// WithQueueSize sets the buffer capacity.
func WithQueueSize(size int) QueueOption {
	return func(q *Queue) {
		if size > 0 {
			q.jobs = make(chan alerts.Notification, size)
		}
	}
}

// WithRetry sets the retry count and the initial backoff.
func WithRetry(maxRetries int, backoff time.Duration) QueueOption {
	return func(q *Queue) {
		if maxRetries >= 0 {
			q.maxRetries = maxRetries
		}
		if backoff > 0 {
			q.backoff = backoff
		}
	}
}

// WithSendTimeout bounds one delivery attempt.
func WithSendTimeout(timeout time.Duration) QueueOption {
	return func(q *Queue) {
		if timeout > 0 {
			q.sendTimeout = timeout
		}
	}
}

// WithQueueLogger assigns a logger.
func WithQueueLogger(logger zerolog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue constructs a queue routing each action to the channel with the same name.
func NewQueue(channels []Channel, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		channels:    make(map[string]Channel, len(channels)),
		jobs:        make(chan alerts.Notification, defaultQueueSize),
		workers:     defaultWorkers,
		maxRetries:  defaultMaxRetries,
		backoff:     defaultBackoff,
		sendTimeout: defaultSendTimeout,
		logger:      zerolog.Nop(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, ch := range channels {
		if ch != nil {
			q.channels[ch.Name()] = ch
		}
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	q.logger.Info().Int("workers", q.workers).Int("capacity", cap(q.jobs)).Msg("starting notification queue")
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Enqueue hands notification to the workers without blocking.
func (q *Queue) Enqueue(_ context.Context, notification alerts.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return &alerts.NotificationDispatchError{Channel: "queue", Err: ErrQueueClosed}
	}
	select {
	case q.jobs <- notification:
		metrics.SetNotificationQueueDepth(len(q.jobs))
		return nil
	default:
		metrics.IncNotification("queue", metrics.ResultRejected)
		return &alerts.NotificationDispatchError{Channel: "queue", Err: alerts.ErrQueueFull}
	}
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Close stops accepting notifications and waits for pending ones to be delivered.
// When ctx ends first, in-flight retries are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		return nil
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		q.logger.Info().Msg("notification queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log := q.logger.With().Int("worker_id", id).Logger()
	for notification := range q.jobs {
		metrics.SetNotificationQueueDepth(len(q.jobs))
		q.deliver(log, notification)
	}
}

func (q *Queue) deliver(log zerolog.Logger, notification alerts.Notification) {
	log = log.With().
		Str("alert_id", notification.Alert.ID).
		Str("rule_id", notification.Alert.RuleID).
		Str("sensor_id", notification.Alert.SensorID).
		Logger()
	for _, action := range notification.Actions {
		channel, ok := q.channels[action]
		if !ok {
			metrics.IncNotification(action, "unrouted")
			log.Warn().Str("channel", action).Msg("no channel configured for action")
			continue
		}
		if err := q.sendSafely(channel, notification.Alert); err != nil {
			dispatchErr := &alerts.NotificationDispatchError{Channel: action, Err: err}
			metrics.IncNotification(action, metrics.ResultError)
			metrics.IncAlertError(alerts.ErrorKind(dispatchErr))
			log.Error().Err(dispatchErr).Str("channel", action).Str("error_kind", alerts.ErrorKind(dispatchErr)).Msg("notification delivery failed")
			continue
		}
		metrics.IncNotification(action, metrics.ResultSuccess)
	}
}

func (q *Queue) sendSafely(channel Channel, alert alerts.AlertRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPanicRecovered("notification_queue")
			q.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("channel", channel.Name()).
				Msg("notification channel panic recovered")
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return q.sendWithRetry(channel, alert)
}

func (q *Queue) sendWithRetry(channel Channel, alert alerts.AlertRecord) error {
	var lastErr error
	backoff := q.backoff
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			q.logger.Warn().
				Str("channel", channel.Name()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying notification")
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-q.ctx.Done():
				return q.ctx.Err()
			}
		}

		ctx, cancel := context.WithTimeout(q.ctx, q.sendTimeout)
		err := channel.Send(ctx, alert)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", q.maxRetries+1, lastErr)
}
