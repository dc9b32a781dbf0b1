package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/observability/metrics"
)

var (
	// ErrPoolFull is returned when the shard for a sensor has no free slot.
	ErrPoolFull = errors.New("ingest pool: queue full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("ingest pool: closed")
)

const (
	defaultWorkers    = 8
	defaultShardQueue = 256
	defaultTimeout    = 5 * time.Second
)

// Detector runs alert detection for one reading.
type Detector interface {
	DetectAlerts(ctx context.Context, reading alerts.SensorReading) []alerts.AlertRecord
}

// Config holds pool configuration.
type Config struct {
	Detector   Detector
	Workers    int
	ShardQueue int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Pool runs detection off the request path. Readings of one sensor always
// land on the same worker so they are evaluated in arrival order.
type Pool struct {
	detector Detector
	shards   []chan alerts.SensorReading
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool and starts its workers.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Detector == nil {
		return nil, errors.New("ingest pool: nil detector")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ShardQueue <= 0 {
		cfg.ShardQueue = defaultShardQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		detector: cfg.Detector,
		shards:   make([]chan alerts.SensorReading, cfg.Workers),
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.logger.Info().
		Int("workers", cfg.Workers).
		Int("shard_queue", cfg.ShardQueue).
		Dur("timeout", cfg.Timeout).
		Msg("starting ingest pool")
	for i := range p.shards {
		p.shards[i] = make(chan alerts.SensorReading, cfg.ShardQueue)
		p.wg.Add(1)
		go p.worker(i, p.shards[i])
	}
	return p, nil
}

// Submit queues reading without blocking.
func (p *Pool) Submit(reading alerts.SensorReading) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.shards[p.shardFor(reading.SensorID)] <- reading:
		return nil
	default:
		return ErrPoolFull
	}
}

// Pending returns the number of queued readings.
func (p *Pool) Pending() int {
	total := 0
	for _, shard := range p.shards {
		total += len(shard)
	}
	return total
}

// Close stops intake and drains queued readings. When ctx ends first, the
// in-flight detections are cancelled and the rest are dropped.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		p.logger.Info().Msg("ingest pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) shardFor(sensorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sensorID))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pool) worker(id int, readings <-chan alerts.SensorReading) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker_id", id).Logger()
	for reading := range readings {
		if p.ctx.Err() != nil {
			continue
		}
		p.detect(log, reading)
	}
}

func (p *Pool) detect(log zerolog.Logger, reading alerts.SensorReading) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPanicRecovered("ingest_worker")
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("sensor_id", reading.SensorID).
				Msg("ingest worker panic recovered")
		}
	}()
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	fired := p.detector.DetectAlerts(ctx, reading)
	if len(fired) > 0 {
		log.Debug().Str("sensor_id", reading.SensorID).Int("alerts", len(fired)).Msg("reading raised alerts")
	}
}
