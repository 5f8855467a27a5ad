package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/metrics"
	"github.com/sweeney/step-sensor/internal/store"
)

// writeTimeout bounds a single store write.
const writeTimeout = 5 * time.Second

type op struct {
	key   string
	value string
	ack   chan struct{} // flush marker; key and value unused
}

// writer applies store writes on its own goroutine so a slow store never
// blocks reading processing. Failures are logged and counted; in-memory
// state stays authoritative.
type writer struct {
	store   store.Store
	ops     chan op
	done    chan struct{}
	metrics *metrics.Metrics
	log     *zap.Logger
}

func newWriter(s store.Store, size int, m *metrics.Metrics, log *zap.Logger) *writer {
	w := &writer{
		store:   s,
		ops:     make(chan op, size),
		done:    make(chan struct{}),
		metrics: m,
		log:     log,
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for o := range w.ops {
		if o.ack != nil {
			close(o.ack)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.store.Set(ctx, o.key, o.value)
		cancel()
		if err != nil {
			w.metrics.PersistError()
			w.log.Warn("persist failed", zap.String("key", o.key), zap.Error(err))
		}
	}
}

// enqueue blocks only when the queue is full.
func (w *writer) enqueue(key, value string) {
	w.ops <- op{key: key, value: value}
}

func (w *writer) flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.ops <- op{ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	close(w.ops)
	<-w.done
}
