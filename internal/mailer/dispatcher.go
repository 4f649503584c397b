package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pribylovaa/accounts-auth/internal/metrics"
	"github.com/pribylovaa/accounts-auth/internal/pkg/redact"
)

// DispatcherConfig — параметры очереди доставки.
type DispatcherConfig struct {
	QueueSize  int
	Workers    int
	MaxRetries uint64
	BaseDelay  time.Duration
}

type job struct {
	to   string
	tmpl Template
	data map[string]any
}

// Dispatcher — ограниченная очередь писем с пулом воркеров.
// Send никогда не блокирует вызывающего: при переполнении письмо отбрасывается.
type Dispatcher struct {
	sender Sender
	log    *slog.Logger
	cfg    DispatcherConfig

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher создаёт Dispatcher и запускает воркеры.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		log:    logger,
		cfg:    cfg,
		queue:  make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Send ставит письмо в очередь.
func (d *Dispatcher) Send(to string, tmpl Template, data map[string]any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(to, tmpl, "dispatcher_closed")
		return
	}

	select {
	case d.queue <- job{to: to, tmpl: tmpl, data: data}:
	default:
		d.drop(to, tmpl, "queue_full")
	}
}

// Close перестаёт принимать письма и дожидается опустошения очереди.
// Если ctx завершится раньше, незавершённые повторы прерываются.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	const op = "mailer.Dispatcher.deliver"

	msg, err := Render(j.to, j.tmpl, j.data)
	if err != nil {
		d.log.Error("mail_render_failed",
			slog.String("op", op),
			slog.String("template", string(j.tmpl)),
			slog.String("err", err.Error()),
		)
		metrics.RecordMail(string(j.tmpl), metrics.ResultError)
		return
	}

	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.BaseDelay))
	err = retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		if err := d.sender.Deliver(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.log.Error("mail_send_failed",
			slog.String("op", op),
			slog.String("to", redact.Email(j.to)),
			slog.String("template", string(j.tmpl)),
			slog.String("err", err.Error()),
		)
		metrics.RecordMail(string(j.tmpl), metrics.ResultError)
		return
	}

	metrics.RecordMail(string(j.tmpl), metrics.ResultOK)
}

func (d *Dispatcher) drop(to string, tmpl Template, reason string) {
	d.log.Warn("mail_dropped",
		slog.String("to", redact.Email(to)),
		slog.String("template", string(tmpl)),
		slog.String("reason", reason),
	)
	metrics.RecordMail(string(tmpl), metrics.ResultDropped)
}

var _ Mailer = (*Dispatcher)(nil)
