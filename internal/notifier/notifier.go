// Package notifier delivers cascade signals to an alert sink. All
// deduplication and rate limiting for alerts lives here: the engine publishes
// every signal and the notifier decides which ones a human should see.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

// SignalSource hands out independent signal subscriptions. The engine
// implements it.
type SignalSource interface {
	Subscribe(buffer int) (<-chan models.CascadeSignal, func())
}

// Sink delivers one formatted alert.
type Sink interface {
	Name() string
	Send(ctx context.Context, sig models.CascadeSignal) error
}

// sentRecord tracks the last alert delivered for a symbol.
type sentRecord struct {
	level      models.SignalLevel
	at         time.Time
	suppressed int
}

// Notifier filters engine signals down to alerts worth sending. A signal
// passes when it reaches the minimum level and the symbol is outside its
// cooldown window; a strictly higher level than the last sent alert bypasses
// the cooldown so an escalating cascade is never silenced.
type Notifier struct {
	cfg      *appconfig.Config
	source   SignalSource
	sink     Sink
	fallback Sink
	log      *logger.Log
	minLevel models.SignalLevel
	cooldown time.Duration

	ctx         context.Context
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	signals     <-chan models.CascadeSignal
	unsubscribe func()
	lastSent    map[string]sentRecord
}

// New builds a notifier from config. When Telegram is enabled but cannot be
// reached the notifier degrades to the log sink instead of failing, so a bad
// token never takes the detection pipeline down.
func New(cfg *appconfig.Config, source SignalSource) *Notifier {
	log := logger.GetLogger()

	minLevel, err := models.ParseLevel(cfg.Notifier.MinLevel)
	if err != nil {
		minLevel = models.LevelAlert
		log.WithComponent("notifier").WithError(err).Warn("invalid notifier min level, defaulting to ALERT")
	}

	fallback := newLogSink(log)
	var sink Sink = fallback
	if cfg.Notifier.Telegram.Enabled {
		tg, err := NewTelegramSink(cfg.Notifier.Telegram)
		if err != nil {
			log.WithComponent("notifier").WithError(err).Warn("telegram sink unavailable, alerts go to the log")
		} else {
			sink = tg
		}
	}

	cooldown := cfg.Notifier.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	log.WithComponent("notifier").WithFields(logger.Fields{
		"sink":      sink.Name(),
		"min_level": minLevel.String(),
		"cooldown":  cooldown.String(),
	}).Info("notifier initialized")

	return &Notifier{
		cfg:      cfg,
		source:   source,
		sink:     sink,
		fallback: fallback,
		log:      log,
		minLevel: minLevel,
		cooldown: cooldown,
		wg:       &sync.WaitGroup{},
		lastSent: make(map[string]sentRecord),
	}
}

// Start subscribes to the signal source and launches the dispatch worker.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("notifier already running")
	}
	n.running = true
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.signals, n.unsubscribe = n.source.Subscribe(n.cfg.Notifier.Buffer)
	n.lastSent = make(map[string]sentRecord)
	n.mu.Unlock()

	n.log.WithComponent("notifier").Info("starting notifier")

	n.wg.Add(1)
	go n.worker()

	return nil
}

// Stop detaches from the signal source and waits for the worker.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	unsubscribe := n.unsubscribe
	cancel := n.cancel
	n.unsubscribe = nil
	n.cancel = nil
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	n.wg.Wait()
	n.log.WithComponent("notifier").Info("notifier stopped")
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case sig, ok := <-n.signals:
			if !ok {
				return
			}
			n.dispatch(sig)
		}
	}
}

func (n *Notifier) dispatch(sig models.CascadeSignal) {
	if sig.Level < n.minLevel || sig.Symbol == "" {
		return
	}

	n.mu.Lock()
	rec, seen := n.lastSent[sig.Symbol]
	inCooldown := seen && time.Since(rec.at) < n.cooldown
	escalated := seen && sig.Level > rec.level
	if inCooldown && !escalated {
		rec.suppressed++
		n.lastSent[sig.Symbol] = rec
		n.mu.Unlock()

		metrics.IncNotification(n.sink.Name(), "suppressed")
		n.log.WithComponent("notifier").WithFields(logger.Fields{
			"symbol":     sig.Symbol,
			"level":      sig.Level.String(),
			"suppressed": rec.suppressed,
		}).Debug("alert suppressed by cooldown")
		return
	}
	suppressed := rec.suppressed
	n.lastSent[sig.Symbol] = sentRecord{level: sig.Level, at: time.Now()}
	n.mu.Unlock()

	fields := logger.Fields{
		"symbol":      sig.Symbol,
		"level":       sig.Level.String(),
		"probability": sig.Probability,
		"escalated":   escalated,
	}
	if suppressed > 0 {
		fields["suppressed_since_last"] = suppressed
	}

	if err := n.sink.Send(n.ctx, sig); err != nil {
		metrics.IncNotification(n.sink.Name(), "failed")
		n.log.WithComponent("notifier").WithError(err).WithFields(fields).Warn("alert delivery failed, writing to log sink")

		if n.fallback != nil && n.fallback != n.sink {
			if err := n.fallback.Send(n.ctx, sig); err == nil {
				metrics.IncNotification(n.fallback.Name(), "ok")
			}
		}
		return
	}

	metrics.IncNotification(n.sink.Name(), "ok")
	n.log.WithComponent("notifier").WithFields(fields).Info("alert sent")
}
