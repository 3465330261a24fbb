package dashboard

import (
	"context"
	"sync"
	"time"

	"aquarium-dashboard/pkg/events"

	"github.com/rs/zerolog"
)

// Poller periodically re-pulls status and challenges, and re-syncs the service when
// another process changes the store.
type Poller struct {
	svc      *Service
	bus      *events.Bus
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewPoller creates a poller. bus may be nil to disable re-syncing.
func NewPoller(svc *Service, bus *events.Bus, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		svc:      svc,
		bus:      bus,
		interval: interval,
		log:      log,
	}
}

// Start launches the polling loop. It is non-blocking and a no-op when already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	var changes <-chan events.Change
	unsubscribe := func() {}
	if p.bus != nil {
		changes, unsubscribe = p.bus.Subscribe(32)
	}

	go p.run(ctx, p.stopCh, p.doneCh, changes, unsubscribe)
	p.log.Info().Dur("interval", p.interval).Msg("Status poller started")
}

// Stop cancels the timer and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
	p.log.Info().Msg("Status poller stopped")
}

func (p *Poller) run(ctx context.Context, stopCh, doneCh chan struct{}, changes <-chan events.Change, unsubscribe func()) {
	defer close(doneCh)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			p.poll(ctx)

		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if c.External {
				p.log.Debug().Str("key", c.Key).Str("origin", c.Origin).Msg("External change, re-syncing")
				p.svc.Resync(ctx)
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	st := p.svc.RefreshStatus(ctx)
	list := p.svc.Challenges(ctx)
	p.log.Debug().
		Str("overall_status", st.OverallStatus).
		Int("solved", list.Solved).
		Int("total", list.Total).
		Msg("Poll complete")
}
