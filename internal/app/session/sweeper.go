package session

import (
	"context"
	"sync"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	appmetrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often idle sessions are reaped.
const DefaultSweepInterval = 5 * time.Minute

// Archive persists sessions once they leave the live store.
type Archive interface {
	Save(ctx context.Context, session *model.ClickSession) error
}

// Sweeper periodically expires idle sessions and archives them.
type Sweeper struct {
	logger   *zap.Logger
	store    Store
	archive  Archive
	interval time.Duration
	nowFn    func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper; call Start to begin the schedule.
func NewSweeper(log *zap.Logger, store Store, archive Archive, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:   logger.OrNop(log).Named("session_sweeper"),
		store:    store,
		archive:  archive,
		interval: interval,
		nowFn:    func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			_, _ = s.Sweep(ctx)
			cancel()
		case <-s.stopChan:
			s.logger.Info("session sweeper stopped")
			return
		}
	}
}

// Sweep expires idle sessions once and returns how many were archived.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.nowFn()

	expired, err := s.store.ExpireStale(ctx, now)
	if err != nil {
		s.logger.Error("failed to expire idle sessions", zap.Error(err))
		if len(expired) == 0 {
			return 0, err
		}
	}

	archived := 0
	for i := range expired {
		if archiveErr := s.archive.Save(ctx, &expired[i]); archiveErr != nil {
			s.logger.Error("failed to archive session",
				logger.SessionID(expired[i].SessionID),
				zap.Error(archiveErr),
			)
			continue
		}
		archived++
	}
	appmetrics.SessionsExpired.Add(float64(len(expired)))

	if len(expired) > 0 {
		s.logger.Info("expired idle sessions",
			zap.Int("count", len(expired)),
			zap.Int("archived", archived),
			zap.Time("now", now),
		)
	}
	return archived, err
}
