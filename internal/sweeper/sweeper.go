// Package sweeper периодически закрывает истёкшие подписки и убирает пользователей из каналов.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vipgate/internal/access"
	"vipgate/internal/metrics"
	"vipgate/internal/subscription"
)

const DefaultInterval = 5 * time.Minute

type Store interface {
	FindActiveDue(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)
	MarkInactive(ctx context.Context, id string, endAtSeen, now time.Time) (bool, error)
	MarkKicked(ctx context.Context, id string, now time.Time) error
}

type AccessController interface {
	Revoke(ctx context.Context, userID, channelID string) access.Result
	NotifyExpired(ctx context.Context, userID string) error
}

type Notifier interface {
	Expired(ctx context.Context, sub *subscription.Subscription)
}

// Report: итог одного прохода.
type Report struct {
	Scanned      int      `json:"scanned"`
	Expired      int      `json:"expired"`
	Skipped      int      `json:"skipped"`
	RevokeFailed int      `json:"revoke_failed"`
	NotifyFailed int      `json:"notify_failed"`
	Errors       []string `json:"errors,omitempty"`
}

func (r *Report) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

type Sweeper struct {
	store    Store
	access   AccessController
	notifier Notifier
	logger   zerolog.Logger
	interval time.Duration

	mu   sync.Mutex // один проход за раз, в том числе ручной
	cron *cron.Cron
}

func New(store Store, ac AccessController, n Notifier, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    store,
		access:   ac,
		notifier: n,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// RunOnce проходит по всем активным подпискам с EndAt <= now.
// Ошибка по одной подписке не прерывает проход.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var report Report
	due, err := s.store.FindActiveDue(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweeper: failed to load due subscriptions")
		report.addError(fmt.Errorf("find due: %w", err))
		return report
	}
	report.Scanned = len(due)

	for _, sub := range due {
		if ctx.Err() != nil {
			report.addError(ctx.Err())
			break
		}
		s.expire(ctx, sub, now, &report)
	}

	if report.Scanned > 0 || len(report.Errors) > 0 {
		s.logger.Info().
			Int("scanned", report.Scanned).
			Int("expired", report.Expired).
			Int("skipped", report.Skipped).
			Int("revoke_failed", report.RevokeFailed).
			Int("notify_failed", report.NotifyFailed).
			Int("errors", len(report.Errors)).
			Msg("Sweeper: run finished")
	}
	return report
}

func (s *Sweeper) expire(ctx context.Context, sub *subscription.Subscription, now time.Time, report *Report) {
	log := s.logger.With().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Logger()

	changed, err := s.store.MarkInactive(ctx, sub.ID, sub.EndAt, now)
	if err != nil {
		log.Error().Err(err).Msg("Sweeper: failed to deactivate subscription")
		report.addError(fmt.Errorf("deactivate %s: %w", sub.ID, err))
		return
	}
	if !changed {
		// продлили между выборкой и обновлением
		log.Info().Msg("Sweeper: subscription changed concurrently, skipped")
		report.Skipped++
		return
	}
	report.Expired++
	metrics.SubscriptionsExpiredTotal.Inc()

	channelID := sub.Channel()
	if channelID == "" {
		// канала нет, остаётся только сообщение пользователю
		if err := s.access.NotifyExpired(ctx, sub.UserID); err != nil {
			report.NotifyFailed++
			log.Warn().Err(err).Msg("Sweeper: expiry message not delivered")
		}
	} else {
		res := s.access.Revoke(ctx, sub.UserID, channelID)
		if !res.OK {
			report.RevokeFailed++
			log.Warn().Err(res.Err).Str("channel_id", channelID).Msg("Sweeper: failed to remove user from channel")
		}
		var delivery *access.DeliveryError
		if errors.As(res.Err, &delivery) {
			report.NotifyFailed++
			log.Warn().Err(delivery).Msg("Sweeper: expiry message not delivered")
		}
		if res.OK {
			if err := s.store.MarkKicked(ctx, sub.ID, now); err != nil {
				log.Error().Err(err).Msg("Sweeper: failed to mark subscription as kicked")
				report.addError(fmt.Errorf("mark kicked %s: %w", sub.ID, err))
			}
		}
	}

	s.notifier.Expired(ctx, sub)
	log.Info().Time("end_at", sub.EndAt).Msg("Sweeper: subscription expired")
}

// Start запускает RunOnce по расписанию. Проходы не пересекаются.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.RunOnce(ctx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.cron = c
	c.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("Sweeper: started")
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Sweeper: stopped")
}

// cronLogger пишет события cron в zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
