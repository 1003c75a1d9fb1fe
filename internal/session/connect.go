package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basketwire/backend/internal/realtime"
	"go.uber.org/zap"
)

var (
	// ErrSubscribeTimeout indicates a subscribe call that never acknowledged
	// within the attempt bound.
	ErrSubscribeTimeout = errors.New("session: subscribe timeout, no acknowledgment from transport")
	// ErrRetriesExhausted indicates every connect attempt failed.
	ErrRetriesExhausted = errors.New("session: channel connect failed after all retries")
)

// ConnectConfig describes one channel connection attempt sequence.
type ConnectConfig struct {
	Transport realtime.Transport
	// ChannelName is evaluated per attempt so each attempt gets a fresh,
	// time-suffixed channel identity that cannot collide with a stale
	// subscription left by a crashed prior session.
	ChannelName  func() string
	Subscription realtime.Subscription
	// Attach wires message and presence handlers onto the channel once the
	// subscribe call has been acknowledged.
	Attach func(channel realtime.Channel)
	Logger *zap.Logger
	// Sleep is swappable in tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Connect subscribes to a channel with bounded retries and exponential
// backoff. Every attempt is raced against ConnectAttemptTimeout so a
// transport that never acknowledges cannot stall the caller. A failed
// attempt unsubscribes its partial channel best-effort before retrying.
// On success the returned channel has the Attach handlers installed.
func Connect(ctx context.Context, cfg ConnectConfig) (realtime.Channel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = waitFor
	}

	var lastErr error
	for attempt := 1; attempt <= MaxConnectAttempts; attempt++ {
		name := cfg.ChannelName()
		channel := cfg.Transport.Channel(name)

		err := subscribeWithTimeout(ctx, channel, cfg.Subscription, logger)
		if err == nil {
			if cfg.Attach != nil {
				cfg.Attach(channel)
			}
			logger.Info("channel connected",
				zap.String("channel", name),
				zap.Int("attempt", attempt))
			return channel, nil
		}

		lastErr = err
		logger.Warn("channel connect attempt failed",
			zap.String("channel", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", MaxConnectAttempts),
			zap.Error(err))

		releaseChannel(channel, logger)

		if attempt < MaxConnectAttempts {
			if err := sleep(ctx, Backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

func subscribeWithTimeout(ctx context.Context, channel realtime.Channel, sub realtime.Subscription, logger *zap.Logger) error {
	attemptCtx, cancel := context.WithTimeout(ctx, ConnectAttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- channel.Subscribe(attemptCtx, sub)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		// The straggling subscribe call may still acknowledge after the
		// attempt is abandoned. Drain it and release the channel once more
		// so a late success cannot leave an orphan subscription behind.
		go func() {
			if err := <-done; err == nil {
				logger.Warn("late subscribe acknowledgment after abandoned attempt, releasing")
				releaseChannel(channel, logger)
			}
		}()
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return ErrSubscribeTimeout
		}
		return attemptCtx.Err()
	}
}

// ReleaseChannel unsubscribes bounded by UnsubscribeTimeout. A timeout or
// error is tolerated, logged and swallowed: cleanup proceeds regardless.
func ReleaseChannel(channel realtime.Channel, logger *zap.Logger) {
	releaseChannel(channel, logger)
}

func releaseChannel(channel realtime.Channel, logger *zap.Logger) {
	if channel == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), UnsubscribeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- channel.Unsubscribe(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("channel unsubscribe failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Warn("channel unsubscribe timed out")
	}
}

func waitFor(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
