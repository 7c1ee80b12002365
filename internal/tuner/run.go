package tuner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/0xlemi/polytune/internal/audio"
	"go.uber.org/zap"
)

// DefaultPollInterval polls the capturer at roughly the display refresh rate.
const DefaultPollInterval = 20 * time.Millisecond

// Publisher receives every display snapshot the loop produces
type Publisher func(Display)

// Run starts the capturer, feeds its frames to the engine and publishes the
// resulting snapshots until ctx is cancelled or a finite source ends. On the
// way out it stops capture and publishes a cleared snapshot.
func Run(ctx context.Context, capturer audio.Capturer, engine *Engine, interval time.Duration, publish Publisher, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if err := capturer.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	publish(engine.StartMicrophone())

	defer func() {
		if stopErr := capturer.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("stop capture: %w", stopErr)
		}
		publish(engine.StopMicrophone())
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, err := capturer.GetBuffer()
		switch {
		case errors.Is(err, audio.ErrNoFrame):
			continue
		case errors.Is(err, io.EOF):
			logger.Info("audio source exhausted")
			return nil
		case err != nil:
			return fmt.Errorf("read frame: %w", err)
		}

		display, err := engine.Process(frame)
		if err != nil {
			return err
		}
		publish(display)
	}
}

// Listener runs capture sessions that can be switched on and off, as the
// microphone toggle of the display does.
type Listener struct {
	capturer audio.Capturer
	engine   *Engine
	interval time.Duration
	publish  Publisher
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewListener creates a stopped listener.
func NewListener(capturer audio.Capturer, engine *Engine, interval time.Duration, publish Publisher, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		capturer: capturer,
		engine:   engine,
		interval: interval,
		publish:  publish,
		logger:   logger,
	}
}

// Start begins a capture session in the background.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	l.cancel, l.done = cancel, done

	go func() {
		err := Run(ctx, l.capturer, l.engine, l.interval, l.publish, l.logger)
		if err != nil {
			l.logger.Error("capture session ended", zap.Error(err))
		}
		done <- err

		// A session that ended on its own frees the slot for the next Start
		l.mu.Lock()
		if l.done == done {
			l.cancel, l.done = nil, nil
		}
		l.mu.Unlock()
		cancel()
	}()
}

// Stop ends the current session and waits for it to release the device.
func (l *Listener) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

// Toggle starts a stopped listener or stops a running one.
func (l *Listener) Toggle() error {
	if l.Active() {
		return l.Stop()
	}
	l.Start()
	return nil
}

// Active reports whether a session is running.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
