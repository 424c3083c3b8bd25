// Package otp implements the one-time code handshake: a browser shows an issued code,
// a trusted client validates it, and the browser polls until it sees the validation.
package otp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-password/password"

	"medialoader/internal/config"
	"medialoader/internal/errs"
	"medialoader/internal/observability"
)

const (
	codeLength = 6
	// maxAttempts bounds the retries on a code collision.
	maxAttempts = 10
)

type entry struct {
	validated bool
	expiresAt time.Time
}

// Registry holds issued codes until they are consumed or expire.
type Registry struct {
	log     *slog.Logger
	cfg     config.OTP
	metrics *observability.Metrics

	mu    sync.Mutex
	codes map[string]entry
}

func New(log *slog.Logger, cfg config.OTP, metrics *observability.Metrics) *Registry {
	return &Registry{
		log:     log.With(slog.String("package", "otp")),
		cfg:     cfg,
		metrics: metrics,
		codes:   make(map[string]entry),
	}
}

// Issue returns a fresh numeric code valid for the configured TTL.
func (r *Registry) Issue(ctx context.Context) (string, error) {
	for range maxAttempts {
		code, err := password.Generate(codeLength, codeLength, 0, false, true)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}

		r.mu.Lock()
		if _, taken := r.codes[code]; taken {
			r.mu.Unlock()

			continue
		}

		r.codes[code] = entry{expiresAt: time.Now().Add(r.cfg.TTL)}
		r.mu.Unlock()

		r.metrics.RecordOTPIssued()
		r.log.InfoContext(ctx, "otp issued", slog.String("otp", code))

		return code, nil
	}

	return "", fmt.Errorf("generate otp: %d collisions in a row", maxAttempts)
}

// Validate marks an issued code as validated and restarts its TTL.
func (r *Registry) Validate(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.codes[code]
	if !ok || time.Now().After(e.expiresAt) {
		return fmt.Errorf("%w: %s", errs.ErrOTPNotFound, code)
	}

	r.codes[code] = entry{validated: true, expiresAt: time.Now().Add(r.cfg.TTL)}
	r.log.InfoContext(ctx, "otp validated", slog.String("otp", code))

	return nil
}

// Status reports whether code was validated. A validated code is consumed.
func (r *Registry) Status(ctx context.Context, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.codes[code]
	if !ok || !e.validated || time.Now().After(e.expiresAt) {
		return false
	}

	delete(r.codes, code)
	r.log.DebugContext(ctx, "otp consumed", slog.String("otp", code))

	return true
}

// Len returns the number of live codes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.codes)
}

// Prune drops expired codes and returns how many were dropped.
func (r *Registry) Prune(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	pruned := 0

	for code, e := range r.codes {
		if now.After(e.expiresAt) {
			delete(r.codes, code)
			pruned++
		}
	}

	if pruned > 0 {
		r.log.DebugContext(ctx, "expired otps pruned", slog.Int("count", pruned))
	}

	return pruned
}

// StartPruner prunes expired codes every PruneInterval until ctx is done.
func (r *Registry) StartPruner(ctx context.Context) {
	interval := r.cfg.PruneInterval
	if interval <= 0 {
		interval = r.cfg.TTL
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Prune(ctx)
			}
		}
	}()
}
