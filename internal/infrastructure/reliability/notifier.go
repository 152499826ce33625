package reliability

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/retry"

	"go.uber.org/zap"
)

// NotifierWrapper guards best-effort admin notifications with retry logic
// and a per-admin circuit breaker, so a dead admin transport stops being
// hammered while its clients keep registering.
type NotifierWrapper struct {
	retryConfig   retry.Config
	breakerConfig circuitbreaker.Config
	logger        *zap.SugaredLogger

	mu       sync.RWMutex
	breakers map[domain.AdminID]*circuitbreaker.CircuitBreaker
}

func NewNotifierWrapper(
	retryConfig retry.Config,
	breakerConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *NotifierWrapper {
	return &NotifierWrapper{
		retryConfig:   retryConfig,
		breakerConfig: breakerConfig,
		logger:        logger,
		breakers:      make(map[domain.AdminID]*circuitbreaker.CircuitBreaker),
	}
}

func (w *NotifierWrapper) adminBreaker(adminID domain.AdminID) *circuitbreaker.CircuitBreaker {
	w.mu.RLock()
	cb, exists := w.breakers[adminID]
	w.mu.RUnlock()
	if exists {
		return cb
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cb, exists := w.breakers[adminID]; exists {
		return cb
	}

	cb = circuitbreaker.New(w.breakerConfig)
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Infow("admin notification circuit breaker state changed",
			"admin_id", adminID,
			"from", from.String(),
			"to", to.String(),
		)
	})
	w.breakers[adminID] = cb
	return cb
}

// Notify implements ports.AdminNotifier.
func (w *NotifierWrapper) Notify(ctx context.Context, adminID domain.AdminID, transport ports.Transport, payload interface{}) error {
	if transport == nil {
		return domain.ErrTransportClosed
	}

	cb := w.adminBreaker(adminID)
	return retry.Do(ctx, w.retryConfig, func() error {
		return cb.Execute(func() error {
			return transport.Send(payload)
		})
	})
}
