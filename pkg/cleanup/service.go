// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/clarificationrequest"
	"github.com/worunner/worunner/pkg/config"
)

// Service periodically enforces retention policies:
//   - Expires ClarificationRequests still pending past their expires_at. The
//     owning WorkOrder's status is left unchanged; a WorkOrder in
//     blocked_on_input stays there after its request expires.
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	client *ent.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, client *ent.Client) *Service {
	return &Service{
		config: cfg,
		client: client,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"clarification_ttl", s.config.ClarificationTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.expireStaleClarifications(ctx)
}

// expireStaleClarifications marks pending ClarificationRequests whose
// expires_at has passed as expired. It does not touch the owning
// WorkOrder's status; the Ops Control Loop observes the expiry on its next
// stuck scan and decides how to proceed.
func (s *Service) expireStaleClarifications(ctx context.Context) {
	count, err := s.client.ClarificationRequest.Update().
		Where(
			clarificationrequest.Status(clarificationrequest.StatusPending),
			clarificationrequest.ExpiresAtLT(time.Now()),
		).
		SetStatus(clarificationrequest.StatusExpired).
		Save(ctx)
	if err != nil {
		slog.Error("Retention: clarification expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: expired stale clarification requests", "count", count)
	}
}
