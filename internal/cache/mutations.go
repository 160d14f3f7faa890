package cache

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/domain"
)

// Call mutations go straight to the backend; the store then invalidates
// what they may have changed.

func (s *Store) InitializeCall(ctx context.Context, req domain.InitializeCallRequest) (*domain.Call, error) {
	call, err := s.backend.InitializeCall(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "cache").Str("call_id", string(call.ID)).Msg("call initialized")
	s.Invalidate(KindCalls, KindActiveCalls, KindAnalytics)
	return call, nil
}

func (s *Store) CancelCall(ctx context.Context, id domain.CallID) error {
	if err := s.backend.CancelCall(ctx, id); err != nil {
		return err
	}
	log.Info().Str("module", "cache").Str("call_id", string(id)).Msg("call cancelled")
	s.Invalidate(KindCalls, KindActiveCalls, KindCall, KindAnalytics)
	return nil
}

func (s *Store) RetryCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	call, err := s.backend.RetryCall(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "cache").Str("call_id", string(id)).Msg("call retried")
	s.Invalidate(KindCalls, KindActiveCalls, KindCall, KindAnalytics)
	return call, nil
}
