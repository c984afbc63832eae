package history

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// FallbackStore writes and reads through primary and switches to the local
// file store for any call the primary fails.
type FallbackStore struct {
	primary  Store
	fallback *FileStore
	log      *zap.Logger
	// OnPrimaryError, when set, is called with the name of the failing operation.
	OnPrimaryError func(op string)
}

func NewFallbackStore(primary Store, fallback *FileStore, log *zap.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback, log: log}
}

func (s *FallbackStore) InsertQuery(ctx context.Context, rec Record) error {
	rec.prepare()
	err := s.primary.InsertQuery(ctx, rec)
	if err == nil {
		return nil
	}
	s.primaryFailed("insert_query", err)
	if ferr := s.fallback.InsertQuery(ctx, rec); ferr != nil {
		return errors.Join(err, ferr)
	}
	return nil
}

func (s *FallbackStore) InsertSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	ev.prepare()
	err := s.primary.InsertSecurityEvent(ctx, ev)
	if err == nil {
		return nil
	}
	s.primaryFailed("insert_security_event", err)
	if ferr := s.fallback.InsertSecurityEvent(ctx, ev); ferr != nil {
		return errors.Join(err, ferr)
	}
	return nil
}

func (s *FallbackStore) ListQueries(ctx context.Context, page, pageSize int) (Page, error) {
	p, err := s.primary.ListQueries(ctx, page, pageSize)
	if err == nil {
		return p, nil
	}
	s.primaryFailed("list_queries", err)
	return s.fallback.ListQueries(ctx, page, pageSize)
}

func (s *FallbackStore) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	out, err := s.primary.RecentOutcomes(ctx, limit)
	if err == nil {
		return out, nil
	}
	s.primaryFailed("recent_outcomes", err)
	return s.fallback.RecentOutcomes(ctx, limit)
}

func (s *FallbackStore) primaryFailed(op string, err error) {
	s.log.Warn("primary history store failed, using file fallback", zap.String("op", op), zap.Error(err))
	if s.OnPrimaryError != nil {
		s.OnPrimaryError(op)
	}
}
