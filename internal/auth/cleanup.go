package auth

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const cleanupParallelism = 8

// CleanupReport counts what a sweep removed.
type CleanupReport struct {
	Tokens      int64 `json:"tokens"`
	Revocations int64 `json:"revocations"`
	Sessions    int64 `json:"sessions"`
	Users       int   `json:"users"`
}

// Cleanup purges expired magic-link tokens, revocation entries and the
// expired sessions of every persisted user.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	links, err := s.links.CleanupExpired(ctx)
	if err != nil {
		return report, fmt.Errorf("cleanup magic links: %w", err)
	}
	report.Tokens = links.Tokens
	report.Revocations = links.Revocations

	users, err := s.identities.Keys(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}
	report.Users = len(users)

	var sessions atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupParallelism)
	for _, id := range users {
		id := id
		g.Go(func() error {
			n, err := s.identities.CleanupExpiredSessions(gctx, id)
			if err != nil {
				return fmt.Errorf("cleanup sessions of %s: %w", id, err)
			}
			sessions.Add(n)
			return nil
		})
	}
	err = g.Wait()
	report.Sessions = sessions.Load()
	if err != nil {
		return report, err
	}

	s.logger.InfoContext(ctx, "cleanup finished",
		"tokens", report.Tokens,
		"revocations", report.Revocations,
		"sessions", report.Sessions,
		"users", report.Users)
	return report, nil
}
