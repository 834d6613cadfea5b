package workers

import (
	"context"

	"rpg-portal/logger"
	"rpg-portal/services"
)

type DuplicateSweeper interface {
	SweepDuplicates(ctx context.Context) (services.DedupeReport, error)
}

type AchievementSweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

type RevokedPruner interface {
	PruneRevoked(ctx context.Context) (int64, error)
}

// DedupeJob finishes any merge left behind by an interrupted sign-in or
// introduced by an import.
func DedupeJob(s DuplicateSweeper) func(context.Context) error {
	return func(ctx context.Context) error {
		report, err := s.SweepDuplicates(ctx)
		if err != nil {
			return err
		}
		if report.Emails > 0 || len(report.Failed) > 0 {
			logger.Info().Int("emails", report.Emails).Int("removed", report.Removed).
				Int("failed", len(report.Failed)).Msg("🧹 Duplicate sweep finished")
		}
		return nil
	}
}

// AchievementJob re-evaluates everybody for time-based conditions.
func AchievementJob(s AchievementSweeper) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := s.SweepAll(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int("unlocked", n).Msg("🏆 Achievement sweep finished")
		}
		return nil
	}
}

// PruneJob deletes revocation rows for tokens that expired anyway.
func PruneJob(s RevokedPruner) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := s.PruneRevoked(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int64("pruned", n).Msg("🗑️ Revoked sessions pruned")
		}
		return nil
	}
}
