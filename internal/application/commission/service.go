package commission

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/domain/payment"
)

// Service resolves the commission applicable to an agreed amount.
type Service struct {
	repo       payment.CommissionRepository
	defaultBps int64
	logger     zerolog.Logger
}

// NewService creates a commission service. A non-positive defaultBps falls
// back to the platform default.
func NewService(repo payment.CommissionRepository, defaultBps int64, logger zerolog.Logger) *Service {
	if defaultBps <= 0 {
		defaultBps = payment.DefaultCommissionBps
	}
	return &Service{
		repo:       repo,
		defaultBps: defaultBps,
		logger:     logger.With().Str("service", "commission").Logger(),
	}
}

// ResolveBps returns the commission in basis points for an amount and source
// ("bid" or "campaign"). Settings arrive newest effective_from first; the
// first active one whose condition matches wins. With no match the platform
// default applies. A broken condition skips its setting rather than failing
// the payment.
func (s *Service) ResolveBps(ctx context.Context, amountPaise int64, source string) int64 {
	settings, err := s.repo.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("commission settings unavailable; using default")
		return s.defaultBps
	}

	params := map[string]interface{}{
		"amount_paise": float64(amountPaise),
		"source":       source,
	}
	for _, setting := range settings {
		ok, err := EvaluateCondition(setting.Condition, params)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("setting_id", setting.SettingID.String()).
				Msg("invalid commission condition; skipping setting")
			continue
		}
		if ok {
			return setting.PercentBps
		}
	}
	return s.defaultBps
}
