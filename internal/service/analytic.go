package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
)

// PortfolioStore aggregates the proposal book for reporting.
type PortfolioStore interface {
	PortfolioSummary(ctx context.Context) (*model.PortfolioSummary, error)
}

// AnalyticService exposes portfolio-level reporting for the admin backend.
type AnalyticService struct {
	store  PortfolioStore
	logger *logrus.Logger
}

func NewAnalyticService(store PortfolioStore, logger *logrus.Logger) *AnalyticService {
	return &AnalyticService{store: store, logger: logger}
}

// Summary returns proposal counts per state plus contracted volume,
// approved exposure and the requested pipeline.
func (s *AnalyticService) Summary(ctx context.Context) (*model.PortfolioSummary, error) {
	summary, err := s.store.PortfolioSummary(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to build portfolio summary")
		return nil, fmt.Errorf("failed to build portfolio summary: %w", err)
	}
	return summary, nil
}
