package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreditLimitClient looks up a company's remaining credit exposure. The
// lookup reflects a consistent snapshot at check time; the engine does not
// reserve or lock the limit.
type CreditLimitClient interface {
	GetRemainingCredit(ctx context.Context, companyID uuid.UUID) (decimal.Decimal, error)
}

// LimitServiceClient is the HTTP client for the spending-limit collaborator.
type LimitServiceClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

func NewLimitServiceClient(baseURL string, logger *logrus.Logger) *LimitServiceClient {
	return &LimitServiceClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

func (c *LimitServiceClient) GetRemainingCredit(ctx context.Context, companyID uuid.UUID) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/companies/%s/remaining-credit", c.baseURL, companyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build remaining-credit request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query remaining credit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("limit service returned status %d for company %s", resp.StatusCode, companyID)
	}

	var body struct {
		RemainingCredit decimal.Decimal `json:"remaining_credit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode remaining-credit response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"company_id":       companyID,
		"remaining_credit": body.RemainingCredit,
	}).Debug("Fetched remaining credit")

	return body.RemainingCredit, nil
}
