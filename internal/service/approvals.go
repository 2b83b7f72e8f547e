package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ApprovalDecision is the recorded outcome of the human approval workflow.
type ApprovalDecision string

const (
	ApprovalDecisionPending  ApprovalDecision = "pending"
	ApprovalDecisionApproved ApprovalDecision = "approved"
	ApprovalDecisionRejected ApprovalDecision = "rejected"
)

// ApprovalClient talks to the approval-workflow collaborator. RequestApproval
// is idempotent per proposal id: the workflow service deduplicates requests,
// so dispatching twice never creates a second approval task.
type ApprovalClient interface {
	RequestApproval(ctx context.Context, proposalID uuid.UUID, amount decimal.Decimal) (string, error)
	GetApprovalDecision(ctx context.Context, proposalID uuid.UUID) (ApprovalDecision, error)
}

// ApprovalServiceClient is the HTTP client for the approval workflow.
type ApprovalServiceClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

func NewApprovalServiceClient(baseURL string, logger *logrus.Logger) *ApprovalServiceClient {
	return &ApprovalServiceClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

func (c *ApprovalServiceClient) RequestApproval(ctx context.Context, proposalID uuid.UUID, amount decimal.Decimal) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"proposal_id": proposalID,
		"amount":      amount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode approval request: %w", err)
	}

	url := fmt.Sprintf("%s/approvals", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build approval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to dispatch approval request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("approval service returned status %d for proposal %s", resp.StatusCode, proposalID)
	}

	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode approval response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"proposal_id": proposalID,
		"request_id":  body.RequestID,
	}).Info("Approval requested")

	return body.RequestID, nil
}

func (c *ApprovalServiceClient) GetApprovalDecision(ctx context.Context, proposalID uuid.UUID) (ApprovalDecision, error) {
	url := fmt.Sprintf("%s/approvals/%s", c.baseURL, proposalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build decision request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query approval decision: %w", err)
	}
	defer resp.Body.Close()

	// No approval task recorded yet counts as pending.
	if resp.StatusCode == http.StatusNotFound {
		return ApprovalDecisionPending, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("approval service returned status %d for proposal %s", resp.StatusCode, proposalID)
	}

	var body struct {
		Decision ApprovalDecision `json:"decision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode decision response: %w", err)
	}

	switch body.Decision {
	case ApprovalDecisionPending, ApprovalDecisionApproved, ApprovalDecisionRejected:
		return body.Decision, nil
	}
	return "", fmt.Errorf("approval service returned unknown decision %q", body.Decision)
}
