package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

const backendTimeout = 30 * time.Second

var ErrBackendError = errors.New("matching backend error")

// BackendService talks to the matching backend that owns confirmed
// purchase records. It covers date confirmation, store linkage, and the
// final confirmation submission.
type BackendService struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendService creates a client for the matching backend
func NewBackendService(baseURL string) *BackendService {
	return &BackendService{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: backendTimeout,
		},
	}
}

type confirmDateRequest struct {
	Date string  `json:"date"`
	Time *string `json:"time,omitempty"`
}

type confirmDateResponse struct {
	Success bool `json:"success"`
}

// ConfirmDate records a user-corrected purchase date against the receipt
func (s *BackendService) ConfirmDate(ctx context.Context, receiptID, date string, timeOfDay *string) (bool, error) {
	var resp confirmDateResponse
	err := s.post(ctx, fmt.Sprintf("/receipts/%s/date", receiptID), confirmDateRequest{
		Date: date,
		Time: timeOfDay,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

type confirmStoreRequest struct {
	Store *models.StoreCandidate `json:"store"`
}

// ConfirmStoreForReceipt links the chosen store to an in-progress receipt
func (s *BackendService) ConfirmStoreForReceipt(ctx context.Context, receiptID string, store *models.StoreCandidate) error {
	return s.post(ctx, fmt.Sprintf("/receipts/%s/store", receiptID), confirmStoreRequest{Store: store}, nil)
}

type submitConfirmationsRequest struct {
	Items []models.ItemConfirmation `json:"items"`
	Store *models.StoreCandidate    `json:"store"`
	Date  string                    `json:"date"`
	Time  *string                   `json:"time,omitempty"`
}

// SubmitConfirmations submits the reconciled record. The response may
// carry pending product selections that need manual disambiguation.
func (s *BackendService) SubmitConfirmations(ctx context.Context, receiptID string, payload *models.SubmissionPayload) (*models.SubmissionResult, error) {
	var result models.SubmissionResult
	err := s.post(ctx, fmt.Sprintf("/receipts/%s/confirmations", receiptID), submitConfirmationsRequest{
		Items: payload.Items,
		Store: payload.Store,
		Date:  payload.Date,
		Time:  payload.Time,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BackendService) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrBackendError, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
