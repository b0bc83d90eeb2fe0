package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

const extractionTimeout = 60 * time.Second

var (
	ErrExtractionFailed = errors.New("extraction service error")
	ErrNoItemsExtracted = errors.New("no items extracted from receipt")
)

// ExtractionService calls the external OCR/extraction pipeline that turns
// a receipt photo into structured line items
type ExtractionService struct {
	baseURL    string
	httpClient *http.Client
}

// NewExtractionService creates a client for the extraction service
func NewExtractionService(baseURL string) *ExtractionService {
	return &ExtractionService{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: extractionTimeout,
		},
	}
}

// Process uploads the receipt image and returns the structured extraction.
// A response with zero items is reported as ErrNoItemsExtracted so the
// caller can route the draft to its failed state.
func (s *ExtractionService) Process(ctx context.Context, image []byte, filename string) (*models.ExtractionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/process_image", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrExtractionFailed, resp.StatusCode)
	}

	var result models.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, ErrNoItemsExtracted
	}

	return &result, nil
}
