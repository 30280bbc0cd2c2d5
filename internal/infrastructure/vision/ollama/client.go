// Package ollama adapts an Ollama-hosted vision model into the pipeline's
// receipt classifier and extractor ports.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	// RequestsPerSecond caps calls to the model host. Zero means unlimited.
	RequestsPerSecond  float64
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, model string) *Client {
	return NewWithOptions(baseURL, model, Options{})
}

func NewWithOptions(baseURL, model string, options Options) *Client {
	limit := rate.Inf
	if options.RequestsPerSecond > 0 {
		limit = rate.Limit(options.RequestsPerSecond)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		executor:   options.ResilienceExecutor,
	}
}

// Classifier answers the three validation questions about an image.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) Classify(ctx context.Context, imagePath string) (domain.ReceiptSignals, error) {
	image, err := encodeImage(imagePath)
	if err != nil {
		return domain.ReceiptSignals{}, err
	}

	raw, err := c.client.generateJSON(ctx, classificationPrompt, image, "classify")
	if err != nil {
		return domain.ReceiptSignals{}, err
	}

	var signals domain.ReceiptSignals
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &signals); err != nil {
		return domain.ReceiptSignals{}, fmt.Errorf("parse classification json: %w", err)
	}
	return signals, nil
}

// Extractor pulls a structured purchase record out of a valid receipt image.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, imagePath string) (*domain.PurchaseRecord, error) {
	image, err := encodeImage(imagePath)
	if err != nil {
		return nil, err
	}

	raw, err := e.client.generateJSON(ctx, extractionPrompt, image, "extract")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Merchant string `json:"merchant"`
		Location string `json:"location"`
		Items    []struct {
			Name      string  `json:"name"`
			Quantity  float64 `json:"quantity"`
			UnitPrice float64 `json:"unit_price"`
			LineTotal float64 `json:"line_total"`
		} `json:"items"`
		Subtotal    float64 `json:"subtotal"`
		Tax         float64 `json:"tax"`
		Tip         float64 `json:"tip"`
		Total       float64 `json:"total"`
		PurchasedAt string  `json:"purchased_at"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}
	if strings.TrimSpace(payload.Merchant) == "" {
		return nil, fmt.Errorf("extraction returned no merchant")
	}

	record := &domain.PurchaseRecord{
		Merchant:    payload.Merchant,
		Location:    payload.Location,
		Subtotal:    payload.Subtotal,
		Tax:         payload.Tax,
		Tip:         payload.Tip,
		Total:       payload.Total,
		PurchasedAt: parsePurchaseTime(payload.PurchasedAt),
	}
	for _, item := range payload.Items {
		record.Items = append(record.Items, domain.LineItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return record, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt, imageB64, operation string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("vision rate limit: %w", err)
	}

	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"images": []string{imageB64},
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "vision."+operation, call, classifyVisionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return strings.TrimSpace(response.Response), nil
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// extractJSONObject trims any chatter the model wraps around the JSON body.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

var purchaseTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// parsePurchaseTime is lenient: receipts print timestamps in many shapes and
// a missing one should not fail extraction.
func parsePurchaseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range purchaseTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
