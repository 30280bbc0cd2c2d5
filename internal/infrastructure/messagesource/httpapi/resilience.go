package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx response from the connector, with a bounded
// slice of the body for diagnostics.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("connector %s: %s: %s", e.Operation, e.Status, e.Body)
	}
	return fmt.Sprintf("connector %s: %s", e.Operation, e.Status)
}

var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

func classifyConnectorError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: false}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		retryable := retryableStatuses[statusErr.StatusCode]
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	classification := classifyConnectorError(err)
	if classification.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
