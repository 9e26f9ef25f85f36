package httpclient

import (
	"net/http"
	"time"

	"github.com/agentsvc/agentsvcd/internal/logging"
)

// New builds a plain *http.Client with the given timeout. logger is
// accepted for symmetry with NewWithCircuitBreaker and reserved for future
// transport-level diagnostics.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	_ = logging.OrNop(logger)
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
