package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/interpark/mikage/internal/database"
)

const (
	// RequestTimeout bounds a single probe. Elapsed time at or beyond
	// this is reported as a timeout.
	RequestTimeout = 10 * time.Second

	// connectivityTimeout bounds each request of the self connectivity check.
	connectivityTimeout = 3 * time.Second
)

// serviceErrorPattern matches the application-level error marker some
// upstreams embed in otherwise-successful responses, e.g. "[code: 1234]".
// Accepts a full-width colon and optional spacing, case-insensitive.
var serviceErrorPattern = regexp.MustCompile(`(?i)\[ ?code[：:]\s*(\d+)\s*\]`)

// Checker probes HTTP targets. A single failed probe is a single data
// point; there are no retries. Repeated failures across cycles are what
// drive incident detection.
type Checker struct {
	client *http.Client
}

// NewChecker creates a checker with the standard probe timeout.
func NewChecker() *Checker {
	return &Checker{
		client: &http.Client{Timeout: RequestTimeout},
	}
}

// Check performs one HTTP GET against the target and normalizes the result.
// Probe failures are recorded in the outcome, never returned as errors.
func (c *Checker) Check(ctx context.Context, target *database.Target) Outcome {
	outcome := Outcome{
		Key:        target.Key,
		Name:       target.Name,
		ObservedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		log.Printf("Checker: failed to build request for %s: %v", target.Key, err)
		return failureOutcome(outcome, err, 0)
	}
	for k, v := range target.HeaderMap() {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return failureOutcome(outcome, err, elapsed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("Checker: failed to read response body for %s: %v", target.Key, err)
		body = nil
	}
	elapsed = time.Since(start).Milliseconds()

	statusCode := resp.StatusCode
	statusMessage := http.StatusText(resp.StatusCode)
	outcome.ResponseTime = &elapsed
	outcome.StatusCode = &statusCode
	outcome.StatusMessage = &statusMessage

	// An upstream can return HTTP 200 while signalling a business error
	// via an embedded marker in the body.
	if match := serviceErrorPattern.FindSubmatch(body); match != nil {
		errorCode := fmt.Sprintf("CODE_%s", match[1])
		errorName := "InternalServiceError"
		outcome.ErrorCode = &errorCode
		outcome.ErrorName = &errorName
	}

	return outcome
}

// failureOutcome fills an outcome for a probe that never completed:
// 408 for timeouts, 520 for everything else.
func failureOutcome(outcome Outcome, err error, elapsedMs int64) Outcome {
	outcome.ResponseTime = &elapsedMs

	var statusCode int
	var statusMessage, errorName, errorCode string
	if isTimeout(err) {
		statusCode = 408
		statusMessage = "Request Timeout"
		errorName = "TimeoutError"
		errorCode = "ETIMEDOUT"
	} else {
		statusCode = 520
		statusMessage = "Unknown Error"
		errorName = "RequestError"
		errorCode = failureCode(err)
	}

	outcome.StatusCode = &statusCode
	outcome.StatusMessage = &statusMessage
	outcome.ErrorName = &errorName
	outcome.ErrorCode = &errorCode
	return outcome
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// failureCode maps a transport error to the code recorded in the logs.
func failureCode(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return "ENOTFOUND"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.EPIPE):
		return "EPIPE"
	default:
		return "ECONNFAILED"
	}
}

// connectivityDomains are probed by IsNetworkAvailable. If none of them
// answer, outbound connectivity itself is considered down.
var connectivityDomains = []string{"google.com", "cloudflare.com", "microsoft.com"}

// IsNetworkAvailable checks whether we have outbound connectivity at all.
// Any one of the probe domains answering is enough.
func (c *Checker) IsNetworkAvailable(ctx context.Context) bool {
	client := &http.Client{Timeout: connectivityTimeout}

	var wg sync.WaitGroup
	results := make(chan bool, len(connectivityDomains))
	for _, domain := range connectivityDomains {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain, nil)
			if err != nil {
				results <- false
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				results <- false
				return
			}
			resp.Body.Close()
			results <- true
		}(domain)
	}
	wg.Wait()
	close(results)

	for ok := range results {
		if ok {
			return true
		}
	}
	return false
}
