package resiliency

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Client wraps http.Client with retry and circuit breaking. Breakers
// are tracked per host, so one unreachable upstream does not block
// requests to the others.
type Client struct {
	client     *http.Client
	maxRetries int

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		breakers:   make(map[string]*CircuitBreaker),
	}
}

func (c *Client) breaker(host string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[host]
	if !ok {
		b = NewCircuitBreaker(host, 5, 10*time.Second)
		c.breakers[host] = b
	}
	return b
}

// Do executes the request with exponential backoff and jitter,
// honoring the request context between attempts. Responses with a 5xx
// status count as failures and are retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	breaker := c.breaker(req.URL.Host)
	if !breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", breaker.name)
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Do(req)

		if err == nil && resp.StatusCode < 500 {
			breaker.Success()
			return resp, nil
		}

		if i == c.maxRetries {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		// base * 2^i + jitter
		backoff := time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond
		if n, jerr := rand.Int(rand.Reader, big.NewInt(50)); jerr == nil {
			backoff += time.Duration(n.Int64()) * time.Millisecond
		}

		select {
		case <-req.Context().Done():
			breaker.Failure()
			return nil, req.Context().Err()
		case <-time.After(backoff):
		}
	}

	breaker.Failure()
	return resp, err
}

// CircuitBreaker implements a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "HALF_OPEN" {
		cb.state = "CLOSED"
	}
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}
