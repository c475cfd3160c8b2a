// Package backoff tracks rate-limit cooldowns with exponential growth.
package backoff

import (
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/khuang/chronosync/internal/errors"
)

// maxMinutes caps the cooldown. Deterministic doubling, no jitter.
const maxMinutes = 60

// Controller tracks consecutive rate-limit failures and the cooldown window
// they impose. One controller serves one polling subsystem.
type Controller struct {
	mu    sync.Mutex
	count int
	until time.Time
	now   func() time.Time
}

// New creates a Controller.
func New() *Controller {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Controller with an injected clock for tests.
func NewWithClock(now func() time.Time) *Controller {
	return &Controller{now: now}
}

// IsInBackoff reports whether the cooldown window is still open.
func (c *Controller) IsInBackoff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}

// Trigger records another rate-limit failure and extends the cooldown.
// The cooldown doubles with each consecutive failure: 2, 4, 8, ... minutes,
// capped at 60.
func (c *Controller) Trigger() (minutes int, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	minutes = 1 << c.count
	if c.count >= 63 || minutes > maxMinutes {
		minutes = maxMinutes
	}

	c.until = c.now().Add(time.Duration(minutes) * time.Minute)
	return minutes, c.until
}

// Reset clears the failure count and cooldown. Called on any successful
// remote call.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	c.until = time.Time{}
}

// Count returns the consecutive failure count.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Until returns when the current cooldown ends.
func (c *Controller) Until() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.until
}

// IsQuotaError classifies err as a remote quota / rate-limit failure: an
// HTTP 403 from the remote API, a QUOTA_EXCEEDED app error, or a message
// mentioning an exceeded quota or rate limit.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) && gerr.Code == 403 {
		return true
	}

	if errors.Is(err, errors.ErrQuotaExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota exceeded") || strings.Contains(msg, "rate limit exceeded")
}
