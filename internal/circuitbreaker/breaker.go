// Package circuitbreaker guards the APY calculations against broken price
// feeds. A snapshot that looks implausible trips the breaker and the last
// good prices keep being served until the feed recovers.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, snapshots rejected
	StateHalfOpen              // Testing if the feed has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrOpen is returned while the breaker rejects snapshots
	ErrOpen = errors.New("circuit breaker open: price feed protection engaged")

	// ErrEmpty is returned for a snapshot without prices
	ErrEmpty = errors.New("no prices provided to circuit breaker")
)

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// MaxDailyChange is the largest accepted |24h change| in percent
	MaxDailyChange float64 `json:"max_daily_change"`

	// MaxPriceJump is the largest accepted relative move against the last
	// good price of the same asset, e.g. 0.5 for 50%
	MaxPriceJump float64 `json:"max_price_jump"`

	// MinAssets is the minimum number of priced assets in a snapshot
	MinAssets int `json:"min_assets"`
}

// CircuitBreaker is safe for concurrent use
type CircuitBreaker struct {
	thresholds Thresholds

	mu               sync.RWMutex
	state            State
	lastTrip         time.Time
	resetDelay       time.Duration
	lastGood         map[model.Asset]model.PricePoint
	successCount     int
	successThreshold int

	onTripCallback func(reason string, points []model.PricePoint)
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		lastGood:         make(map[model.Asset]model.PricePoint),
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of good snapshots needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, points []model.PricePoint)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a price snapshot. A passing snapshot becomes the last good
// price of each of its assets.
func (cb *CircuitBreaker) Check(points []model.PricePoint) error {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state == StateOpen {
		if time.Since(lastTripTime) <= cb.resetDelay {
			return ErrOpen
		}
		cb.transitionToHalfOpen()
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if len(points) == 0 {
		return ErrEmpty
	}

	if len(points) < cb.thresholds.MinAssets {
		return cb.trip(fmt.Sprintf("insufficient priced assets: got %d, need %d",
			len(points), cb.thresholds.MinAssets), points)
	}

	for _, p := range points {
		if cb.thresholds.MaxDailyChange > 0 && math.Abs(p.DailyChange) > cb.thresholds.MaxDailyChange {
			return cb.trip(fmt.Sprintf("%s daily change exceeds threshold: %.2f%% > %.2f%%",
				p.Asset, p.DailyChange, cb.thresholds.MaxDailyChange), points)
		}

		last, ok := cb.lastGood[p.Asset]
		if !ok || cb.thresholds.MaxPriceJump <= 0 || last.Price <= 0 {
			continue
		}
		jump := math.Abs(p.Price-last.Price) / last.Price
		if jump > cb.thresholds.MaxPriceJump {
			return cb.trip(fmt.Sprintf("%s price jump too drastic: %.2f%% (threshold: %.2f%%)",
				p.Asset, jump*100, cb.thresholds.MaxPriceJump*100), points)
		}
	}

	logrus.Debug("Circuit breaker checks passed")
	for _, p := range points {
		cb.lastGood[p.Asset] = p
	}

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: price feed has recovered")
		}
	}
	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodPrices returns the latest accepted price of every asset, ordered
// by asset
func (cb *CircuitBreaker) LastGoodPrices() []model.PricePoint {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]model.PricePoint, 0, len(cb.lastGood))
	for _, a := range model.AllAssets() {
		if p, ok := cb.lastGood[a]; ok {
			out = append(out, p)
		}
	}
	return out
}

// LastGoodPrice returns the latest accepted price of asset
func (cb *CircuitBreaker) LastGoodPrice(asset model.Asset) (model.PricePoint, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	p, ok := cb.lastGood[asset]
	return p, ok
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing price feed recovery")
	}
}

// trip opens the circuit; callers hold the lock
func (cb *CircuitBreaker) trip(reason string, points []model.PricePoint) error {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.successCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		snapshot := append([]model.PricePoint(nil), points...)
		go cb.onTripCallback(reason, snapshot)
	}
	return errors.New(reason)
}
