package source

import (
	"sort"
	"strings"
	"sync"
	"time"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/metrics"
)

const (
	failureThreshold = 3
	blockBase        = 30 * time.Second
	blockMax         = 5 * time.Minute
)

type collectionHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastCount           int
}

// Health tracks per-collection fetch outcomes. After repeated failures a
// collection is skipped for an exponentially growing window so a dead
// collection does not stall every rebuild.
type Health struct {
	mu    sync.Mutex
	state map[string]*collectionHealth
	now   func() time.Time
}

func NewHealth() *Health {
	return &Health{state: make(map[string]*collectionHealth), now: time.Now}
}

// Blocked reports whether name is inside a block window.
func (h *Health) Blocked(name string) (bool, time.Time, string) {
	if h == nil {
		return false, time.Time{}, ""
	}
	key := normalizeName(name)

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state[key]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || h.now().After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

// Record stores the outcome of one collection fetch.
func (h *Health) Record(name string, count int, err error, latency time.Duration) {
	if h == nil {
		return
	}
	key := normalizeName(name)
	if key == "" {
		return
	}
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state[key]
	if state == nil {
		state = &collectionHealth{}
		h.state[key] = state
	}
	if latency > 0 {
		state.lastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		state.lastCount = count
		metrics.SourceRequestsTotal.WithLabelValues(key, "ok").Inc()
		metrics.SourceAvailable.WithLabelValues(key).Set(1)
		return
	}

	state.consecutiveFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if isTimeoutLike(err) {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(key, status).Inc()

	if state.consecutiveFailures >= failureThreshold {
		state.blockedUntil = now.Add(blockDuration(state.consecutiveFailures))
		metrics.SourceAvailable.WithLabelValues(key).Set(0)
	}
}

// blockDuration is blockBase * 2^(failures - threshold), capped at blockMax.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - failureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := blockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > blockMax {
			return blockMax
		}
	}
	return d
}

func (h *Health) Diagnostics() []domain.SourceDiagnostics {
	if h == nil {
		return nil
	}
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, len(h.state))
	for name, state := range h.state {
		item := domain.SourceDiagnostics{
			Name:         name,
			Available:    state.blockedUntil.IsZero() || now.After(state.blockedUntil),
			FailureCount: state.consecutiveFailures,
			LastError:    state.lastError,
			LastLatency:  state.lastLatency.Milliseconds(),
			LastCount:    state.lastCount,
		}
		if !state.blockedUntil.IsZero() {
			blockedUntil := state.blockedUntil
			item.BlockedUntil = &blockedUntil
		}
		if !state.lastSuccessAt.IsZero() {
			lastSuccessAt := state.lastSuccessAt
			item.LastSuccess = &lastSuccessAt
		}
		if !state.lastFailureAt.IsZero() {
			lastFailureAt := state.lastFailureAt
			item.LastFailure = &lastFailureAt
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
