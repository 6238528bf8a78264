package router

import (
	"sync"
	"time"
)

// chatMessagesPerMinute caps chat throughput per user.
const chatMessagesPerMinute = 100

// RateLimiter tracks per-user message counts over a minute window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the user may send another message in the current
// window, counting it if so.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	w, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= time.Minute {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops windows idle for over five minutes. Called periodically so
// churned users do not accumulate.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}

// CleanupLoop runs Cleanup once a minute until done is closed.
func (rl *RateLimiter) CleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
