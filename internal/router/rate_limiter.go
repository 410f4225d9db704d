package router

import (
	"context"
	"sync"
	"time"
)

const (
	messagesPerWindow = 100
	windowLength      = time.Minute
	staleAfter        = 5 * time.Minute
)

// RateLimiter caps each user at 100 messages per minute with a fixed
// window per client. Editor deltas are debounced client-side, so a client
// hitting the cap is misbehaving, not typing fast.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the user may send another message right now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	window, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(window.windowStart) >= windowLength {
		window.count = 1
		window.windowStart = now
		return true
	}

	if window.count >= messagesPerWindow {
		return false
	}

	window.count++
	return true
}

// Cleanup drops entries idle past five windows so departed users do not
// accumulate.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, window := range rl.clients {
		if now.Sub(window.windowStart) > staleAfter {
			delete(rl.clients, userID)
		}
	}
}

// StartCleanup runs Cleanup every window until the context ends.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(windowLength)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
