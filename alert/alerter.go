package alert

import (
	"context"
	"log"
	"sync"
	"time"
)

// Alert categories. Each category coalesces independently.
const (
	CategoryStranger = "stranger"
	CategoryUnlock   = "unlock"
	CategoryMotion   = "motion"
)

// Sender delivers a rendered alert to a chat backend.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photo []byte, caption string) error
}

// Alerter rate-limits outgoing notifications: at most one alert per category
// per window, with a global mute switch. Delivery happens outside the mutex
// so a slow chat API never stalls callers deciding whether to alert.
type Alerter struct {
	sender Sender
	window time.Duration

	mu       sync.Mutex
	muted    bool
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewAlerter(sender Sender, window time.Duration) *Alerter {
	return &Alerter{
		sender:   sender,
		window:   window,
		lastSent: map[string]time.Time{},
		now:      time.Now,
	}
}

// Notify sends an alert with an optional photo unless the category fired
// within the coalescing window or alerts are muted. Delivery failures are
// logged, never propagated.
func (a *Alerter) Notify(ctx context.Context, category, caption string, photo []byte) {
	if a == nil || a.sender == nil {
		return
	}

	a.mu.Lock()
	if a.muted {
		a.mu.Unlock()
		return
	}
	now := a.now()
	if last, ok := a.lastSent[category]; ok && now.Sub(last) < a.window {
		a.mu.Unlock()
		return
	}
	a.lastSent[category] = now
	a.mu.Unlock()

	var err error
	if len(photo) > 0 {
		err = a.sender.SendPhoto(ctx, photo, caption)
	} else {
		err = a.sender.SendMessage(ctx, caption)
	}
	if err != nil {
		log.Printf("alert: failed to deliver %s alert: %v", category, err)
	}
}

// Mute suppresses all alerts until Unmute.
func (a *Alerter) Mute() {
	a.mu.Lock()
	a.muted = true
	a.mu.Unlock()
	log.Println("alert: notifications muted")
}

// Unmute re-enables alerts.
func (a *Alerter) Unmute() {
	a.mu.Lock()
	a.muted = false
	a.mu.Unlock()
	log.Println("alert: notifications unmuted")
}

// Muted reports the current mute state.
func (a *Alerter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}
