package ipc

import (
	"sync"

	"github.com/1jehuang/jcode-sub000/pkg/logger"
)

// subscriber is one connected client's outbound queue, fanned out to by
// the hub whenever its session produces a ServerEvent.
type subscriber struct {
	id      string
	session string
	send    chan ServerEvent
}

const subscriberSendBuffer = 256

// hub fans ServerEvents for a session out to every subscriber connected
// to it. Unlike a single global broadcast, jcoded sessions are addressed
// independently: a subscriber only receives events for the sessions it
// has subscribed to.
//
// A subscriber whose send buffer is full is disconnected rather than
// silently dropped: it is sent a terminal error event (best-effort) and
// removed, so a slow client never silently misses output without being
// told.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]bool // session -> subscribers
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]bool)}
}

func (h *hub) subscribe(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]bool)
	}
	h.subs[sessionID][sub] = true
}

func (h *hub) unsubscribe(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// unsubscribeAll removes sub from every session it was subscribed to.
// Used when a connection closes.
func (h *hub) unsubscribeAll(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for session, subs := range h.subs {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.subs, session)
			}
		}
	}
}

// broadcast delivers ev to every subscriber of sessionID. A subscriber
// whose buffer is full is evicted: it receives a best-effort terminal
// error event on a fresh goroutine (its own send loop is presumably
// stuck) and is dropped from every session it subscribed to.
func (h *hub) broadcast(sessionID string, ev ServerEvent) {
	h.mu.RLock()
	subs := h.subs[sessionID]
	targets := make([]*subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- ev:
		default:
			logger.Warnf("ipc: subscriber %s overflowed on session %s, disconnecting", s.id, sessionID)
			h.unsubscribeAll(s)
			go func(s *subscriber) {
				defer func() { recover() }() // send may already be closed by the owning connection
				select {
				case s.send <- ServerEvent{Type: EvtError, SessionID: sessionID, Error: "disconnected: too slow to keep up"}:
				default:
				}
			}(s)
		}
	}
}

func (h *hub) subscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
