package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/progress"
)

func (c *Coordinator) register(id string, total int, cancel context.CancelFunc) (*sessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[id]; exists {
		return nil, apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, "",
			fmt.Errorf("session %s is already running", id))
	}
	st := &sessionState{
		Session: Session{
			ID:        id,
			Total:     total,
			Status:    progress.StatusPending,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	c.sessions[id] = st
	return st, nil
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

func (c *Coordinator) transition(st *sessionState, status progress.Status, completed, pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Status = status
	st.Completed = completed
	st.Percent = pct
}

// Session returns the state of an in-flight batch.
func (c *Coordinator) Session(id string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return st.Session, true
}

// Sessions lists in-flight batches, oldest first.
func (c *Coordinator) Sessions() []Session {
	c.mu.RLock()
	out := make([]Session, 0, len(c.sessions))
	for _, st := range c.sessions {
		out = append(out, st.Session)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel stops a running batch before its next file. It reports whether
// the session was found.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.RLock()
	st, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	st.cancel()
	return true
}
