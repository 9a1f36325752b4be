package domain

import (
	activity "dwell/internal/modules/activity/domain"
)

// Cursor remembers which interval keys the server has acknowledged and which
// interval ids are in flight. It is not persisted: Rebuild restores it from
// the buffer's acknowledged rows at process start.
type Cursor struct {
	acked    map[activity.Key]struct{}
	inFlight map[string]struct{}
}

func NewCursor() *Cursor {
	return &Cursor{
		acked:    map[activity.Key]struct{}{},
		inFlight: map[string]struct{}{},
	}
}

func (c *Cursor) Rebuild(items []activity.Buffered) {
	for _, item := range items {
		if item.State == activity.StateAcknowledged {
			c.acked[item.Key()] = struct{}{}
		}
	}
}

func (c *Cursor) Acked(key activity.Key) bool {
	_, ok := c.acked[key]
	return ok
}

func (c *Cursor) MarkAcked(keys ...activity.Key) {
	for _, k := range keys {
		c.acked[k] = struct{}{}
	}
}

func (c *Cursor) Begin(ids ...string) {
	for _, id := range ids {
		c.inFlight[id] = struct{}{}
	}
}

func (c *Cursor) Done(ids ...string) {
	for _, id := range ids {
		delete(c.inFlight, id)
	}
}

func (c *Cursor) InFlight(id string) bool {
	_, ok := c.inFlight[id]
	return ok
}

// Prune forgets acknowledged keys that started before cutoffMs.
func (c *Cursor) Prune(cutoffMs int64) int {
	n := 0
	for k := range c.acked {
		if k.StartMs < cutoffMs {
			delete(c.acked, k)
			n++
		}
	}
	return n
}

func (c *Cursor) Len() int { return len(c.acked) }
