package chatsync

import "sync/atomic"

// RoomCursor holds the active conversation id. Listeners read it at delivery
// time, never at registration.
type RoomCursor struct {
	cur atomic.Pointer[string]
}

// Current returns the active room id, or "" when none is selected.
func (r *RoomCursor) Current() string {
	if p := r.cur.Load(); p != nil {
		return *p
	}
	return ""
}

// swap makes id the active room and reports whether it changed.
func (r *RoomCursor) swap(id string) bool {
	for {
		old := r.cur.Load()
		if old != nil && *old == id || old == nil && id == "" {
			return false
		}
		if r.cur.CompareAndSwap(old, &id) {
			return true
		}
	}
}
