package moderation

import "sync"

// Users is the set of registered user ids. It remembers registration order
// and never forgets an id.
type Users struct {
	mu    sync.RWMutex
	order []int64
	set   map[int64]struct{}
}

func NewUsers() *Users {
	return &Users{set: map[int64]struct{}{}}
}

// Add registers id and reports whether it was new.
func (u *Users) Add(id int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.set[id]; ok {
		return false
	}
	u.set[id] = struct{}{}
	u.order = append(u.order, id)
	return true
}

func (u *Users) Contains(id int64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.set[id]
	return ok
}

func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.order)
}

// Snapshot returns the ids in registration order.
func (u *Users) Snapshot() []int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]int64(nil), u.order...)
}
