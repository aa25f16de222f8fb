package breeding

import (
	"fmt"
	"sync"
)

// ParentBusyError reports a dragon already reserved by another in-flight request.
type ParentBusyError struct {
	DragonID  string
	RequestID string
}

func (e ParentBusyError) Error() string {
	return fmt.Sprintf("dragon %s is reserved by breeding request %s", e.DragonID, e.RequestID)
}

// Reservations maps dragon ids to the in-flight request that owns them.
// Acquisition is all-or-nothing across the ids of one request.
type Reservations struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewReservations returns an empty reservation map.
func NewReservations() *Reservations {
	return &Reservations{holders: make(map[string]string)}
}

// Acquire reserves every dragon id for requestID, or none of them. Ids already
// held by requestID are treated as free.
func (r *Reservations) Acquire(requestID string, dragonIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dragonIDs {
		if holder, ok := r.holders[id]; ok && holder != requestID {
			return ParentBusyError{DragonID: id, RequestID: holder}
		}
	}
	for _, id := range dragonIDs {
		r.holders[id] = requestID
	}
	return nil
}

// Release frees every dragon held by requestID and returns how many were held.
func (r *Reservations) Release(requestID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := 0
	for id, holder := range r.holders {
		if holder == requestID {
			delete(r.holders, id)
			released++
		}
	}
	return released
}

// Holder returns the request currently reserving dragonID.
func (r *Reservations) Holder(dragonID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.holders[dragonID]
	return holder, ok
}

// Len returns the number of reserved dragons.
func (r *Reservations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
