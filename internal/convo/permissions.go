package convo

import (
	"strings"
	"sync"
)

type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "pending"
	PermissionApproved PermissionStatus = "approved"
	PermissionRejected PermissionStatus = "rejected"
)

type PermissionRequest struct {
	RequestID   string
	HookType    string
	RawCommand  string
	Description string
	Status      PermissionStatus
}

// PermissionStore tracks permission requests keyed by request id. A repeated
// request id overwrites the stored entry (last write wins); a request that
// has left pending never transitions again.
type PermissionStore struct {
	mu       sync.RWMutex
	requests map[string]PermissionRequest
	order    []string
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{requests: map[string]PermissionRequest{}}
}

// Put records a pending request. Returns false when the request id is empty.
func (s *PermissionStore) Put(req PermissionRequest) bool {
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		return false
	}
	req.Status = PermissionPending
	s.mu.Lock()
	if _, exists := s.requests[req.RequestID]; !exists {
		s.order = append(s.order, req.RequestID)
	}
	s.requests[req.RequestID] = req
	s.mu.Unlock()
	return true
}

// Resolve flips a pending request to approved or rejected. It reports false
// when the id is unknown or the request already left pending.
func (s *PermissionStore) Resolve(requestID string, approved bool) bool {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.Status != PermissionPending {
		return false
	}
	if approved {
		req.Status = PermissionApproved
	} else {
		req.Status = PermissionRejected
	}
	s.requests[requestID] = req
	return true
}

// Get returns the stored request, if any.
func (s *PermissionStore) Get(requestID string) (PermissionRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[strings.TrimSpace(requestID)]
	return req, ok
}

// Pending returns pending requests in arrival order.
func (s *PermissionStore) Pending() []PermissionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PermissionRequest, 0, len(s.order))
	for _, id := range s.order {
		if req, ok := s.requests[id]; ok && req.Status == PermissionPending {
			out = append(out, req)
		}
	}
	return out
}
