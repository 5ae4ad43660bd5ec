package network

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRoleFetchTimeout means no occupant answered in time.
	ErrRoleFetchTimeout = errors.New("role data request timed out")
	// ErrClientGone means the occupant disconnected mid-request.
	ErrClientGone = errors.New("client disconnected")
	// ErrRoleVacant means the role has no occupant to ask.
	ErrRoleVacant = errors.New("role has no occupants")
)

// roleRequestTable correlates get-role-data requests with project-response
// replies. Entries are single-shot channels keyed by request ID; a waiter
// owns its entry and removes it on every exit path.
type roleRequestTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	clientID string
	reply    chan json.RawMessage
}

// roleRequests is the process-wide table, shared by the router and the
// websocket read loop.
var roleRequests = &roleRequestTable{pending: map[string]*pendingRequest{}}

// add registers a waiter and returns its request ID.
func (t *roleRequestTable) add(clientID string) (string, chan json.RawMessage) {
	id := uuid.NewString()
	reply := make(chan json.RawMessage, 1)
	t.mu.Lock()
	t.pending[id] = &pendingRequest{clientID: clientID, reply: reply}
	t.mu.Unlock()
	return id, reply
}

func (t *roleRequestTable) remove(requestID string) {
	t.mu.Lock()
	delete(t.pending, requestID)
	t.mu.Unlock()
}

// fulfill delivers a project-response to its waiter. Unknown request IDs are
// dropped: the waiter may have timed out already.
func (t *roleRequestTable) fulfill(requestID string, data json.RawMessage) {
	t.mu.Lock()
	req, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
	if ok {
		req.reply <- data
	}
}

// cancelClient wakes every waiter asking the given client; called when the
// client disconnects.
func (t *roleRequestTable) cancelClient(clientID string) {
	t.mu.Lock()
	var cancelled []*pendingRequest
	for id, req := range t.pending {
		if req.clientID == clientID {
			cancelled = append(cancelled, req)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	for _, req := range cancelled {
		close(req.reply)
	}
}

// FetchRoleData asks one occupant of the role for its current content. The
// reply is the raw project-response payload. Waits are bounded by timeout
// and aborted when the occupant disconnects.
func (t *Topology) FetchRoleData(ctx context.Context, projectID, roleID string, timeout time.Duration) (json.RawMessage, error) {
	occupants := t.Occupants(projectID, roleID)
	if len(occupants) == 0 {
		return nil, ErrRoleVacant
	}
	target := occupants[0]

	requestID, reply := roleRequests.add(target)
	frame := mustEncode(&Frame{Type: TypeGetRoleData, RequestID: requestID})
	if err := t.Send(ctx, target, frame); err != nil {
		roleRequests.remove(requestID)
		return nil, ErrClientGone
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data, ok := <-reply:
		if !ok {
			return nil, ErrClientGone
		}
		return data, nil
	case <-timer.C:
		roleRequests.remove(requestID)
		return nil, ErrRoleFetchTimeout
	case <-ctx.Done():
		roleRequests.remove(requestID)
		return nil, ctx.Err()
	}
}

// RoleDataResponse routes a client's project-response frame to its waiter.
func (t *Topology) RoleDataResponse(requestID string, data json.RawMessage) {
	roleRequests.fulfill(requestID, data)
}
