package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/user"
)

func inviteOutcome(t *testing.T, body []byte) friend.InviteOutcome {
	t.Helper()
	var result struct {
		Outcome friend.InviteOutcome `json:"outcome"`
	}
	if err := json.Unmarshal(parseSuccess(t, body).Data, &result); err != nil {
		t.Fatalf("unmarshal invite outcome: %v", err)
	}
	return result.Outcome
}

func friendNames(t *testing.T, e *env, token, username string) []string {
	t.Helper()
	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/friends/"+username, nil), token))
	wantStatus(t, resp, http.StatusOK)
	var names []string
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &names); err != nil {
		t.Fatalf("unmarshal friend list: %v", err)
	}
	return names
}

func TestFriendInviteFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)
	alice := e.session(t, "alice")
	bob := e.session(t, "bob")

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)
	if got := inviteOutcome(t, readBody(t, resp)); got != friend.InviteSent {
		t.Errorf("outcome = %q, want %q", got, friend.InviteSent)
	}

	// Bob sees the pending invite.
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/friends/bob/invites", nil), bob))
	wantStatus(t, resp, http.StatusOK)
	var invites []friend.Link
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &invites); err != nil {
		t.Fatalf("unmarshal invites: %v", err)
	}
	if len(invites) != 1 || invites[0].Sender != "alice" {
		t.Fatalf("invites = %v, want one from alice", invites)
	}

	resp = doReq(t, e.app, asUser(jsonReq(http.MethodPost,
		"/friends/bob/respond/alice", `{"response":"accept"}`), bob))
	wantStatus(t, resp, http.StatusOK)

	// Both sides now list the friendship.
	if names := friendNames(t, e, alice, "alice"); len(names) != 1 || names[0] != "bob" {
		t.Errorf("alice's friends = %v, want [bob]", names)
	}
	if names := friendNames(t, e, bob, "bob"); len(names) != 1 || names[0] != "alice" {
		t.Errorf("bob's friends = %v, want [alice]", names)
	}
}

func TestFriendInviteReverseAutoApproves(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), e.session(t, "alice")))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/bob/invite/alice", nil), e.session(t, "bob")))
	wantStatus(t, resp, http.StatusOK)
	if got := inviteOutcome(t, readBody(t, resp)); got != friend.InviteApproved {
		t.Errorf("outcome = %q, want %q", got, friend.InviteApproved)
	}
}

func TestFriendInviteBlocked(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)
	alice := e.session(t, "alice")
	bob := e.session(t, "bob")

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/bob/block/alice", nil), bob))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusForbidden)

	// Only the block owner holds a block record to lift.
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/unblock/bob", nil), alice))
	wantStatus(t, resp, http.StatusNotFound)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/bob/unblock/alice", nil), bob))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)
}

func TestFriendInviteSelf(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/alice", nil), e.session(t, "alice")))
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestFriendInviteUnknownUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/ghost", nil), e.session(t, "alice")))
	wantStatus(t, resp, http.StatusNotFound)
}

func TestFriendHandlerForeignUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/friends/alice", nil), e.session(t, "bob")))
	wantStatus(t, resp, http.StatusForbidden)

	resp = doReq(t, e.app, httptest.NewRequest(http.MethodGet, "/friends/alice", nil))
	wantStatus(t, resp, http.StatusUnauthorized)
}

func TestFriendRespondInvalidBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "bob", "pw", user.RoleUser)

	resp := doReq(t, e.app, asUser(jsonReq(http.MethodPost,
		"/friends/bob/respond/alice", `{"response":"maybe"}`), e.session(t, "bob")))
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestFriendRespondReject(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)
	alice := e.session(t, "alice")
	bob := e.session(t, "bob")

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(jsonReq(http.MethodPost,
		"/friends/bob/respond/alice", `{"response":"reject"}`), bob))
	wantStatus(t, resp, http.StatusOK)

	// Rejection removes the link entirely; alice may try again later.
	if names := friendNames(t, e, bob, "bob"); len(names) != 0 {
		t.Errorf("bob's friends = %v, want none", names)
	}
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)
	if got := inviteOutcome(t, readBody(t, resp)); got != friend.InviteSent {
		t.Errorf("outcome = %q, want %q", got, friend.InviteSent)
	}
}

func TestUnfriend(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)
	alice := e.session(t, "alice")
	bob := e.session(t, "bob")

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodPost,
		"/friends/alice/invite/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)
	resp = doReq(t, e.app, asUser(jsonReq(http.MethodPost,
		"/friends/bob/respond/alice", `{"response":"accept"}`), bob))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodDelete,
		"/friends/alice/bob", nil), alice))
	wantStatus(t, resp, http.StatusOK)

	if names := friendNames(t, e, alice, "alice"); len(names) != 0 {
		t.Errorf("alice's friends = %v, want none", names)
	}
	if names := friendNames(t, e, bob, "bob"); len(names) != 0 {
		t.Errorf("bob's friends = %v, want none", names)
	}
}
