package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// authorizeHost registers a services host as the admin and returns its
// credentials.
func authorizeHost(t *testing.T, e *env, adminToken, body string) (id, secret string) {
	t.Helper()
	resp := doReq(t, e.app, asUser(jsonReq(http.MethodPost,
		"/services/hosts/authorized", body), adminToken))
	wantStatus(t, resp, http.StatusCreated)
	var minted struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &minted); err != nil {
		t.Fatalf("unmarshal minted credentials: %v", err)
	}
	if minted.ID == "" || minted.Secret == "" {
		t.Fatalf("minted credentials incomplete: %+v", minted)
	}
	return minted.ID, minted.Secret
}

func TestAuthorizeHostHandlerAdminOnly(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	e.addUser(t, "root", "pw", user.RoleAdmin)

	body := `{"url":"https://services.example.com"}`

	resp := doReq(t, e.app, jsonReq(http.MethodPost, "/services/hosts/authorized", body))
	wantStatus(t, resp, http.StatusUnauthorized)

	resp = doReq(t, e.app, asUser(jsonReq(http.MethodPost, "/services/hosts/authorized", body),
		e.session(t, "alice")))
	wantStatus(t, resp, http.StatusForbidden)

	id, _ := authorizeHost(t, e, e.session(t, "root"), body)

	// Listings never echo the secret back.
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/hosts/authorized", nil), e.session(t, "root")))
	wantStatus(t, resp, http.StatusOK)
	listing := string(readBody(t, resp))
	if !strings.Contains(listing, id) {
		t.Errorf("listing %q missing host %q", listing, id)
	}
	if strings.Contains(listing, "secret") {
		t.Errorf("listing %q leaks the secret field", listing)
	}
}

func TestRevokeHostHandler(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "root", "pw", user.RoleAdmin)
	admin := e.session(t, "root")
	id, _ := authorizeHost(t, e, admin, `{"url":"https://services.example.com"}`)

	resp := doReq(t, e.app, asUser(httptest.NewRequest(http.MethodDelete,
		"/services/hosts/authorized/"+id, nil), admin))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodDelete,
		"/services/hosts/authorized/"+id, nil), admin))
	wantStatus(t, resp, http.StatusNotFound)
}

func TestAuthorizedHostPrincipal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "root", "pw", user.RoleAdmin)
	e.addUser(t, "alice", "pw", user.RoleUser)
	id, secret := authorizeHost(t, e, e.session(t, "root"), `{"url":"https://services.example.com"}`)
	if err := e.users.SetServiceSettings(t.Context(), "alice", id, `{"level":3}`); err != nil {
		t.Fatalf("SetServiceSettings() error = %v", err)
	}

	// The host reads per-user settings with its minted credentials.
	req := httptest.NewRequest(http.MethodGet, "/services/settings/user/alice/"+id, nil)
	req.Header.Set("X-Authorization", id+":"+secret)
	resp := doReq(t, e.app, req)
	wantStatus(t, resp, http.StatusOK)
	if got := string(readBody(t, resp)); got != `{"level":3}` {
		t.Errorf("settings = %q, want the stored body", got)
	}

	// A wrong secret leaves the request anonymous.
	req = httptest.NewRequest(http.MethodGet, "/services/settings/user/alice/"+id, nil)
	req.Header.Set("X-Authorization", id+":wrong")
	resp = doReq(t, e.app, req)
	wantStatus(t, resp, http.StatusUnauthorized)
}

func TestUserSettingsRoundtrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	token := e.session(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "/services/settings/user/alice/weather",
		strings.NewReader(`{"units":"metric"}`))
	resp := doReq(t, e.app, asUser(req, token))
	wantStatus(t, resp, http.StatusOK)

	// The body comes back verbatim; the cloud never inspects it.
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/settings/user/alice/weather", nil), token))
	wantStatus(t, resp, http.StatusOK)
	if got := string(readBody(t, resp)); got != `{"units":"metric"}` {
		t.Errorf("settings = %q, want verbatim body", got)
	}

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodDelete,
		"/services/settings/user/alice/weather", nil), token))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/settings/user/alice/weather", nil), token))
	wantStatus(t, resp, http.StatusOK)
	if got := string(readBody(t, resp)); got != "" {
		t.Errorf("settings after delete = %q, want empty", got)
	}
}

func TestUserHostsMergedView(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "root", "pw", user.RoleAdmin)
	e.addUser(t, "alice", "pw", user.RoleUser)
	token := e.session(t, "alice")

	// One public deployment-wide host, one private one.
	authorizeHost(t, e, e.session(t, "root"),
		`{"url":"https://public.example.com","visibility":"public"}`)
	authorizeHost(t, e, e.session(t, "root"),
		`{"url":"https://private.example.com"}`)

	resp := doReq(t, e.app, asUser(jsonReq(http.MethodPost, "/services/hosts/user/alice",
		`[{"url":"https://alice.example.com","categories":["music"]}]`), token))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/hosts/all/alice", nil), token))
	wantStatus(t, resp, http.StatusOK)
	var merged []servicehost.Host
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &merged); err != nil {
		t.Fatalf("unmarshal merged hosts: %v", err)
	}

	urls := make(map[string]bool)
	for _, h := range merged {
		urls[h.URL] = true
	}
	if !urls["https://public.example.com"] || !urls["https://alice.example.com"] {
		t.Errorf("merged hosts = %v, want the public default and alice's host", merged)
	}
	if urls["https://private.example.com"] {
		t.Errorf("merged hosts = %v, private authorized host must not appear", merged)
	}
}

func TestGroupHostsAccess(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "teacher", "pw", user.RoleUser)
	e.addUser(t, "bob", "pw", user.RoleUser)
	token := e.session(t, "teacher")
	g := createGroup(t, e, token, "period 3")

	resp := doReq(t, e.app, asUser(jsonReq(http.MethodPost, "/services/hosts/group/"+g.ID,
		`[{"url":"https://class.example.com"}]`), token))
	wantStatus(t, resp, http.StatusOK)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/hosts/group/"+g.ID, nil), e.session(t, "bob")))
	wantStatus(t, resp, http.StatusForbidden)

	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/hosts/group/"+g.ID, nil), token))
	wantStatus(t, resp, http.StatusOK)
	var hosts []servicehost.Host
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &hosts); err != nil {
		t.Fatalf("unmarshal group hosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].URL != "https://class.example.com" {
		t.Errorf("group hosts = %v, want [class.example.com]", hosts)
	}

	// Group members inherit the group hosts in their merged view.
	e.addUser(t, "student1", "pw", user.RoleUser)
	if err := e.users.SetGroup(t.Context(), "student1", &g.ID); err != nil {
		t.Fatalf("SetGroup() error = %v", err)
	}
	resp = doReq(t, e.app, asUser(httptest.NewRequest(http.MethodGet,
		"/services/hosts/all/student1", nil), e.session(t, "student1")))
	wantStatus(t, resp, http.StatusOK)
	var merged []servicehost.Host
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &merged); err != nil {
		t.Fatalf("unmarshal merged hosts: %v", err)
	}
	if len(merged) != 1 || merged[0].URL != "https://class.example.com" {
		t.Errorf("student's merged hosts = %v, want the group host", merged)
	}
}
