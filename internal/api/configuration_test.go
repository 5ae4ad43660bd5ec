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

type configurationBody struct {
	ClientID      string             `json:"clientId"`
	Username      string             `json:"username"`
	CloudURL      string             `json:"cloudUrl"`
	ServerName    string             `json:"serverName"`
	ServicesHosts []servicehost.Host `json:"servicesHosts"`
}

func getConfiguration(t *testing.T, e *env, token string) configurationBody {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/configuration", nil)
	if token != "" {
		req = asUser(req, token)
	}
	resp := doReq(t, e.app, req)
	wantStatus(t, resp, http.StatusOK)
	var body configurationBody
	if err := json.Unmarshal(parseSuccess(t, readBody(t, resp)).Data, &body); err != nil {
		t.Fatalf("unmarshal configuration: %v", err)
	}
	return body
}

func TestConfigurationHandlerAnonymous(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "root", "pw", user.RoleAdmin)
	authorizeHost(t, e, e.session(t, "root"),
		`{"url":"https://public.example.com","visibility":"public"}`)

	body := getConfiguration(t, e, "")
	if !strings.HasPrefix(body.ClientID, "_") {
		t.Errorf("clientId = %q, want generated ID", body.ClientID)
	}
	if body.Username != "" {
		t.Errorf("username = %q, want empty for anonymous", body.Username)
	}
	if body.CloudURL != "http://cloud.test" || body.ServerName != "Test Cloud" {
		t.Errorf("deployment identity = %q %q", body.CloudURL, body.ServerName)
	}
	if len(body.ServicesHosts) != 1 || body.ServicesHosts[0].URL != "https://public.example.com" {
		t.Errorf("servicesHosts = %v, want the public default", body.ServicesHosts)
	}
}

func TestConfigurationHandlerLoggedIn(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.addUser(t, "alice", "pw", user.RoleUser)
	if err := e.hosts.SetUserHosts(t.Context(), "alice",
		[]servicehost.Host{{URL: "https://alice.example.com"}}); err != nil {
		t.Fatalf("SetUserHosts() error = %v", err)
	}

	body := getConfiguration(t, e, e.session(t, "alice"))
	if body.Username != "alice" {
		t.Errorf("username = %q, want %q", body.Username, "alice")
	}
	if len(body.ServicesHosts) != 1 || body.ServicesHosts[0].URL != "https://alice.example.com" {
		t.Errorf("servicesHosts = %v, want alice's host", body.ServicesHosts)
	}

	// Each call mints a fresh client ID.
	again := getConfiguration(t, e, e.session(t, "alice"))
	if again.ClientID == body.ClientID {
		t.Errorf("clientId reused across sessions: %q", body.ClientID)
	}
}
