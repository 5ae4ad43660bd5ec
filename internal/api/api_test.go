package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/blob"
	"github.com/netsblox/cloud/internal/config"
	"github.com/netsblox/cloud/internal/email"
	"github.com/netsblox/cloud/internal/filter"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

var testTimeout = fiber.TestConfig{Timeout: 10 * time.Second}

const testSecret = "test-session-secret-at-least-32-chars"

// env wires the full route table onto in-memory fakes for handler tests.
type env struct {
	app      *fiber.App
	users    *fakeUsers
	groups   *fakeGroups
	projects *fakeProjectRepo
	invites  *fakeInvites
	friends  *fakeFriendRepo
	libs     *fakeLibraryRepo
	hosts    *fakeHosts
	topology *network.Topology
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithLoginLimit(t, 100)
}

func newEnvWithLoginLimit(t *testing.T, loginLimit int) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newFakeUsers()
	groups := newFakeGroups()
	hosts := newFakeHosts()
	projects := newFakeProjectRepo()
	invites := newFakeInvites()
	friends := newFakeFriendRepo()
	libs := newFakeLibraryRepo()

	m := metrics.New()
	profanity := filter.Contains("badword")
	projSvc := project.NewService(projects, blob.NewMemoryStore(), m, zerolog.Nop())
	topo := network.NewTopology(projects, projSvc, m, 15*time.Minute, 10*time.Minute, zerolog.Nop())
	resolver, err := network.NewResolver(topo, projects, 64)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	router := network.NewRouter(topo, resolver, projects, users, nopRecorder{}, m, zerolog.Nop())

	cfg := &config.Config{
		ServerName: "Test Cloud",
		PublicURL:  "http://cloud.test",
		Session: config.SessionConfig{
			Secret: testSecret,
			MaxAge: time.Hour,
		},
		Network: config.NetworkConfig{
			InactivityTimeout: 15 * time.Minute,
			RoleFetchTimeout:  time.Second,
			OutboundQueue:     8,
		},
		Limits: config.LimitConfig{
			AuthCount:         1000,
			AuthWindowSeconds: 60,
		},
	}

	app := fiber.New()
	app.Use(auth.Middleware(testSecret, users, hosts))
	RegisterRoutes(app, Deps{
		Config:        cfg,
		Log:           zerolog.Nop(),
		Auth:          auth.NewService(users, groups),
		Users:         users,
		Groups:        groups,
		Projects:      projSvc,
		Friends:       friend.NewService(friends),
		Libraries:     library.NewService(libs, profanity),
		Invites:       invites,
		Hosts:         hosts,
		Topology:      topo,
		Router:        router,
		Mailer:        email.Discard{},
		Profanity:     profanity,
		LoginThrottle: auth.NewThrottle(rdb, "login", loginLimit, time.Minute),
		ResetThrottle: auth.NewThrottle(rdb, "reset", 3, time.Hour),
		Metrics:       m,
		MongoPinger:   okPinger{},
		RedisPinger:   okPinger{},
	})

	return &env{
		app:      app,
		users:    users,
		groups:   groups,
		projects: projects,
		invites:  invites,
		friends:  friends,
		libs:     libs,
		hosts:    hosts,
		topology: topo,
	}
}

// addUser inserts an account directly, the way Create would store it.
func (e *env) addUser(t *testing.T, username, password string, role user.Role) *user.User {
	t.Helper()
	salt, err := auth.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	u, err := e.users.Create(context.Background(), user.CreateParams{
		Username: username,
		Email:    username + "@example.com",
		Hash:     auth.HashPassword(password, salt),
		Salt:     salt,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", username, err)
	}
	return u
}

// session mints a valid cookie token for the user.
func (e *env) session(t *testing.T, username string) string {
	t.Helper()
	token, err := auth.NewSessionToken(username, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionToken() error = %v", err)
	}
	return token
}

// --- request helpers ---

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asUser(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	return req
}

func doReq(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return b
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseSuccess(t *testing.T, body []byte) successEnvelope {
	t.Helper()
	var env successEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal success response %q: %v", string(body), err)
	}
	return env
}

func parseError(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error response %q: %v", string(body), err)
	}
	return env
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Errorf("status = %d, want %d", resp.StatusCode, want)
	}
}

func wantErrorCode(t *testing.T, body []byte, want httputil.Code) {
	t.Helper()
	env := parseError(t, body)
	if env.Error.Code != string(want) {
		t.Errorf("error code = %q, want %q", env.Error.Code, want)
	}
}

// --- pingers and recorders ---

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, []network.RecordedMessage) error { return nil }
func (nopRecorder) ListTrace(context.Context, string, string) ([]network.RecordedMessage, error) {
	return nil, nil
}

// --- fakeUsers ---

type fakeUsers struct {
	mu     sync.Mutex
	users  map[string]*user.User
	banned map[string]*user.BannedAccount
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:  make(map[string]*user.User),
		banned: make(map[string]*user.BannedAccount),
	}
}

func (r *fakeUsers) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[params.Username]; ok {
		return nil, user.ErrBanned
	}
	if _, ok := r.users[params.Username]; ok {
		return nil, user.ErrAlreadyExists
	}
	u := &user.User{
		Username:        params.Username,
		Email:           params.Email,
		Hash:            params.Hash,
		Salt:            params.Salt,
		Role:            params.Role,
		GroupID:         params.GroupID,
		ServiceSettings: make(map[string]string),
		CreatedAt:       time.Now().UTC(),
	}
	r.users[params.Username] = u
	return u, nil
}

func (r *fakeUsers) GetByUsername(_ context.Context, username string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (r *fakeUsers) GetByEmail(_ context.Context, email string) ([]user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []user.User
	for _, u := range r.users {
		if u.Email == email {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeUsers) Exists(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[username]
	return ok, nil
}

func (r *fakeUsers) List(_ context.Context) ([]user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []user.User
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, nil
}

func (r *fakeUsers) ListByGroup(_ context.Context, groupID string) ([]user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []user.User
	for _, u := range r.users {
		if u.GroupID != nil && *u.GroupID == groupID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeUsers) SetPassword(_ context.Context, username, hash, salt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	u.Hash, u.Salt = hash, salt
	return nil
}

func (r *fakeUsers) SetRole(_ context.Context, username string, role user.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	u.Role = role
	return nil
}

func (r *fakeUsers) SetGroup(_ context.Context, username string, groupID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	u.GroupID = groupID
	return nil
}

func (r *fakeUsers) ClearGroup(_ context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.GroupID != nil && *u.GroupID == groupID {
			u.GroupID = nil
		}
	}
	return nil
}

func (r *fakeUsers) AddLinkedAccount(_ context.Context, username string, account user.LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	u.LinkedAccounts = append(u.LinkedAccounts, account)
	return nil
}

func (r *fakeUsers) RemoveLinkedAccount(_ context.Context, username string, account user.LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	kept := u.LinkedAccounts[:0]
	for _, a := range u.LinkedAccounts {
		if a != account {
			kept = append(kept, a)
		}
	}
	u.LinkedAccounts = kept
	return nil
}

func (r *fakeUsers) GetByLinkedAccount(_ context.Context, account user.LinkedAccount) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		for _, a := range u.LinkedAccounts {
			if a == account {
				return u, nil
			}
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUsers) SetServiceSettings(_ context.Context, username, hostID, settings string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	if u.ServiceSettings == nil {
		u.ServiceSettings = make(map[string]string)
	}
	u.ServiceSettings[hostID] = settings
	return nil
}

func (r *fakeUsers) DeleteServiceSettings(_ context.Context, username, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return user.ErrNotFound
	}
	delete(u.ServiceSettings, hostID)
	return nil
}

func (r *fakeUsers) Ban(_ context.Context, username string) (*user.BannedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	banned := &user.BannedAccount{
		Username: u.Username,
		Email:    u.Email,
		BannedAt: time.Now().UTC(),
	}
	r.banned[username] = banned
	delete(r.users, username)
	return banned, nil
}

func (r *fakeUsers) Unban(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[username]; !ok {
		return user.ErrNotBanned
	}
	delete(r.banned, username)
	return nil
}

func (r *fakeUsers) IsBanned(_ context.Context, username, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[username]; ok {
		return true, nil
	}
	for _, b := range r.banned {
		if b.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUsers) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[username]; !ok {
		return user.ErrNotFound
	}
	delete(r.users, username)
	return nil
}

// --- fakeGroups ---

type fakeGroups struct {
	mu     sync.Mutex
	groups map[string]*group.Group
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{groups: make(map[string]*group.Group)}
}

func (r *fakeGroups) Create(_ context.Context, owner, name string) (*group.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Owner == owner && g.Name == name {
			return nil, group.ErrAlreadyExists
		}
	}
	g := &group.Group{
		ID:              uuid.NewString(),
		Owner:           owner,
		Name:            name,
		ServiceSettings: make(map[string]string),
		CreatedAt:       time.Now().UTC(),
	}
	r.groups[g.ID] = g
	return g, nil
}

func (r *fakeGroups) Get(_ context.Context, id string) (*group.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, group.ErrNotFound
	}
	return g, nil
}

func (r *fakeGroups) GetByName(_ context.Context, owner, name string) (*group.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Owner == owner && g.Name == name {
			return g, nil
		}
	}
	return nil, group.ErrNotFound
}

func (r *fakeGroups) ListByOwner(_ context.Context, owner string) ([]group.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []group.Group
	for _, g := range r.groups {
		if g.Owner == owner {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *fakeGroups) Rename(_ context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return group.ErrNotFound
	}
	g.Name = name
	return nil
}

func (r *fakeGroups) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return group.ErrNotFound
	}
	delete(r.groups, id)
	return nil
}

func (r *fakeGroups) SetServiceSettings(_ context.Context, id, hostID, settings string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return group.ErrNotFound
	}
	if g.ServiceSettings == nil {
		g.ServiceSettings = make(map[string]string)
	}
	g.ServiceSettings[hostID] = settings
	return nil
}

func (r *fakeGroups) DeleteServiceSettings(_ context.Context, id, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return group.ErrNotFound
	}
	delete(g.ServiceSettings, hostID)
	return nil
}

// --- fakeProjectRepo ---

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*project.Metadata
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[string]*project.Metadata)}
}

func copyMeta(m *project.Metadata) *project.Metadata {
	cpy := *m
	cpy.Roles = make(map[string]project.RoleMetadata, len(m.Roles))
	for id, role := range m.Roles {
		cpy.Roles[id] = role
	}
	cpy.Collaborators = append([]string(nil), m.Collaborators...)
	cpy.Traces = append([]project.TraceMetadata(nil), m.Traces...)
	return &cpy
}

func (r *fakeProjectRepo) takenNames(owner, exceptID string) map[string]struct{} {
	taken := make(map[string]struct{})
	for id, m := range r.projects {
		if m.Owner == owner && id != exceptID {
			taken[m.Name] = struct{}{}
		}
	}
	return taken
}

func (r *fakeProjectRepo) Create(_ context.Context, meta *project.Metadata) (*project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := copyMeta(meta)
	stored.ID = uuid.NewString()
	stored.Name = project.UniqueName(meta.Name, r.takenNames(meta.Owner, ""))
	now := time.Now().UTC()
	stored.Updated = now
	stored.OriginTime = now
	if stored.State == "" {
		stored.State = project.Private
	}
	r.projects[stored.ID] = stored
	return copyMeta(stored), nil
}

func (r *fakeProjectRepo) Get(_ context.Context, id string) (*project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	return copyMeta(m), nil
}

func (r *fakeProjectRepo) GetByName(_ context.Context, owner, name string) (*project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.projects {
		if m.Owner == owner && m.Name == name {
			return copyMeta(m), nil
		}
	}
	return nil, project.ErrNotFound
}

func (r *fakeProjectRepo) ListByOwner(_ context.Context, owner string) ([]project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Metadata
	for _, m := range r.projects {
		if m.Owner == owner {
			out = append(out, *copyMeta(m))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ListSharedWith(_ context.Context, collaborator string) ([]project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Metadata
	for _, m := range r.projects {
		if m.HasCollaborator(collaborator) {
			out = append(out, *copyMeta(m))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ListPublic(_ context.Context) ([]project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Metadata
	for _, m := range r.projects {
		if m.State == project.Public {
			out = append(out, *copyMeta(m))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) Rename(_ context.Context, id, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return "", project.ErrNotFound
	}
	stored := project.UniqueName(name, r.takenNames(m.Owner, id))
	m.Name = stored
	m.Updated = time.Now().UTC()
	return stored, nil
}

func (r *fakeProjectRepo) RenameRole(_ context.Context, id, roleID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	role, ok := m.Roles[roleID]
	if !ok {
		return project.ErrRoleNotFound
	}
	role.Name = name
	m.Roles[roleID] = role
	m.Updated = time.Now().UTC()
	return nil
}

func (r *fakeProjectRepo) SetPublishState(_ context.Context, id string, state project.PublishState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	m.State = state
	return nil
}

func (r *fakeProjectRepo) SetSaveState(_ context.Context, id string, state project.SaveState, deleteAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	m.SaveState = state
	m.DeleteAt = deleteAt
	return nil
}

func (r *fakeProjectRepo) UpsertRole(_ context.Context, id, roleID string, role project.RoleMetadata, expected time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	if !m.Updated.Equal(expected) {
		return project.ErrStaleWrite
	}
	role.Updated = time.Now().UTC()
	m.Roles[roleID] = role
	m.Updated = role.Updated
	return nil
}

func (r *fakeProjectRepo) RemoveRole(_ context.Context, id, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	if _, ok := m.Roles[roleID]; !ok {
		return project.ErrRoleNotFound
	}
	delete(m.Roles, roleID)
	m.Updated = time.Now().UTC()
	return nil
}

func (r *fakeProjectRepo) AddCollaborator(_ context.Context, id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	if !m.HasCollaborator(username) {
		m.Collaborators = append(m.Collaborators, username)
	}
	return nil
}

func (r *fakeProjectRepo) RemoveCollaborator(_ context.Context, id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	kept := m.Collaborators[:0]
	for _, c := range m.Collaborators {
		if c != username {
			kept = append(kept, c)
		}
	}
	m.Collaborators = kept
	return nil
}

func (r *fakeProjectRepo) StartTrace(_ context.Context, id string) (*project.TraceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	trace := project.TraceMetadata{ID: uuid.NewString(), StartTime: time.Now().UTC()}
	m.Traces = append(m.Traces, trace)
	return &trace, nil
}

func (r *fakeProjectRepo) StopTrace(_ context.Context, id, traceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	for i := range m.Traces {
		if m.Traces[i].ID == traceID {
			now := time.Now().UTC()
			m.Traces[i].EndTime = &now
			return nil
		}
	}
	return project.ErrNotFound
}

func (r *fakeProjectRepo) RemoveTrace(_ context.Context, id, traceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	kept := m.Traces[:0]
	for _, trace := range m.Traces {
		if trace.ID != traceID {
			kept = append(kept, trace)
		}
	}
	m.Traces = kept
	return nil
}

func (r *fakeProjectRepo) ListExpired(_ context.Context, now time.Time) ([]project.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Metadata
	for _, m := range r.projects {
		if (m.SaveState == project.Transient || m.SaveState == project.Broken) &&
			m.DeleteAt != nil && m.DeleteAt.Before(now) {
			out = append(out, *copyMeta(m))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ReferencedBlobKeys(_ context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make(map[string]struct{})
	for _, m := range r.projects {
		for _, key := range m.BlobKeys() {
			keys[key] = struct{}{}
		}
	}
	return keys, nil
}

func (r *fakeProjectRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return project.ErrNotFound
	}
	delete(r.projects, id)
	return nil
}

// --- fakeInvites ---

type fakeInvites struct {
	mu        sync.Mutex
	collabs   map[string]*invite.CollaborationInvite
	occupants []invite.OccupantInvite
}

func newFakeInvites() *fakeInvites {
	return &fakeInvites{collabs: make(map[string]*invite.CollaborationInvite)}
}

func (r *fakeInvites) CreateCollaboration(_ context.Context, sender, receiver, projectID string) (*invite.CollaborationInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.collabs {
		if inv.ProjectID == projectID && inv.Receiver == receiver {
			return nil, invite.ErrAlreadyExists
		}
	}
	inv := &invite.CollaborationInvite{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		ProjectID: projectID,
		State:     invite.CollaborationPending,
		CreatedAt: time.Now().UTC(),
	}
	r.collabs[inv.ID] = inv
	return inv, nil
}

func (r *fakeInvites) GetCollaboration(_ context.Context, id string) (*invite.CollaborationInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.collabs[id]
	if !ok {
		return nil, invite.ErrNotFound
	}
	return inv, nil
}

func (r *fakeInvites) ListCollaborations(_ context.Context, receiver string) ([]invite.CollaborationInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []invite.CollaborationInvite
	for _, inv := range r.collabs {
		if inv.Receiver == receiver {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *fakeInvites) RespondCollaboration(_ context.Context, id string, state invite.CollaborationState) (*invite.CollaborationInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.collabs[id]
	if !ok {
		return nil, invite.ErrNotFound
	}
	answered := *inv
	answered.State = state
	delete(r.collabs, id)
	return &answered, nil
}

func (r *fakeInvites) DeleteProjectCollaborations(_ context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inv := range r.collabs {
		if inv.ProjectID == projectID {
			delete(r.collabs, id)
		}
	}
	return nil
}

func (r *fakeInvites) CreateOccupant(_ context.Context, inv *invite.OccupantInvite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv.CreatedAt = time.Now().UTC()
	r.occupants = append(r.occupants, *inv)
	return nil
}

func (r *fakeInvites) GetOccupant(_ context.Context, projectID, roleID, username string) (*invite.OccupantInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.occupants {
		if inv.ProjectID == projectID && inv.RoleID == roleID && inv.Username == username {
			cpy := inv
			return &cpy, nil
		}
	}
	return nil, invite.ErrNotFound
}

func (r *fakeInvites) ListOccupants(_ context.Context, username string) ([]invite.OccupantInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []invite.OccupantInvite
	for _, inv := range r.occupants {
		if inv.Username == username {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *fakeInvites) DeleteOccupant(_ context.Context, projectID, roleID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.occupants[:0]
	for _, inv := range r.occupants {
		if inv.ProjectID == projectID && inv.RoleID == roleID && inv.Username == username {
			continue
		}
		kept = append(kept, inv)
	}
	r.occupants = kept
	return nil
}

// --- fakeFriendRepo ---

type fakeFriendRepo struct {
	mu    sync.Mutex
	links map[string]*friend.Link
}

func newFakeFriendRepo() *fakeFriendRepo {
	return &fakeFriendRepo{links: make(map[string]*friend.Link)}
}

func linkKey(sender, recipient string) string { return sender + "|" + recipient }

func (r *fakeFriendRepo) Get(_ context.Context, sender, recipient string) (*friend.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[linkKey(sender, recipient)]
	if !ok {
		return nil, friend.ErrNotFound
	}
	cpy := *link
	return &cpy, nil
}

func (r *fakeFriendRepo) GetBetween(_ context.Context, a, b string) (*friend.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link, ok := r.links[linkKey(a, b)]; ok {
		cpy := *link
		return &cpy, nil
	}
	if link, ok := r.links[linkKey(b, a)]; ok {
		cpy := *link
		return &cpy, nil
	}
	return nil, friend.ErrNotFound
}

func (r *fakeFriendRepo) ListFriends(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, link := range r.links {
		if link.State != friend.Approved {
			continue
		}
		switch username {
		case link.Sender:
			out = append(out, link.Recipient)
		case link.Recipient:
			out = append(out, link.Sender)
		}
	}
	return out, nil
}

func (r *fakeFriendRepo) ListInvites(_ context.Context, recipient string) ([]friend.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []friend.Link
	for _, link := range r.links {
		if link.State == friend.Pending && link.Recipient == recipient {
			out = append(out, *link)
		}
	}
	return out, nil
}

func (r *fakeFriendRepo) Upsert(_ context.Context, link *friend.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *link
	r.links[linkKey(link.Sender, link.Recipient)] = &cpy
	return nil
}

func (r *fakeFriendRepo) Delete(_ context.Context, sender, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := linkKey(sender, recipient)
	if _, ok := r.links[key]; !ok {
		return friend.ErrNotFound
	}
	delete(r.links, key)
	return nil
}

func (r *fakeFriendRepo) DeleteAllFor(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, link := range r.links {
		if link.Sender == username || link.Recipient == username {
			delete(r.links, key)
		}
	}
	return nil
}

// --- fakeLibraryRepo ---

type fakeLibraryRepo struct {
	mu   sync.Mutex
	libs map[string]*library.Library
}

func newFakeLibraryRepo() *fakeLibraryRepo {
	return &fakeLibraryRepo{libs: make(map[string]*library.Library)}
}

func libKey(owner, name string) string { return owner + "/" + name }

func (r *fakeLibraryRepo) Upsert(_ context.Context, lib *library.Library) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *lib
	r.libs[libKey(lib.Owner, lib.Name)] = &cpy
	return nil
}

func (r *fakeLibraryRepo) Get(_ context.Context, owner, name string) (*library.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.libs[libKey(owner, name)]
	if !ok {
		return nil, library.ErrNotFound
	}
	cpy := *lib
	return &cpy, nil
}

func (r *fakeLibraryRepo) ListByOwner(_ context.Context, owner string) ([]library.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []library.Library
	for _, lib := range r.libs {
		if lib.Owner == owner {
			out = append(out, *lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) ListPublic(_ context.Context) ([]library.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []library.Library
	for _, lib := range r.libs {
		if lib.State == library.Public {
			out = append(out, *lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) ListPendingApproval(_ context.Context) ([]library.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []library.Library
	for _, lib := range r.libs {
		if lib.State == library.PendingApproval {
			out = append(out, *lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) SetState(_ context.Context, owner, name string, state library.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.libs[libKey(owner, name)]
	if !ok {
		return library.ErrNotFound
	}
	lib.State = state
	return nil
}

func (r *fakeLibraryRepo) Delete(_ context.Context, owner, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := libKey(owner, name)
	if _, ok := r.libs[key]; !ok {
		return library.ErrNotFound
	}
	delete(r.libs, key)
	return nil
}

// --- fakeHosts ---

type fakeHosts struct {
	mu         sync.Mutex
	userHosts  map[string][]servicehost.Host
	groupHosts map[string][]servicehost.Host
	authorized map[string]*servicehost.AuthorizedHost
}

func newFakeHosts() *fakeHosts {
	return &fakeHosts{
		userHosts:  make(map[string][]servicehost.Host),
		groupHosts: make(map[string][]servicehost.Host),
		authorized: make(map[string]*servicehost.AuthorizedHost),
	}
}

func (r *fakeHosts) SetUserHosts(_ context.Context, username string, hosts []servicehost.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userHosts[username] = hosts
	return nil
}

func (r *fakeHosts) GetUserHosts(_ context.Context, username string) ([]servicehost.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userHosts[username], nil
}

func (r *fakeHosts) SetGroupHosts(_ context.Context, groupID string, hosts []servicehost.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupHosts[groupID] = hosts
	return nil
}

func (r *fakeHosts) GetGroupHosts(_ context.Context, groupID string) ([]servicehost.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groupHosts[groupID], nil
}

func (r *fakeHosts) Authorize(_ context.Context, host *servicehost.AuthorizedHost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.authorized[host.ID]; ok {
		return servicehost.ErrAlreadyExists
	}
	host.CreatedAt = time.Now().UTC()
	cpy := *host
	r.authorized[host.ID] = &cpy
	return nil
}

func (r *fakeHosts) GetAuthorized(_ context.Context, id string) (*servicehost.AuthorizedHost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, ok := r.authorized[id]
	if !ok {
		return nil, servicehost.ErrNotFound
	}
	cpy := *host
	return &cpy, nil
}

func (r *fakeHosts) ListAuthorized(_ context.Context) ([]servicehost.AuthorizedHost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []servicehost.AuthorizedHost
	for _, host := range r.authorized {
		out = append(out, *host)
	}
	return out, nil
}

func (r *fakeHosts) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.authorized[id]; !ok {
		return servicehost.ErrNotFound
	}
	delete(r.authorized, id)
	return nil
}
