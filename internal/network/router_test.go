package network

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

func messageTo(addresses ...string) *Frame {
	return &Frame{
		Type:      TypeMessage,
		Addresses: addresses,
		Content:   json.RawMessage(`{}`),
	}
}

func TestPrivateProjectUnreachableToOutsiders(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	g1, g2 := "g1", "g2"
	net.users.add("alice", user.RoleUser, &g1)
	net.users.add("eve", user.RoleUser, &g2)
	net.addProject("p1", "alice", "secret", map[string]string{"r1": "host"})
	net.addProject("p2", "eve", "scratch", map[string]string{"r1": "main"})

	occupant := &fakeSink{}
	net.topology.Connect("_c1", occupant)
	_ = net.topology.SetState(ctx, "_c1", browserState("p1", "r1"), "alice")

	// A connected client with no identity and no placement.
	anon := &fakeSink{}
	net.topology.Connect("_z1", anon)
	net.router.Route(ctx, "_z1", messageTo("host@secret@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 0 {
		t.Errorf("anonymous sender reached a private project occupant (%d frames)", got)
	}

	// A logged-in sender from another group.
	stranger := &fakeSink{}
	net.topology.Connect("_e1", stranger)
	_ = net.topology.SetState(ctx, "_e1", browserState("p2", "r1"), "eve")
	net.router.Route(ctx, "_e1", messageTo("host@secret@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 0 {
		t.Errorf("cross-group sender reached a private project occupant (%d frames)", got)
	}
}

func TestPublicProjectReachableWhenAuthenticated(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	g1, g2 := "g1", "g2"
	net.users.add("alice", user.RoleUser, &g1)
	net.users.add("eve", user.RoleUser, &g2)
	meta := net.addProject("p1", "alice", "gallery", map[string]string{"r1": "host"})
	meta.State = project.Public
	net.addProject("p2", "eve", "scratch", map[string]string{"r1": "main"})

	occupant := &fakeSink{}
	net.topology.Connect("_c1", occupant)
	_ = net.topology.SetState(ctx, "_c1", browserState("p1", "r1"), "alice")

	sender := &fakeSink{}
	net.topology.Connect("_e1", sender)
	_ = net.topology.SetState(ctx, "_e1", browserState("p2", "r1"), "eve")
	net.router.Route(ctx, "_e1", messageTo("host@gallery@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 1 {
		t.Errorf("authenticated sender to public project got %d deliveries, want 1", got)
	}

	// Publishing does not open the room to anonymous senders.
	anon := &fakeSink{}
	net.topology.Connect("_z1", anon)
	net.router.Route(ctx, "_z1", messageTo("host@gallery@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 1 {
		t.Errorf("anonymous sender reached a public project occupant (%d frames total)", got)
	}
}

func TestAdminReachesPrivateProjects(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	g1 := "g1"
	net.users.add("alice", user.RoleUser, &g1)
	net.users.add("root", user.RoleAdmin, nil)
	net.addProject("p1", "alice", "secret", map[string]string{"r1": "host"})
	net.addProject("p2", "root", "console", map[string]string{"r1": "main"})

	occupant := &fakeSink{}
	net.topology.Connect("_c1", occupant)
	_ = net.topology.SetState(ctx, "_c1", browserState("p1", "r1"), "alice")

	admin := &fakeSink{}
	net.topology.Connect("_a1", admin)
	_ = net.topology.SetState(ctx, "_a1", browserState("p2", "r1"), "root")
	net.router.Route(ctx, "_a1", messageTo("host@secret@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 1 {
		t.Errorf("admin sender got %d deliveries into a private project, want 1", got)
	}
}

func TestGroupmatesReachEachOtherAcrossRooms(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	g1 := "g1"
	net.users.add("alice", user.RoleUser, &g1)
	net.users.add("bob", user.RoleUser, &g1)
	net.addProject("p1", "alice", "secret", map[string]string{"r1": "host"})
	net.addProject("p2", "bob", "scratch", map[string]string{"r1": "main"})

	occupant := &fakeSink{}
	net.topology.Connect("_c1", occupant)
	_ = net.topology.SetState(ctx, "_c1", browserState("p1", "r1"), "alice")

	mate := &fakeSink{}
	net.topology.Connect("_b1", mate)
	_ = net.topology.SetState(ctx, "_b1", browserState("p2", "r1"), "bob")
	net.router.Route(ctx, "_b1", messageTo("host@secret@alice"))
	if got := len(occupant.byType(TypeMessage)); got != 1 {
		t.Errorf("groupmate sender got %d deliveries, want 1", got)
	}
}

func TestExternalAddressCaseFolding(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	net.addProject("p1", "bob", "room", map[string]string{"r1": "main"})

	ext := &fakeSink{}
	net.topology.Connect("_e1", ext)
	_ = net.topology.SetState(ctx, "_e1", externalState("RoboHost", "MyApp"), "alice")

	sender := &fakeSink{}
	net.topology.Connect("_b1", sender)
	_ = net.topology.SetState(ctx, "_b1", browserState("p1", "r1"), "bob")

	net.router.Route(ctx, "_b1", messageTo("robohost@alice #myapp"))
	if got := len(ext.byType(TypeMessage)); got != 1 {
		t.Fatalf("case-folded external address got %d messages, want 1", got)
	}

	// The username segment stays case-sensitive.
	net.router.Route(ctx, "_b1", messageTo("robohost@ALICE #myapp"))
	if got := len(ext.byType(TypeMessage)); got != 1 {
		t.Errorf("wrong-cased username still matched (%d messages)", got)
	}
}
