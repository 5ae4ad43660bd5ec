package friend

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeRepo struct {
	mu    sync.Mutex
	links map[[2]string]*Link
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{links: map[[2]string]*Link{}}
}

func (f *fakeRepo) Get(ctx context.Context, sender, recipient string) (*Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[[2]string{sender, recipient}]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *link
	return &copied, nil
}

func (f *fakeRepo) GetBetween(ctx context.Context, a, b string) (*Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *Link
	for _, key := range [][2]string{{a, b}, {b, a}} {
		if link, ok := f.links[key]; ok {
			if link.State == Blocked {
				copied := *link
				return &copied, nil
			}
			if found == nil {
				copied := *link
				found = &copied
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (f *fakeRepo) ListFriends(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, link := range f.links {
		if link.State != Approved {
			continue
		}
		if link.Sender == username {
			out = append(out, link.Recipient)
		} else if link.Recipient == username {
			out = append(out, link.Sender)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListInvites(ctx context.Context, recipient string) ([]Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Link
	for _, link := range f.links {
		if link.State == Pending && link.Recipient == recipient {
			out = append(out, *link)
		}
	}
	return out, nil
}

func (f *fakeRepo) Upsert(ctx context.Context, link *Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *link
	f.links[[2]string{link.Sender, link.Recipient}] = &copied
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, sender, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]string{sender, recipient}
	if _, ok := f.links[key]; !ok {
		return ErrNotFound
	}
	delete(f.links, key)
	return nil
}

func (f *fakeRepo) DeleteAllFor(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, link := range f.links {
		if link.Sender == username || link.Recipient == username {
			delete(f.links, key)
		}
	}
	return nil
}

func TestSendInviteCreatesPending(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	outcome, err := svc.SendInvite(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("send invite: %v", err)
	}
	if outcome != InviteSent {
		t.Fatalf("outcome = %q, want sent", outcome)
	}

	invites, err := svc.Invites(ctx, "bob")
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if len(invites) != 1 || invites[0].Sender != "alice" {
		t.Fatalf("invites = %+v, want one from alice", invites)
	}
}

func TestReverseInviteAutoApproves(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("first invite: %v", err)
	}
	outcome, err := svc.SendInvite(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("reverse invite: %v", err)
	}
	if outcome != InviteApproved {
		t.Fatalf("outcome = %q, want approved", outcome)
	}

	friends, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != "bob" {
		t.Fatalf("friends = %v, want [bob]", friends)
	}
}

func TestBlockForbidsInvites(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	if err := svc.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := svc.SendInvite(ctx, "bob", "alice"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("invite while blocked: err = %v, want ErrBlocked", err)
	}
	invites, _ := svc.Invites(ctx, "alice")
	if len(invites) != 0 {
		t.Fatalf("invites = %+v, want none", invites)
	}

	// Lifting the block lets the invite through again.
	if err := svc.Unblock(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	outcome, err := svc.SendInvite(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("invite after unblock: %v", err)
	}
	if outcome != InviteSent {
		t.Fatalf("outcome = %q, want sent", outcome)
	}
	invites, _ = svc.Invites(ctx, "alice")
	if len(invites) != 1 {
		t.Fatalf("invites = %+v, want one", invites)
	}
}

func TestBlockSupersedesFriendship(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := svc.RespondToInvite(ctx, "alice", "bob", true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ok, _ := svc.AreFriends(ctx, "alice", "bob")
	if !ok {
		t.Fatal("expected friendship before block")
	}

	if err := svc.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	ok, _ = svc.AreFriends(ctx, "alice", "bob")
	if ok {
		t.Error("friendship survived a block")
	}
	blocked, _ := svc.IsBlocked(ctx, "bob", "alice")
	if !blocked {
		t.Error("block not visible in reverse direction")
	}
}

func TestRejectInviteAllowsRetry(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := svc.RespondToInvite(ctx, "alice", "bob", false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	outcome, err := svc.SendInvite(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("retry invite: %v", err)
	}
	if outcome != InviteSent {
		t.Fatalf("outcome = %q, want sent after rejection", outcome)
	}
}

func TestUnblockRestoresContact(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	if err := svc.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := svc.Unblock(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, err := svc.IsBlocked(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Error("block survived unblock")
	}

	// Only the block owner can lift it.
	if err := svc.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("re-block: %v", err)
	}
	if err := svc.Unblock(ctx, "bob", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unblock by target: err = %v, want ErrNotFound", err)
	}
}
