package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

// RecordedMessage is one captured overlay message inside a trace window.
// Seq is monotonic per trace so replays can order the capture.
type RecordedMessage struct {
	ProjectID  string          `bson:"projectId" json:"projectId"`
	TraceID    string          `bson:"traceId" json:"traceId"`
	Seq        uint64          `bson:"seq" json:"seq"`
	Time       time.Time       `bson:"createdAt" json:"time"`
	Source     ClientState     `bson:"source" json:"source"`
	Recipients []ClientState   `bson:"recipients" json:"recipients"`
	Content    json.RawMessage `bson:"content" json:"content"`
}

// Recorder persists captured messages.
type Recorder interface {
	Record(ctx context.Context, messages []RecordedMessage) error
	ListTrace(ctx context.Context, projectID, traceID string) ([]RecordedMessage, error)
}

// UserDirectory is the account read surface the delivery policy needs.
type UserDirectory interface {
	GetByUsername(ctx context.Context, username string) (*user.User, error)
}

// Router fans overlay messages out to their resolved recipients and captures
// them into any active traces on the involved projects.
type Router struct {
	topology *Topology
	resolver *Resolver
	projects ProjectStore
	users    UserDirectory
	recorder Recorder
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewRouter creates the message router.
func NewRouter(topology *Topology, resolver *Resolver, projects ProjectStore, users UserDirectory, recorder Recorder, m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		topology: topology,
		resolver: resolver,
		projects: projects,
		users:    users,
		recorder: recorder,
		metrics:  m,
		log:      logger.With().Str("component", "router").Logger(),
	}
}

// Route delivers a message/client-message/user-action frame from a sender.
// The source address is server-asserted: whatever the client declared is
// replaced by reverse resolution, so recipients can trust it. Delivery is
// best-effort with no retries; per-recipient ordering rides on the single
// outbound channel.
func (r *Router) Route(ctx context.Context, senderID string, frame *Frame) {
	source := r.resolver.SourceAddress(ctx, senderID)

	recipients := r.collectRecipients(ctx, senderID, frame.Addresses)
	if len(recipients) > 0 {
		out := mustEncode(&Frame{
			Type:          frame.Type,
			SourceAddress: source,
			Addresses:     frame.Addresses,
			Content:       frame.Content,
		})
		for _, id := range recipients {
			_ = r.topology.Send(ctx, id, out)
		}
		r.metrics.MessagesRouted.Inc()
	}

	r.maybeRecord(ctx, senderID, recipients, frame.Content)
}

// collectRecipients resolves every target address, deduplicating clients
// named by more than one address. Unresolvable addresses and recipients the
// sender may not reach are skipped silently so senders cannot probe for
// hidden projects.
func (r *Router) collectRecipients(ctx context.Context, senderID string, addresses []string) []string {
	seen := make(map[string]struct{})
	var recipients []string
	for _, raw := range addresses {
		addr, err := ParseAddress(raw)
		if err != nil {
			continue
		}
		for _, id := range r.resolver.Resolve(ctx, addr, senderID) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if !r.mayDeliver(ctx, senderID, id) {
				continue
			}
			recipients = append(recipients, id)
		}
	}
	return recipients
}

// mayDeliver decides whether a message from senderID may reach recipientID.
// Occupants of the same room always reach each other; beyond that the sender
// must be an admin, share a group with the recipient, or target a project it
// may view (public, owned, or shared). Messages injected by authorized
// services hosts carry no sender client and are trusted.
func (r *Router) mayDeliver(ctx context.Context, senderID, recipientID string) bool {
	if senderID == "" {
		return true
	}

	senderState, _ := r.topology.ClientState(senderID)
	recipientState, _ := r.topology.ClientState(recipientID)
	if senderState.Browser != nil && recipientState.Browser != nil &&
		senderState.Browser.ProjectID == recipientState.Browser.ProjectID {
		return true
	}

	senderName, _ := r.topology.ClientUsername(senderID)
	if senderName == "" {
		// Anonymous clients only reach their own room.
		return false
	}

	senderGroup, senderAdmin := r.accountGroup(ctx, senderName)
	if senderAdmin {
		return true
	}
	if recipientName, _ := r.topology.ClientUsername(recipientID); recipientName != "" {
		recipientGroup, recipientAdmin := r.accountGroup(ctx, recipientName)
		if recipientAdmin || groupsEqual(senderGroup, recipientGroup) {
			return true
		}
	}

	if recipientState.Browser != nil {
		meta, err := r.projects.Get(ctx, recipientState.Browser.ProjectID)
		if err == nil && (meta.State == project.Public ||
			meta.Owner == senderName || meta.HasCollaborator(senderName)) {
			return true
		}
	}
	return false
}

// accountGroup resolves a username to its group and admin bit. Names without
// an account record count as members of the site-wide default group.
func (r *Router) accountGroup(ctx context.Context, username string) (*string, bool) {
	u, err := r.users.GetByUsername(ctx, username)
	if err != nil || u == nil {
		return nil, false
	}
	return u.GroupID, u.Role == user.RoleAdmin
}

// groupsEqual treats a nil group ID as the site-wide default group.
func groupsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// maybeRecord appends the message to every open trace on a project the
// sender or a recipient occupies.
func (r *Router) maybeRecord(ctx context.Context, senderID string, recipients []string, content json.RawMessage) {
	source, ok := r.topology.ClientState(senderID)
	if !ok {
		return
	}

	projectIDs := make(map[string]struct{})
	if source.Browser != nil {
		projectIDs[source.Browser.ProjectID] = struct{}{}
	}
	var recipientStates []ClientState
	for _, id := range recipients {
		state, ok := r.topology.ClientState(id)
		if !ok {
			continue
		}
		recipientStates = append(recipientStates, state)
		if state.Browser != nil {
			projectIDs[state.Browser.ProjectID] = struct{}{}
		}
	}

	now := time.Now().UTC()
	var records []RecordedMessage
	for projectID := range projectIDs {
		meta, err := r.projects.Get(ctx, projectID)
		if err != nil {
			continue
		}
		for _, trace := range meta.Traces {
			if trace.EndTime != nil {
				continue
			}
			records = append(records, RecordedMessage{
				ProjectID:  projectID,
				TraceID:    trace.ID,
				Time:       now,
				Source:     source,
				Recipients: recipientStates,
				Content:    content,
			})
		}
	}
	if len(records) == 0 {
		return
	}
	if err := r.recorder.Record(ctx, records); err != nil {
		r.log.Warn().Err(err).Msg("Failed to record traced messages")
		return
	}
	r.metrics.MessagesRecorded.Add(float64(len(records)))
}

// RouteFromServices injects a message on behalf of an authorized services
// host. The sender has no client, so the source address is taken verbatim.
// frameType defaults to "message".
func (r *Router) RouteFromServices(ctx context.Context, source string, addresses []string, frameType string, content json.RawMessage) int {
	recipients := r.collectRecipients(ctx, "", addresses)
	if len(recipients) == 0 {
		return 0
	}
	if frameType == "" {
		frameType = TypeMessage
	}
	out := mustEncode(&Frame{
		Type:          frameType,
		SourceAddress: source,
		Addresses:     addresses,
		Content:       content,
	})
	for _, id := range recipients {
		_ = r.topology.Send(ctx, id, out)
	}
	r.metrics.MessagesRouted.Inc()
	return len(recipients)
}
