package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chess-arena/internal/apperr"
	"chess-arena/internal/rating"
	"chess-arena/internal/registry"
	"chess-arena/internal/session"
	"chess-arena/internal/storage"
)

type fakeAgents struct {
	byID    map[string]registry.Agent
	byToken map[string]registry.Agent
}

func (f *fakeAgents) Resolve(_ context.Context, agentID string) (registry.Agent, error) {
	agent, ok := f.byID[agentID]
	if !ok {
		return registry.Agent{}, apperr.New(apperr.CodeNotFound, "agent not found")
	}
	return agent, nil
}

func (f *fakeAgents) Lookup(_ context.Context, token string) (registry.Agent, error) {
	agent, ok := f.byToken[token]
	if !ok {
		return registry.Agent{}, apperr.New(apperr.CodeUnknownToken, "unknown agent token")
	}
	return agent, nil
}

type nopReporter struct{}

func (nopReporter) ApplyResult(context.Context, rating.ResultEvent) error { return nil }

type queueFixture struct {
	queue    *Queue
	sessions *session.Manager
	store    storage.Store
	agents   *fakeAgents
	now      *time.Time
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()

	now := time.UnixMilli(5_000_000)
	clock := func() time.Time { return now }

	agents := &fakeAgents{
		byID: map[string]registry.Agent{
			"agent-a": {ID: "agent-a", Name: "Alpha"},
			"agent-b": {ID: "agent-b", Name: "Beta"},
			"agent-c": {ID: "agent-c", Name: "Gamma"},
			"agent-d": {ID: "agent-d", Name: "alpha"},
		},
		byToken: map[string]registry.Agent{
			"tok-a": {ID: "agent-a", Name: "Alpha"},
			"tok-b": {ID: "agent-b", Name: "Beta"},
		},
	}

	store := storage.NewMemory()
	mgr := session.NewManager(store, agents, nopReporter{}, zerolog.Nop(), session.WithClock(clock))
	t.Cleanup(mgr.Close)

	q := New(store, agents, mgr, zerolog.Nop(), WithClock(clock))
	t.Cleanup(q.Close)

	return &queueFixture{queue: q, sessions: mgr, store: store, agents: agents, now: &now}
}

func (f *queueFixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *queueFixture) agent(id string) registry.Agent {
	return f.agents.byID[id]
}

func TestFirstJoinerWaits(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)
	require.Empty(t, res.GameID)
}

func TestSecondJoinerIsMatched(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)

	res, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
	require.NotEmpty(t, res.GameID)

	// Both agents see the same game through status.
	aStatus, err := f.queue.Status(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, StatusMatched, aStatus.Status)
	require.Equal(t, res.GameID, aStatus.GameID)

	bStatus, err := f.queue.Status(ctx, "agent-b")
	require.NoError(t, err)
	require.Equal(t, res.GameID, bStatus.GameID)

	// The session really exists and is running.
	status, err := f.sessions.Status(ctx, res.GameID)
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, status)
}

func TestRejoinIsIdempotent(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.queue.Join(ctx, f.agent("agent-a"))
		require.NoError(t, err)
		require.Equal(t, StatusWaiting, res.Status)
	}

	// A single re-joined agent still matches exactly once.
	res, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
}

func TestJoinWithLiveGameReturnsIt(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	matched, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)

	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
	require.Equal(t, matched.GameID, res.GameID)
}

func TestFinishedGameFreesAgents(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	matched, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)

	s, err := f.sessions.Get(ctx, matched.GameID)
	require.NoError(t, err)
	_, err = s.Resign(ctx, "tok-a")
	require.NoError(t, err)

	// The dead mapping is cleared and the agent can queue again.
	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)
}

func TestSameNameStillPairsWhenAlone(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	// "alpha" and "Alpha" normalize to the same name. With nobody else
	// waiting, name avoidance is only a preference and the two still pair.
	_, err := f.queue.Join(ctx, f.agent("agent-d"))
	require.NoError(t, err)
	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
}

func TestNameAvoidanceSkipsEarlierSameName(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	// Join pairs eagerly, so two waiters never coexist through the public
	// API; seed the persisted queue state directly.
	base := f.now.UnixMilli()
	seeded := queueState{
		Waiting: []entry{
			{AgentID: "agent-d", Name: "alpha", EnqueuedAtMs: base},
			{AgentID: "agent-b", Name: "Beta", EnqueuedAtMs: base + 1000},
		},
		Active: map[string]string{},
	}
	require.NoError(t, f.store.Put(ctx, storage.KindQueue, queueID, seeded))

	// "Alpha" joins: the earlier waiter shares its normalized name, so the
	// later differently-named waiter is taken instead.
	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)

	bStatus, err := f.queue.Status(ctx, "agent-b")
	require.NoError(t, err)
	require.Equal(t, res.GameID, bStatus.GameID)

	dStatus, err := f.queue.Status(ctx, "agent-d")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, dStatus.Status)
}

func TestStatusIdleWhenNeverJoined(t *testing.T) {
	f := newQueueFixture(t)

	res, err := f.queue.Status(context.Background(), "agent-c")
	require.NoError(t, err)
	require.Equal(t, StatusIdle, res.Status)
}

func TestStaleEntriesPruned(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)

	f.advance(staleAfter + time.Second)

	res, err := f.queue.Status(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, StatusIdle, res.Status)

	// A new joiner finds an empty queue, not the stale entry.
	joined, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, joined.Status)
}

func TestUnresolvableWaiterDropped(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	ghost := registry.Agent{ID: "agent-gone", Name: "Ghost"}
	_, err := f.queue.Join(ctx, ghost)
	require.NoError(t, err)

	// The ghost cannot be resolved at pairing time, so the joiner waits.
	res, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)

	// And the ghost is gone from the queue entirely.
	ghostStatus, err := f.queue.Status(ctx, "agent-gone")
	require.NoError(t, err)
	require.Equal(t, StatusIdle, ghostStatus.Status)
}

func TestStartMatchConflictsOnBusyAgent(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	matched, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)
	require.Equal(t, StatusMatched, matched.Status)

	_, err = f.queue.StartMatch(ctx, f.agent("agent-a"), f.agent("agent-c"))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestStartMatchRecordsMapping(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	gameID, err := f.queue.StartMatch(ctx, f.agent("agent-a"), f.agent("agent-c"))
	require.NoError(t, err)
	require.NotEmpty(t, gameID)

	res, err := f.queue.Status(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
	require.Equal(t, gameID, res.GameID)

	cRes, err := f.queue.Status(ctx, "agent-c")
	require.NoError(t, err)
	require.Equal(t, gameID, cRes.GameID)
}

func TestStartMatchRemovesWaitingEntries(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)

	_, err = f.queue.StartMatch(ctx, f.agent("agent-a"), f.agent("agent-c"))
	require.NoError(t, err)

	// agent-a is matched now, not waiting; a new joiner finds an empty queue.
	res, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)
}

func TestListActiveNewestFirstAndPrunes(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)
	first, err := f.queue.Join(ctx, f.agent("agent-b"))
	require.NoError(t, err)

	second, err := f.queue.StartMatch(ctx, f.agent("agent-c"), f.agent("agent-d"))
	require.NoError(t, err)

	list, err := f.queue.ListActive(ctx, 20)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second, list[0].GameID)
	require.Equal(t, first.GameID, list[1].GameID)

	// Finish the first game; it drops out of the listing.
	s, err := f.sessions.Get(ctx, first.GameID)
	require.NoError(t, err)
	_, err = s.Resign(ctx, "tok-a")
	require.NoError(t, err)

	list, err = f.queue.ListActive(ctx, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, second, list[0].GameID)
}

func TestQueueStateSurvivesRestart(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.queue.Join(ctx, f.agent("agent-a"))
	require.NoError(t, err)

	// A fresh queue over the same store sees the waiting entry.
	q2 := New(f.store, f.agents, f.sessions, zerolog.Nop(), WithClock(func() time.Time { return *f.now }))
	defer q2.Close()

	res, err := q2.Status(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)
}
