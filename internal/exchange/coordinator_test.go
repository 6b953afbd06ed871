package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskchat/internal/dialogue"
	"taskchat/internal/logging"
	"taskchat/internal/ops"
	"taskchat/internal/resolver"
	"taskchat/internal/storage"
	"taskchat/internal/task"
)

// fakeResolver returns a scripted intent, or fails, or hangs until its
// context dies — whatever the test needs.
type fakeResolver struct {
	intent resolver.Intent
	err    error
	hang   bool

	gotHistory []dialogue.Message
	gotText    string
}

func (f *fakeResolver) Resolve(ctx context.Context, history []dialogue.Message, text string) (resolver.Intent, error) {
	f.gotHistory = history
	f.gotText = text
	if f.hang {
		<-ctx.Done()
		return resolver.Intent{}, ctx.Err()
	}
	if f.err != nil {
		return resolver.Intent{}, f.err
	}
	return f.intent, nil
}

type fixture struct {
	coord     *Coordinator
	tasks     *task.Store
	dialogues *dialogue.Store
	resolver  *fakeResolver
}

func newFixture(t *testing.T, r *fakeResolver) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tasks, err := task.NewStore(db)
	if err != nil {
		t.Fatalf("task.NewStore failed: %v", err)
	}
	dialogues, err := dialogue.NewStore(db)
	if err != nil {
		t.Fatalf("dialogue.NewStore failed: %v", err)
	}

	coord := New(dialogues, ops.NewRegistry(tasks), r, logging.NewNop(), 50, 100*time.Millisecond)
	return &fixture{coord: coord, tasks: tasks, dialogues: dialogues, resolver: r}
}

// --- Round trip ---

func TestExchange_RoundTrip(t *testing.T) {
	f := newFixture(t, &fakeResolver{
		intent: resolver.Intent{
			Reply: "Added buy milk to your list.",
			Calls: []resolver.Call{
				{Name: ops.OpAddTask, Args: map[string]any{"title": "buy milk"}},
			},
		},
	})

	resp, err := f.coord.Exchange(context.Background(), Request{
		Owner:   "u1",
		Message: "Add a task to buy milk",
	})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	if resp.SessionID == "" {
		t.Error("no session id returned")
	}
	if resp.Reply != "Added buy milk to your list." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.OperationsAttempted) != 1 || resp.OperationsAttempted[0] != ops.OpAddTask {
		t.Errorf("operations_attempted = %v", resp.OperationsAttempted)
	}

	// The task landed for the owner.
	got, err := f.tasks.List("u1", task.Filter{}, task.Sort{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "buy milk" || got[0].Done {
		t.Errorf("tasks = %+v", got)
	}

	// Exactly one user and one assistant turn were recorded.
	assertTurns(t, f, resp.SessionID, "u1", 2)
}

func assertTurns(t *testing.T, f *fixture, sessionID, owner string, want int) {
	t.Helper()
	history, err := f.dialogues.History(sessionID, owner, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != want {
		t.Fatalf("history length = %d, want %d", len(history), want)
	}
	if want >= 2 {
		if history[len(history)-2].Role != dialogue.RoleUser {
			t.Error("penultimate turn is not the user's")
		}
		if history[len(history)-1].Role != dialogue.RoleAssistant {
			t.Error("last turn is not the assistant's")
		}
	}
}

// --- Session handling ---

func TestExchange_ContinuesExistingSession(t *testing.T) {
	f := newFixture(t, &fakeResolver{intent: resolver.Intent{Reply: "hi"}})

	first, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "hello"})
	if err != nil {
		t.Fatalf("first Exchange failed: %v", err)
	}

	second, err := f.coord.Exchange(context.Background(), Request{
		Owner:     "u1",
		SessionID: first.SessionID,
		Message:   "and again",
	})
	if err != nil {
		t.Fatalf("second Exchange failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Error("existing session not reused")
	}

	// The second exchange saw the first one's turns as context.
	if len(f.resolver.gotHistory) != 2 {
		t.Errorf("resolver saw %d history messages, want 2", len(f.resolver.gotHistory))
	}
	if f.resolver.gotText != "and again" {
		t.Errorf("resolver text = %q", f.resolver.gotText)
	}
}

func TestExchange_UnknownSessionIsClientError(t *testing.T) {
	f := newFixture(t, &fakeResolver{intent: resolver.Intent{Reply: "hi"}})

	_, err := f.coord.Exchange(context.Background(), Request{
		Owner:     "u1",
		SessionID: "no-such-session",
		Message:   "hello",
	})
	if !errors.Is(err, dialogue.ErrNotFound) {
		t.Errorf("Exchange = %v, want dialogue.ErrNotFound", err)
	}
}

// --- Resolver failure resilience ---

func TestExchange_ResolverErrorFallsBack(t *testing.T) {
	f := newFixture(t, &fakeResolver{err: errors.New("model exploded")})

	resp, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "hello"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if resp.Reply != FallbackReply {
		t.Errorf("reply = %q, want fallback", resp.Reply)
	}
	if len(resp.OperationsAttempted) != 0 {
		t.Errorf("operations attempted after resolver failure: %v", resp.OperationsAttempted)
	}

	// The exchange was still recorded: one user turn, one assistant turn.
	assertTurns(t, f, resp.SessionID, "u1", 2)
}

func TestExchange_ResolverTimeoutFallsBack(t *testing.T) {
	f := newFixture(t, &fakeResolver{hang: true})

	start := time.Now()
	resp, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "hello"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("exchange blocked for %s", elapsed)
	}
	if resp.Reply != FallbackReply {
		t.Errorf("reply = %q, want fallback", resp.Reply)
	}
	assertTurns(t, f, resp.SessionID, "u1", 2)
}

// --- Operation failure folding ---

func TestExchange_OperationFailureDoesNotHaltOthers(t *testing.T) {
	f := newFixture(t, &fakeResolver{
		intent: resolver.Intent{
			Reply: "On it.",
			Calls: []resolver.Call{
				{Name: ops.OpCompleteTask, Args: map[string]any{"task_id": 404}}, // stale id
				{Name: ops.OpAddTask, Args: map[string]any{"title": "still runs"}},
			},
		},
	})

	resp, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "do two things"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	// Both were attempted, in order.
	if len(resp.OperationsAttempted) != 2 {
		t.Fatalf("operations_attempted = %v", resp.OperationsAttempted)
	}
	if resp.OperationsAttempted[0] != ops.OpCompleteTask || resp.OperationsAttempted[1] != ops.OpAddTask {
		t.Errorf("operations out of order: %v", resp.OperationsAttempted)
	}

	// The second operation ran despite the first failing.
	got, err := f.tasks.List("u1", task.Filter{}, task.Sort{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "still runs" {
		t.Errorf("tasks = %+v", got)
	}

	// The failure is folded into the reply, conversationally.
	if !strings.Contains(resp.Reply, "On it.") {
		t.Errorf("reply lost resolver text: %q", resp.Reply)
	}
	if !strings.Contains(resp.Reply, "not found") {
		t.Errorf("reply does not mention the failure: %q", resp.Reply)
	}
}

func TestExchange_EmptyReplyGetsConfirmation(t *testing.T) {
	f := newFixture(t, &fakeResolver{
		intent: resolver.Intent{
			Calls: []resolver.Call{{Name: ops.OpAddTask, Args: map[string]any{"title": "quiet add"}}},
		},
	})

	resp, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "add quietly"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if resp.Reply == "" {
		t.Error("empty reply surfaced to the user")
	}
}

// --- Metadata ---

func TestExchange_AssistantTurnCarriesOperationNames(t *testing.T) {
	f := newFixture(t, &fakeResolver{
		intent: resolver.Intent{
			Reply: "Listed.",
			Calls: []resolver.Call{{Name: ops.OpListTasks, Args: map[string]any{}}},
		},
	})

	resp, err := f.coord.Exchange(context.Background(), Request{Owner: "u1", Message: "what's on my list?"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	history, err := f.dialogues.History(resp.SessionID, "u1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	last := history[len(history)-1]
	if len(last.Operations) != 1 || last.Operations[0] != ops.OpListTasks {
		t.Errorf("assistant turn operations = %v", last.Operations)
	}
}
