package coordinator

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/kandev/converse/internal/agentfamily"
	"github.com/kandev/converse/internal/agentmanager"
	"github.com/kandev/converse/internal/collector"
	"github.com/kandev/converse/internal/common/logger"
	ctxmgr "github.com/kandev/converse/internal/context"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/execenv"
	"github.com/kandev/converse/internal/model"
	"github.com/kandev/converse/internal/routing"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

// scriptedProcess replays one canned stdout transcript and exits cleanly.
type scriptedProcess struct {
	stdout   *bytes.Buffer
	stdinBuf bytes.Buffer
	waitCh   chan struct{}
}

func newScriptedProcess(output string) *scriptedProcess {
	p := &scriptedProcess{stdout: bytes.NewBufferString(output), waitCh: make(chan struct{})}
	close(p.waitCh)
	return p
}

func (p *scriptedProcess) Stdin() io.Writer  { return &p.stdinBuf }
func (p *scriptedProcess) Stdout() io.Reader { return p.stdout }
func (p *scriptedProcess) Stderr() io.Reader { return bytes.NewReader(nil) }
func (p *scriptedProcess) Wait() (int, error) {
	<-p.waitCh
	return 0, nil
}
func (p *scriptedProcess) Stop(ctx context.Context, grace time.Duration) error { return nil }
func (p *scriptedProcess) Alive() bool {
	select {
	case <-p.waitCh:
		return false
	default:
		return true
	}
}

// scriptedEnv hands back a canned Claude-style transcript from its "_next"
// slot on every Start, whichever member is being dispatched.
type scriptedEnv struct {
	results map[string]string
}

// Start returns the next scripted transcript. Tests only ever have one
// member dispatched at a time, so a single "_next" slot set right before
// SendMessage is enough to script a whole conversation deterministically.
func (e *scriptedEnv) Start(ctx context.Context, spec execenv.Spec) (execenv.Process, error) {
	return newScriptedProcess(e.results["_next"]), nil
}

func resultLine(text string) string {
	return `{"type":"result","result":"` + text + `","is_error":false}` + "\n"
}

func newHarness(t *testing.T, team *model.Team) (*Coordinator, *scriptedEnv) {
	log := newTestLogger(t)
	env := &scriptedEnv{results: map[string]string{}}
	factory := agentfamily.NewFactory()
	b := bus.NewMemoryEventBus(log)
	coll := collector.New()
	agents := agentmanager.New(env, factory, b, coll, nil, log)
	queue := routing.New(routing.Config{MaxQueueSize: 200, MaxBranchSize: 20, MaxLocalSeq: 3}, log)
	cm := ctxmgr.NewManager(5, 4000)

	coord := New(queue, cm, agents, b, nil, time.Minute, log)
	if err := coord.SetTeam(context.Background(), team, ""); err != nil {
		t.Fatalf("SetTeam failed: %v", err)
	}
	for _, m := range team.Members {
		if m.Role == model.RoleAI {
			_ = agents.EnsureStarted(m)
		}
	}
	return coord, env
}

func twoMemberTeam() *model.Team {
	return &model.Team{
		ID:   "t1",
		Name: "team",
		Members: []*model.Member{
			{ID: "alice", Name: "alice", DisplayName: "Alice", Role: model.RoleHuman, Order: 0},
			{ID: "bob", Name: "bob", DisplayName: "Bob", Role: model.RoleAI, Order: 1, AgentType: "claude"},
		},
	}
}

// TestSingleHumanAutoSelectRoutesAndFallsBackToHuman is scenario S1: a
// human message addressed to bob is dispatched, bob's reply has no [NEXT],
// so routing falls back to the sole human and the conversation pauses
// waiting on them.
func TestSingleHumanAutoSelectRoutesAndFallsBackToHuman(t *testing.T) {
	coord, env := newHarness(t, twoMemberTeam())
	env.results["_next"] = resultLine("Hi")

	msg, err := coord.SendMessage(context.Background(), "Hello [NEXT:bob]", "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.SenderMemberID != "alice" {
		t.Fatalf("expected alice as sender, got %q", msg.SenderMemberID)
	}
	if msg.Text != "Hello" {
		t.Fatalf("expected NEXT marker stripped from stored history text, got %q", msg.Text)
	}

	if got := coord.GetStatus(); got != StatusPaused {
		t.Fatalf("expected paused status after bob's reply falls back to human, got %q", got)
	}
	if got := coord.GetWaitingForMemberID(); got != "alice" {
		t.Fatalf("expected waiting on alice, got %q", got)
	}

	session := coord.GetSession()
	if len(session.History) != 2 {
		t.Fatalf("expected 2 history messages (human + bob reply), got %d", len(session.History))
	}
	if session.History[1].Text != "Hi" {
		t.Fatalf("expected bob's reply text 'Hi', got %q", session.History[1].Text)
	}
}

// TestInvalidTeamTaskIsRejectedAndPreserved is scenario S4.
func TestInvalidTeamTaskIsRejectedAndPreserved(t *testing.T) {
	coord, _ := newHarness(t, twoMemberTeam())

	_, err := coord.SendMessage(context.Background(), "TEAM_TASK review the PRD [NEXT:bob]", "")
	if err != ErrNotProcessed {
		t.Fatalf("expected ErrNotProcessed, got %v", err)
	}
	if len(coord.GetSession().History) != 0 {
		t.Fatal("expected history to remain empty after a rejected message")
	}
}

// TestUnresolvedAddresseePausesOnSender is scenario S6 (single-human case:
// the sender themselves is who we wait on again).
func TestUnresolvedAddresseePausesOnSender(t *testing.T) {
	coord, _ := newHarness(t, twoMemberTeam())

	var unresolvedNames []string
	coord.SetHooks(Hooks{OnUnresolvedAddressees: func(names []string, msg *model.ConversationMessage) {
		unresolvedNames = names
	}})

	_, err := coord.SendMessage(context.Background(), "[NEXT:ghost] hi", "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(unresolvedNames) != 1 || unresolvedNames[0] != "ghost" {
		t.Fatalf("expected onUnresolvedAddressees([ghost]), got %v", unresolvedNames)
	}
	if got := coord.GetStatus(); got != StatusPaused {
		t.Fatalf("expected paused status, got %q", got)
	}
	if got := coord.GetWaitingForMemberID(); got != "alice" {
		t.Fatalf("expected waiting on the sending human alice, got %q", got)
	}
}

// TestFirstMessageMustComeFromHuman enforces the first-message rule.
func TestFirstMessageMustComeFromHuman(t *testing.T) {
	coord, _ := newHarness(t, twoMemberTeam())

	_, err := coord.SendMessage(context.Background(), "hello", "bob")
	if err == nil {
		t.Fatal("expected an error forcing the first message to come from a human")
	}
}

// TestStopRejectsFurtherMessages checks that stop() is terminal.
func TestStopRejectsFurtherMessages(t *testing.T) {
	coord, _ := newHarness(t, twoMemberTeam())
	coord.Stop(context.Background())

	if _, err := coord.SendMessage(context.Background(), "hello", "alice"); err != ErrStopped {
		t.Fatalf("expected ErrStopped after stop(), got %v", err)
	}
}
