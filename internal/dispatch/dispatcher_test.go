package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barquiz/triviahost/internal/session"
	"github.com/barquiz/triviahost/internal/transport"
)

// harness wires a Registry, Router, and Dispatcher together and gives each
// simulated connection its own inbox, mirroring how the server drives a
// real websocket connection's read pump into Dispatcher.Handle.
type harness struct {
	t        *testing.T
	registry *session.Registry
	router   *transport.Router
	dispatch *Dispatcher
}

func newHarness(t *testing.T) *harness {
	r := session.NewRegistry()
	router := transport.NewRouter()
	d := New(r, router, nil)
	return &harness{t: t, registry: r, router: router, dispatch: d}
}

func (h *harness) connect(connID string) {
	h.router.Register(transport.NewConn(connID, nil))
}

func (h *harness) send(connID, event string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	h.dispatch.Handle(connID, transport.Inbound{Event: event, Data: raw, Ack: "ack-" + event})
}

func recvOne(t *testing.T, c *transport.Conn) transport.Outbound {
	t.Helper()
	select {
	case msg := <-c.RawSend():
		return msg
	default:
		t.Fatal("expected a queued message")
	}
	return transport.Outbound{}
}

func decodeInto[T any](t *testing.T, data any) T {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestScenarioS1HappyPath(t *testing.T) {
	h := newHarness(t)

	hostConn := transport.NewConn("host-conn", nil)
	h.router.Register(hostConn)
	h.send("host-conn", EventHostCreateGame, map[string]any{"hostName": "Alex"})

	createMsg := recvOne(t, hostConn)
	create := decodeInto[createGameReply](t, createMsg.Data)
	require.True(t, create.Success)
	pin := create.Pin
	require.Len(t, pin, 4)

	teamAConn := transport.NewConn("team-a-conn", nil)
	h.router.Register(teamAConn)
	h.send("team-a-conn", EventTeamJoin, map[string]any{"pin": pin, "teamName": "Pandas"})
	joinAMsg := recvOne(t, teamAConn)
	joinA := decodeInto[teamJoinReply](t, joinAMsg.Data)
	require.True(t, joinA.Success)
	teamAID := joinA.TeamID

	// host observes team:joined
	hostJoinedA := recvOne(t, hostConn)
	assert.Equal(t, EventTeamJoined, hostJoinedA.Event)

	teamBConn := transport.NewConn("team-b-conn", nil)
	h.router.Register(teamBConn)
	h.send("team-b-conn", EventTeamJoin, map[string]any{"pin": pin, "teamName": "Wolves"})
	joinBMsg := recvOne(t, teamBConn)
	joinB := decodeInto[teamJoinReply](t, joinBMsg.Data)
	require.True(t, joinB.Success)
	teamBID := joinB.TeamID
	recvOne(t, hostConn) // team:joined for Wolves

	h.send("host-conn", EventHostAddQuestion, map[string]any{
		"pin": pin,
		"question": map[string]any{
			"text":          "2+2?",
			"options":       []string{"3", "4", "5", "6"},
			"correctAnswer": 1,
			"timeLimit":     30,
		},
	})
	addMsg := recvOne(t, hostConn)
	add := decodeInto[addQuestionReply](t, addMsg.Data)
	assert.Equal(t, 1, add.TotalQuestions)

	h.send("host-conn", EventHostStartGame, map[string]any{"pin": pin})

	startedA := recvOne(t, teamAConn)
	assert.Equal(t, EventGameStarted, startedA.Event)
	startedEventA := decodeInto[gameStartedEvent](t, startedA.Data)
	assert.Equal(t, 1, startedEventA.Question.QuestionNumber)
	assert.Equal(t, 1, startedEventA.Question.TotalQuestions)

	startedB := recvOne(t, teamBConn)
	assert.Equal(t, EventGameStarted, startedB.Event)

	recvOne(t, hostConn) // game:started (the host is in game-<pin> too)
	hostAck := recvOne(t, hostConn)
	assert.Equal(t, EventHostStartGame, hostAck.Event)

	// no correctAnswer leaks into the broadcast payload.
	raw, _ := json.Marshal(startedA.Data)
	assert.NotContains(t, string(raw), "correctAnswer")

	h.send("team-a-conn", EventTeamSubmitAnswer, map[string]any{"pin": pin, "teamId": teamAID, "answer": 1})
	submitAAck := recvOne(t, teamAConn)
	assert.True(t, decodeInto[submitAnswerReply](t, submitAAck.Data).Submitted)
	hostSubmitNotice := recvOne(t, hostConn)
	assert.Equal(t, EventAnswerSubmitted, hostSubmitNotice.Event)

	h.send("team-b-conn", EventTeamSubmitAnswer, map[string]any{"pin": pin, "teamId": teamBID, "answer": 2})
	recvOne(t, teamBConn)
	recvOne(t, hostConn)

	h.send("host-conn", EventHostRevealAnswer, map[string]any{"pin": pin})
	revealA := recvOne(t, teamAConn)
	revealB := recvOne(t, teamBConn)
	recvOne(t, hostConn) // answer:revealed broadcast
	revealHost := recvOne(t, hostConn)
	assert.Equal(t, EventAnswerRevealed, revealA.Event)
	assert.Equal(t, EventAnswerRevealed, revealB.Event)
	assert.Equal(t, EventHostRevealAnswer, revealHost.Event)

	revealPayload := decodeInto[revealAnswerReply](t, revealHost.Data)
	assert.Equal(t, 1, revealPayload.CorrectAnswer)
	require.Len(t, revealPayload.Leaderboard, 2)
	assert.Equal(t, "Pandas", revealPayload.Leaderboard[0].Name)
	assert.Equal(t, 145, revealPayload.Leaderboard[0].Score)
	assert.Equal(t, "Wolves", revealPayload.Leaderboard[1].Name)
	assert.Equal(t, 0, revealPayload.Leaderboard[1].Score)

	h.send("host-conn", EventHostNextQuestion, map[string]any{"pin": pin})
	endedA := recvOne(t, teamAConn)
	endedB := recvOne(t, teamBConn)
	recvOne(t, hostConn) // game:ended broadcast
	endedHost := recvOne(t, hostConn)
	assert.Equal(t, EventGameEnded, endedA.Event)
	assert.Equal(t, EventGameEnded, endedB.Event)
	assert.Equal(t, EventHostNextQuestion, endedHost.Event)
}

func TestScenarioS2UnknownPin(t *testing.T) {
	h := newHarness(t)
	c := transport.NewConn("c", nil)
	h.router.Register(c)

	h.send("c", EventTeamJoin, map[string]any{"pin": "0000", "teamName": "Ghosts"})

	msg := recvOne(t, c)
	reply := decodeInto[errorReply](t, msg.Data)
	assert.False(t, reply.Success)
	assert.Equal(t, "Game not found", reply.Error)
}

func TestScenarioS3JoinAfterStart(t *testing.T) {
	h := newHarness(t)
	hostConn := transport.NewConn("host", nil)
	h.router.Register(hostConn)
	h.send("host", EventHostCreateGame, map[string]any{"hostName": "Alex"})
	pin := decodeInto[createGameReply](t, recvOne(t, hostConn).Data).Pin

	h.send("host", EventHostAddQuestion, map[string]any{
		"pin": pin,
		"question": map[string]any{"text": "q", "options": []string{"a", "b"}, "correctAnswer": 0},
	})
	recvOne(t, hostConn)

	h.send("host", EventHostStartGame, map[string]any{"pin": pin})
	recvOne(t, hostConn)

	late := transport.NewConn("late", nil)
	h.router.Register(late)
	h.send("late", EventTeamJoin, map[string]any{"pin": pin, "teamName": "Latecomers"})

	reply := decodeInto[errorReply](t, recvOne(t, late).Data)
	assert.False(t, reply.Success)
	assert.Equal(t, "Game already started", reply.Error)
}

func TestScenarioS4DisconnectInLobbyEmptiesSession(t *testing.T) {
	h := newHarness(t)
	hostConn := transport.NewConn("host", nil)
	h.router.Register(hostConn)
	h.send("host", EventHostCreateGame, map[string]any{"hostName": "Alex"})
	pin := decodeInto[createGameReply](t, recvOne(t, hostConn).Data).Pin

	teamConn := transport.NewConn("team", nil)
	h.router.Register(teamConn)
	h.send("team", EventTeamJoin, map[string]any{"pin": pin, "teamName": "Pandas"})
	recvOne(t, teamConn)
	recvOne(t, hostConn) // team:joined

	h.dispatch.Disconnect("team")

	left := decodeInto[teamLeftEvent](t, recvOne(t, hostConn).Data)
	assert.Equal(t, 0, left.TotalTeams)

	_, err := h.registry.Lookup(pin)
	assert.ErrorIs(t, err, session.ErrGameNotFound)
}

func TestScenarioS5DoubleSubmit(t *testing.T) {
	h := newHarness(t)
	hostConn := transport.NewConn("host", nil)
	h.router.Register(hostConn)
	h.send("host", EventHostCreateGame, map[string]any{"hostName": "Alex"})
	pin := decodeInto[createGameReply](t, recvOne(t, hostConn).Data).Pin

	teamConn := transport.NewConn("team", nil)
	h.router.Register(teamConn)
	h.send("team", EventTeamJoin, map[string]any{"pin": pin, "teamName": "Pandas"})
	teamID := decodeInto[teamJoinReply](t, recvOne(t, teamConn).Data).TeamID
	recvOne(t, hostConn)

	h.send("host", EventHostAddQuestion, map[string]any{
		"pin": pin,
		"question": map[string]any{"text": "q", "options": []string{"a", "b"}, "correctAnswer": 1},
	})
	recvOne(t, hostConn)
	h.send("host", EventHostStartGame, map[string]any{"pin": pin})
	recvOne(t, teamConn)
	recvOne(t, hostConn)

	h.send("team", EventTeamSubmitAnswer, map[string]any{"pin": pin, "teamId": teamID, "answer": 0})
	recvOne(t, teamConn)
	recvOne(t, hostConn)

	h.send("team", EventTeamSubmitAnswer, map[string]any{"pin": pin, "teamId": teamID, "answer": 1})
	recvOne(t, teamConn)
	recvOne(t, hostConn)

	h.send("host", EventHostRevealAnswer, map[string]any{"pin": pin})
	recvOne(t, teamConn)
	hostReveal := decodeInto[revealAnswerReply](t, recvOne(t, hostConn).Data)
	require.Len(t, hostReveal.Leaderboard, 1)
	assert.Equal(t, 0, hostReveal.Leaderboard[0].Score)
}

// Precise elapsed-time-to-score scenarios (S6, boundary cases around the
// time limit) are exercised directly against the session package, which
// can inject a fake clock; see internal/session's scoring tests.

func TestQuestionTimeoutAutoReveals(t *testing.T) {
	h := newHarness(t)
	hostConn := transport.NewConn("host", nil)
	h.router.Register(hostConn)
	h.send("host", EventHostCreateGame, map[string]any{"hostName": "Alex"})
	pin := decodeInto[createGameReply](t, recvOne(t, hostConn).Data).Pin

	h.send("host", EventHostAddQuestion, map[string]any{
		"pin":      pin,
		"question": map[string]any{"text": "q", "options": []string{"a", "b"}, "correctAnswer": 1, "timeLimit": 1},
	})
	recvOne(t, hostConn)

	h.send("host", EventHostStartGame, map[string]any{"pin": pin})
	recvOne(t, hostConn) // ack for host:start-game

	require.Eventually(t, func() bool {
		return len(hostConn.RawSend()) > 0
	}, 3*time.Second, 20*time.Millisecond, "question timeout never fired")

	revealed := decodeInto[answerRevealedEvent](t, recvOne(t, hostConn).Data)
	assert.Equal(t, 1, revealed.CorrectAnswer)
}

func TestManualRevealCancelsPendingTimeout(t *testing.T) {
	h := newHarness(t)
	hostConn := transport.NewConn("host", nil)
	h.router.Register(hostConn)
	h.send("host", EventHostCreateGame, map[string]any{"hostName": "Alex"})
	pin := decodeInto[createGameReply](t, recvOne(t, hostConn).Data).Pin

	h.send("host", EventHostAddQuestion, map[string]any{
		"pin":      pin,
		"question": map[string]any{"text": "q", "options": []string{"a", "b"}, "correctAnswer": 0, "timeLimit": 1},
	})
	recvOne(t, hostConn)

	h.send("host", EventHostStartGame, map[string]any{"pin": pin})
	recvOne(t, hostConn) // game:started broadcast
	recvOne(t, hostConn) // ack for host:start-game

	h.send("host", EventHostRevealAnswer, map[string]any{"pin": pin})
	recvOne(t, hostConn) // answer:revealed broadcast
	recvOne(t, hostConn) // reveal ack

	// The timer that would have fired for this question was cancelled by the
	// manual reveal above; nothing further should arrive on the host's queue.
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 0, len(hostConn.RawSend()))
}
