package dispatch

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/barquiz/triviahost/internal/session"
	"github.com/barquiz/triviahost/internal/transport"
)

// Room naming conventions; the router itself does not interpret
// these, only the dispatcher does.
func gameRoom(pin string) string { return "game-" + pin }
func hostRoom(pin string) string { return "host-" + pin }

// Logf matches the logf(cfg, format, args...) signature used elsewhere in
// this repository, injected so the dispatcher stays decoupled from *Config.
type Logf func(format string, args ...any)

// Dispatcher wires the Registry and Router together: for every inbound
// event it (a) parses and validates the payload, (b) looks up the Session,
// (c) calls the Session operation under its own lock, (d) emits broadcasts,
// then (e) replies to the originator, always in that order.
type Dispatcher struct {
	registry *session.Registry
	router   *transport.Router
	logf     Logf

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

func New(registry *session.Registry, router *transport.Router, logf Logf) *Dispatcher {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Dispatcher{registry: registry, router: router, logf: logf, timers: make(map[string]*time.Timer)}
}

// armTimeout schedules an automatic reveal-answer for pin, seconds from now,
// tagged with token so a stale firing can be told apart from a current one.
// Any timer already armed for pin is replaced. A zero or negative seconds
// value never fires.
func (d *Dispatcher) armTimeout(pin string, token int, seconds int) {
	if seconds <= 0 {
		return
	}

	d.timersMu.Lock()
	defer d.timersMu.Unlock()

	if existing, ok := d.timers[pin]; ok {
		existing.Stop()
	}
	d.timers[pin] = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		d.onQuestionTimeout(pin, token)
	})
}

// cancelTimeout tears down any timer armed for pin. Called whenever a
// manual reveal-answer or next-question supersedes the question the timer
// was scheduled against.
func (d *Dispatcher) cancelTimeout(pin string) {
	d.timersMu.Lock()
	defer d.timersMu.Unlock()

	if existing, ok := d.timers[pin]; ok {
		existing.Stop()
		delete(d.timers, pin)
	}
}

// onQuestionTimeout fires on the timer goroutine. token pins it to the
// question that was current when the timer was armed, so a timer that
// outlived a next-question on the same pin is a silent no-op. One that
// outlived a manual reveal-answer of the same question re-reveals it and
// broadcasts answer:revealed again with the same values.
func (d *Dispatcher) onQuestionTimeout(pin string, token int) {
	s, err := d.registry.Lookup(pin)
	if err != nil {
		return
	}

	result, err := s.TimeoutReveal(token)
	if err != nil {
		return
	}

	d.logf("GAME: %s question timed out, auto-revealing", pin)
	d.router.Broadcast(gameRoom(pin), EventAnswerRevealed, answerRevealedEvent{
		CorrectAnswer: result.CorrectAnswer,
		Leaderboard:   result.Leaderboard,
	})
}

// Handle processes one inbound message from connID. A handler panic is
// recovered here and reported as BadRequest so one malformed or buggy event
// can never corrupt a session's state or take down the process.
func (d *Dispatcher) Handle(connID string, msg transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.logf("DISPATCH: recovered panic handling %s from %s: %v", msg.Event, connID, r)
			d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		}
	}()

	switch msg.Event {
	case EventHostCreateGame:
		d.handleCreateGame(connID, msg)
	case EventTeamJoin:
		d.handleTeamJoin(connID, msg)
	case EventHostAddQuestion:
		d.handleAddQuestion(connID, msg)
	case EventHostStartGame:
		d.handleStartGame(connID, msg)
	case EventHostNextQuestion:
		d.handleNextQuestion(connID, msg)
	case EventTeamSubmitAnswer:
		d.handleSubmitAnswer(connID, msg)
	case EventHostRevealAnswer:
		d.handleRevealAnswer(connID, msg)
	case EventGameGetLeaderboard:
		d.handleGetLeaderboard(connID, msg)
	default:
		d.logf("DISPATCH: unknown event %q from %s", msg.Event, connID)
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
	}
}

func decode[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, session.ErrBadRequest
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, session.ErrBadRequest
	}
	return v, nil
}

func (d *Dispatcher) handleCreateGame(connID string, msg transport.Inbound) {
	payload, err := decode[createGamePayload](msg.Data)
	if err != nil || payload.HostName == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, hostID, err := d.registry.Create(payload.HostName)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.router.Join(connID, gameRoom(s.PIN()))
	d.router.Join(connID, hostRoom(s.PIN()))

	d.logf("GAME: created %s for host %q", s.PIN(), payload.HostName)

	d.router.EmitTo(connID, msg.Event, createGameReply{
		Success: true,
		GameID:  s.ID(),
		Pin:     s.PIN(),
		HostID:  hostID,
	}, msg.Ack)
}

func (d *Dispatcher) handleTeamJoin(connID string, msg transport.Inbound) {
	payload, err := decode[teamJoinPayload](msg.Data)
	if err != nil || payload.Pin == "" || payload.TeamName == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	teamID, err := s.AddTeam(payload.TeamName, connID)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.router.Join(connID, gameRoom(payload.Pin))
	d.router.Broadcast(hostRoom(payload.Pin), EventTeamJoined, teamJoinedEvent{
		TeamID:   teamID,
		TeamName: payload.TeamName,
	})

	d.router.EmitTo(connID, msg.Event, teamJoinReply{
		Success:   true,
		TeamID:    teamID,
		TeamName:  payload.TeamName,
		GameState: s.State(),
	}, msg.Ack)
}

func (d *Dispatcher) handleAddQuestion(connID string, msg transport.Inbound) {
	payload, err := decode[addQuestionPayload](msg.Data)
	if err != nil || payload.Pin == "" || len(payload.Question.Options) < 2 {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	q := session.Question{
		Text:          payload.Question.Text,
		Options:       payload.Question.Options,
		CorrectAnswer: payload.Question.CorrectAnswer,
		TimeLimit:     payload.Question.TimeLimit,
		Category:      payload.Question.Category,
	}
	total := s.AddQuestion(q)

	d.router.EmitTo(connID, msg.Event, addQuestionReply{Success: true, TotalQuestions: total}, msg.Ack)
}

func (d *Dispatcher) handleStartGame(connID string, msg transport.Inbound) {
	payload, err := decode[pinOnlyPayload](msg.Data)
	if err != nil || payload.Pin == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	view, err := s.StartGame()
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(mapStartError(err)), msg.Ack)
		return
	}

	d.armTimeout(payload.Pin, s.ActivationToken(), view.TimeLimit)
	d.router.Broadcast(gameRoom(payload.Pin), EventGameStarted, gameStartedEvent{Question: view})
	d.router.EmitTo(connID, msg.Event, okReply{Success: true}, msg.Ack)
}

// mapStartError narrows session.ErrWrongState to a more specific
// GameAlreadyStarted when it occurs on start-game, since the session layer
// only knows it isn't in lobby, not which caller-facing label applies.
func mapStartError(err error) error {
	if errors.Is(err, session.ErrWrongState) {
		return session.ErrGameAlreadyStarted
	}
	return err
}

func (d *Dispatcher) handleNextQuestion(connID string, msg transport.Inbound) {
	payload, err := decode[pinOnlyPayload](msg.Data)
	if err != nil || payload.Pin == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.cancelTimeout(payload.Pin)

	result, err := s.NextQuestion()
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	if result.Ended {
		d.router.Broadcast(gameRoom(payload.Pin), EventGameEnded, gameEndedEvent{
			FinalLeaderboard: result.Leaderboard,
			TotalQuestions:   s.QuestionCount(),
		})
		d.router.EmitTo(connID, msg.Event, nextQuestionReply{Success: true, Ended: true}, msg.Ack)
		return
	}

	d.armTimeout(payload.Pin, s.ActivationToken(), result.Question.TimeLimit)
	d.router.Broadcast(gameRoom(payload.Pin), EventQuestionNew, questionNewEvent{Question: result.Question})
	d.router.EmitTo(connID, msg.Event, nextQuestionReply{Success: true, Question: &result.Question}, msg.Ack)
}

func (d *Dispatcher) handleSubmitAnswer(connID string, msg transport.Inbound) {
	payload, err := decode[submitAnswerPayload](msg.Data)
	if err != nil || payload.Pin == "" || payload.TeamID == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	_, err = s.SubmitAnswer(payload.TeamID, payload.Answer)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.router.Broadcast(hostRoom(payload.Pin), EventAnswerSubmitted, answerSubmittedEvent{
		TeamID:   payload.TeamID,
		Answered: true,
	})
	d.router.EmitTo(connID, msg.Event, submitAnswerReply{Success: true, Submitted: true}, msg.Ack)
}

func (d *Dispatcher) handleRevealAnswer(connID string, msg transport.Inbound) {
	payload, err := decode[pinOnlyPayload](msg.Data)
	if err != nil || payload.Pin == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.cancelTimeout(payload.Pin)

	result, err := s.RevealAnswer()
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.router.Broadcast(gameRoom(payload.Pin), EventAnswerRevealed, answerRevealedEvent{
		CorrectAnswer: result.CorrectAnswer,
		Leaderboard:   result.Leaderboard,
	})
	d.router.EmitTo(connID, msg.Event, revealAnswerReply{
		Success:       true,
		CorrectAnswer: result.CorrectAnswer,
		Leaderboard:   result.Leaderboard,
	}, msg.Ack)
}

func (d *Dispatcher) handleGetLeaderboard(connID string, msg transport.Inbound) {
	payload, err := decode[pinOnlyPayload](msg.Data)
	if err != nil || payload.Pin == "" {
		d.router.EmitTo(connID, msg.Event, errReply(session.ErrBadRequest), msg.Ack)
		return
	}

	s, err := d.registry.Lookup(payload.Pin)
	if err != nil {
		d.router.EmitTo(connID, msg.Event, errReply(err), msg.Ack)
		return
	}

	d.router.EmitTo(connID, msg.Event, leaderboardReply{Success: true, Leaderboard: s.Leaderboard()}, msg.Ack)
}

// Disconnect runs the per-connection disconnect sweep: every live session
// is scanned for a team owned by connID; matches are removed, `team:left`
// is broadcast to the host for any removal that happens in a still-lobby
// session, and a session left empty in lobby is evicted from the registry
// immediately.
func (d *Dispatcher) Disconnect(connID string) {
	for _, s := range d.registry.Snapshot() {
		result, ok := s.DisconnectTeam(connID)
		if !ok {
			continue
		}

		if result.WasLobby {
			d.router.Broadcast(hostRoom(s.PIN()), EventTeamLeft, teamLeftEvent{
				TeamID:     result.TeamID,
				TeamName:   result.TeamName,
				TotalTeams: result.TotalTeams,
			})
		}

		if result.EmptiedLobby {
			d.registry.Remove(s.PIN())
			d.cancelTimeout(s.PIN())
			d.logf("GAME: %s evicted, emptied while in lobby", s.PIN())
		}
	}

	d.router.Unregister(connID)
}
