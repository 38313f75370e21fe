// Package session implements the game state machine: membership, question
// cursor, scoring, and the lobby -> question -> answer-reveal -> ended
// transitions. Every exported operation serializes on the Session's own
// lock; callers drop the lock before doing any socket I/O.
package session

import (
	"sort"
	"sync"
	"time"
)

// teamOrder preserves join order so that leaderboard() ties are resolved by
// insertion order (a stable sort).
type teamOrder struct {
	ids []string
}

func (o *teamOrder) add(id string) {
	o.ids = append(o.ids, id)
}

func (o *teamOrder) remove(id string) {
	for i, existing := range o.ids {
		if existing == id {
			o.ids = append(o.ids[:i], o.ids[i+1:]...)
			return
		}
	}
}

// Session is one trivia game: its host, its teams, its question list, its
// cursor, and its state. Session exclusively owns its Teams and Questions;
// connection identifiers are weak references, not lifetime extenders.
type Session struct {
	mu sync.Mutex

	id       string
	pin      string
	hostName string
	hostID   string

	questions []Question
	cursor    int
	state     State

	teams       map[string]*Team
	teamOrder   teamOrder
	activeSince time.Time

	// activationToken changes every time a new question becomes current
	// (StartGame, NextQuestion). A caller that schedules a timeout against
	// the question current at token T can tell, by comparing against the
	// current token, whether a later question has since become current. A
	// reveal-answer does not change it.
	activationToken int

	// now lets tests fake elapsed-time computation without sleeping.
	// Production callers leave it nil, in which case time.Now is used.
	now func() time.Time

	nextID func() string
}

// New constructs a Session in the lobby state. idFn generates opaque
// identifiers for teams; it is injected so the registry can share one
// generator (gofrs/uuid in production) across every session.
func New(id, pin, hostName, hostID string, idFn func() string) *Session {
	return &Session{
		id:       id,
		pin:      pin,
		hostName: hostName,
		hostID:   hostID,
		cursor:   -1,
		state:    Lobby,
		teams:    make(map[string]*Team),
		nextID:   idFn,
	}
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// ID is the session's stable opaque identifier.
func (s *Session) ID() string { return s.id }

// PIN is the 4-digit public handle.
func (s *Session) PIN() string { return s.pin }

// HostID is the connection-independent identifier of the host.
func (s *Session) HostID() string { return s.hostID }

// HostName is the display name the host supplied at creation.
func (s *Session) HostName() string { return s.hostName }

// State snapshots the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TeamCount and QuestionCount back the REST introspection endpoint.
func (s *Session) TeamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.teams)
}

func (s *Session) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

// AddTeam is allowed only in lobby; team name uniqueness is not enforced.
func (s *Session) AddTeam(name, connID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Lobby {
		return "", ErrGameAlreadyStarted
	}

	id := s.nextID()
	s.teams[id] = &Team{ID: id, Name: name, ConnID: connID}
	s.teamOrder.add(id)

	return id, nil
}

// RemoveTeam is idempotent: a no-op if the team is already absent.
// It reports whether the session is now an empty lobby, so a caller can
// decide whether to evict it from the registry (the dispatcher's disconnect
// sweep gets the same answer from DisconnectTeam).
func (s *Session) RemoveTeam(teamID string) (emptiedLobby bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[teamID]; !ok {
		return false
	}

	delete(s.teams, teamID)
	s.teamOrder.remove(teamID)

	return s.state == Lobby && len(s.teams) == 0
}

// TeamByConn finds the team currently owned by a connection. The
// dispatcher's disconnect sweep does not use it; it calls DisconnectTeam.
func (s *Session) TeamByConn(connID string) (teamID, teamName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.teamOrder.ids {
		t := s.teams[id]
		if t.ConnID == connID {
			return t.ID, t.Name, true
		}
	}
	return "", "", false
}

// DisconnectResult is the outcome of DisconnectTeam: everything the caller
// needs to decide what, if anything, to broadcast.
type DisconnectResult struct {
	TeamID       string
	TeamName     string
	WasLobby     bool
	EmptiedLobby bool
	TotalTeams   int
}

// DisconnectTeam finds the team owned by connID, if any, and removes it —
// looking up, checking lobby state, removing, and counting what remains all
// under one lock acquisition. A separate TeamByConn-then-RemoveTeam sequence
// can observe a state change (e.g. a concurrent start-game) between the two
// calls; this method can't, so WasLobby always reflects the state the
// removal itself happened under.
func (s *Session) DisconnectTeam(connID string) (DisconnectResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var teamID, teamName string
	found := false
	for _, id := range s.teamOrder.ids {
		t := s.teams[id]
		if t.ConnID == connID {
			teamID, teamName = t.ID, t.Name
			found = true
			break
		}
	}
	if !found {
		return DisconnectResult{}, false
	}

	wasLobby := s.state == Lobby

	delete(s.teams, teamID)
	s.teamOrder.remove(teamID)

	return DisconnectResult{
		TeamID:       teamID,
		TeamName:     teamName,
		WasLobby:     wasLobby,
		EmptiedLobby: wasLobby && len(s.teams) == 0,
		TotalTeams:   len(s.teams),
	}, true
}

// AddQuestion appends a question. Allowed in any state: mid-game additions
// have undefined effect on totalQuestions already broadcast, and that is
// accepted as-is.
func (s *Session) AddQuestion(q Question) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.TimeLimit <= 0 {
		q.TimeLimit = DefaultTimeLimit
	}
	if q.ID == "" {
		q.ID = s.nextID()
	}
	s.questions = append(s.questions, q)

	return len(s.questions)
}

// StartGame transitions lobby → question, provided at least one question
// has been added.
func (s *Session) StartGame() (QuestionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Lobby {
		return QuestionView{}, ErrWrongState
	}
	if len(s.questions) == 0 {
		return QuestionView{}, ErrNoQuestions
	}

	s.cursor = 0
	s.state = QuestionUp
	s.activeSince = s.clock()
	s.activationToken++

	return s.questions[0].view(1, len(s.questions)), nil
}

// ActivationToken identifies the question currently active. It changes
// every time a new question becomes current, so a timeout scheduled
// against the question active at a given token can detect, by comparing
// against the current value, that it has been superseded.
func (s *Session) ActivationToken() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activationToken
}

// NextQuestionResult is returned by NextQuestion: exactly one of Question or
// Ended is populated.
type NextQuestionResult struct {
	Question    QuestionView
	Ended       bool
	Leaderboard []LeaderboardEntry
}

// NextQuestion advances the cursor. It does not require that RevealAnswer
// was called first — advancing directly from `question` is permitted and
// simply skips the reveal.
func (s *Session) NextQuestion() (NextQuestionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != QuestionUp && s.state != AnswerReveal {
		return NextQuestionResult{}, ErrWrongState
	}

	s.cursor++
	if s.cursor >= len(s.questions) {
		return NextQuestionResult{Ended: true, Leaderboard: s.endGameLocked()}, nil
	}

	s.state = QuestionUp
	s.activeSince = s.clock()
	s.activationToken++

	return NextQuestionResult{Question: s.questions[s.cursor].view(s.cursor+1, len(s.questions))}, nil
}

// SubmitResult is the outcome of a single submitAnswer call.
type SubmitResult struct {
	Correct bool
	Points  int
}

// SubmitAnswer implements first-submission-wins: a second submission from
// the same team for the same question returns the prior recorded result
// and does not mutate score.
func (s *Session) SubmitAnswer(teamID string, optionIndex int) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != QuestionUp {
		return SubmitResult{}, ErrGameNotAcceptingAnswers
	}

	team, ok := s.teams[teamID]
	if !ok {
		return SubmitResult{}, ErrUnknownTeam
	}

	if s.cursor < 0 || s.cursor >= len(s.questions) {
		return SubmitResult{}, ErrUnknownQuestion
	}
	q := s.questions[s.cursor]

	if prior, ok := findAnswer(team.Answers, q.ID); ok {
		return SubmitResult{Correct: prior.Correct, Points: prior.Points}, nil
	}

	elapsed := s.clock().Sub(s.activeSince)
	correct := optionIndex == q.CorrectAnswer
	points := scorePoints(correct, elapsed, q.TimeLimit)

	team.Answers = append(team.Answers, Answer{
		QuestionID:  q.ID,
		OptionIndex: optionIndex,
		Correct:     correct,
		Points:      points,
		ElapsedMs:   elapsed.Milliseconds(),
	})
	team.Score += points

	return SubmitResult{Correct: correct, Points: points}, nil
}

func findAnswer(answers []Answer, questionID string) (Answer, bool) {
	for _, a := range answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}

// scorePoints implements the time-bonus arithmetic: 100 base
// points for a correct answer, plus a bonus that decays linearly from 50 at
// t=0 to 0 at t=L·1000ms. Submissions at or past the limit still score 100
// (no penalty), matching standard trivia-night scoring.
func scorePoints(correct bool, elapsed time.Duration, timeLimitSeconds int) int {
	if !correct {
		return 0
	}

	limitMs := float64(timeLimitSeconds) * 1000
	ratio := 1 - float64(elapsed.Milliseconds())/limitMs
	bonus := int(ratio * 50)
	if bonus < 0 {
		bonus = 0
	}

	return 100 + bonus
}

// RevealResult is the outcome of RevealAnswer.
type RevealResult struct {
	CorrectAnswer int
	Leaderboard   []LeaderboardEntry
}

// RevealAnswer transitions question → answer-reveal. Re-entry while already
// in answer-reveal is idempotent and returns the same values.
func (s *Session) RevealAnswer() (RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revealAnswerLocked()
}

// TimeoutReveal is RevealAnswer's counterpart for an automatic, timer-driven
// reveal: it only applies if token still matches ActivationToken as of this
// call, so a timer that outlives a next-question is a no-op (ErrWrongState)
// instead of revealing a question it was not armed for. After a manual
// reveal of the same question the token still matches, and the call is an
// idempotent re-reveal returning the same values.
func (s *Session) TimeoutReveal(token int) (RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.activationToken {
		return RevealResult{}, ErrWrongState
	}
	return s.revealAnswerLocked()
}

func (s *Session) revealAnswerLocked() (RevealResult, error) {
	if s.state != QuestionUp && s.state != AnswerReveal {
		return RevealResult{}, ErrWrongState
	}
	if s.cursor < 0 || s.cursor >= len(s.questions) {
		return RevealResult{}, ErrUnknownQuestion
	}

	s.state = AnswerReveal

	return RevealResult{
		CorrectAnswer: s.questions[s.cursor].CorrectAnswer,
		Leaderboard:   s.leaderboardLocked(),
	}, nil
}

// Leaderboard is a pure function of current team scores: a snapshot sorted
// by score descending, ties preserved in join order.
func (s *Session) Leaderboard() []LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

func (s *Session) leaderboardLocked() []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(s.teamOrder.ids))
	for _, id := range s.teamOrder.ids {
		t := s.teams[id]
		entries = append(entries, LeaderboardEntry{
			TeamID:       t.ID,
			Name:         t.Name,
			Score:        t.Score,
			AnswersCount: len(t.Answers),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return entries
}

// EndGame transitions to the terminal ended state and returns the final
// leaderboard. Called implicitly when NextQuestion runs past the last
// question, but is also exposed directly for completeness.
func (s *Session) EndGame() []LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endGameLocked()
}

func (s *Session) endGameLocked() []LeaderboardEntry {
	s.state = Ended
	return s.leaderboardLocked()
}
