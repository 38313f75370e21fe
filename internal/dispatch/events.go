// Package dispatch demultiplexes inbound events by name, validates their
// payloads, invokes the named Session operation, and emits the broadcast(s)
// and reply the wire contract describes. Outbound events are a parallel,
// JSON-tagged variant of the inbound ones, kept as a separate const block
// since the two directions evolve independently even when they share a
// name prefix.
package dispatch

import "github.com/barquiz/triviahost/internal/session"

// Inbound event names.
const (
	EventHostCreateGame     = "host:create-game"
	EventTeamJoin           = "team:join"
	EventHostAddQuestion    = "host:add-question"
	EventHostStartGame      = "host:start-game"
	EventHostNextQuestion   = "host:next-question"
	EventTeamSubmitAnswer   = "team:submit-answer"
	EventHostRevealAnswer   = "host:reveal-answer"
	EventGameGetLeaderboard = "game:get-leaderboard"
)

// Outbound event names.
const (
	EventTeamJoined     = "team:joined"
	EventTeamLeft       = "team:left"
	EventGameStarted    = "game:started"
	EventQuestionNew    = "question:new"
	EventGameEnded      = "game:ended"
	EventAnswerSubmitted = "answer:submitted"
	EventAnswerRevealed = "answer:revealed"
)

// --- inbound payloads ---

type createGamePayload struct {
	HostName string `json:"hostName"`
}

type teamJoinPayload struct {
	Pin      string `json:"pin"`
	TeamName string `json:"teamName"`
}

type questionPayload struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	TimeLimit     int      `json:"timeLimit"`
	Category      string   `json:"category"`
}

type addQuestionPayload struct {
	Pin      string          `json:"pin"`
	Question questionPayload `json:"question"`
}

type pinOnlyPayload struct {
	Pin string `json:"pin"`
}

type submitAnswerPayload struct {
	Pin    string `json:"pin"`
	TeamID string `json:"teamId"`
	Answer int    `json:"answer"`
}

// --- outbound replies ---

type errorReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errReply(err error) errorReply {
	return errorReply{Success: false, Error: err.Error()}
}

type createGameReply struct {
	Success bool   `json:"success"`
	GameID  string `json:"gameId"`
	Pin     string `json:"pin"`
	HostID  string `json:"hostId"`
}

type teamJoinReply struct {
	Success   bool          `json:"success"`
	TeamID    string        `json:"teamId"`
	TeamName  string        `json:"teamName"`
	GameState session.State `json:"gameState"`
}

type addQuestionReply struct {
	Success        bool `json:"success"`
	TotalQuestions int  `json:"totalQuestions"`
}

type okReply struct {
	Success bool `json:"success"`
}

type nextQuestionReply struct {
	Success  bool                 `json:"success"`
	Ended    bool                 `json:"ended,omitempty"`
	Question *session.QuestionView `json:"question,omitempty"`
}

type submitAnswerReply struct {
	Success   bool `json:"success"`
	Submitted bool `json:"submitted"`
}

type revealAnswerReply struct {
	Success       bool                        `json:"success"`
	CorrectAnswer int                         `json:"correctAnswer"`
	Leaderboard   []session.LeaderboardEntry `json:"leaderboard"`
}

type leaderboardReply struct {
	Success     bool                        `json:"success"`
	Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
}

// --- broadcasts ---

type teamJoinedEvent struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
}

type teamLeftEvent struct {
	TeamID    string `json:"teamId"`
	TeamName  string `json:"teamName"`
	TotalTeams int   `json:"totalTeams"`
}

type gameStartedEvent struct {
	Question session.QuestionView `json:"question"`
}

type questionNewEvent struct {
	Question session.QuestionView `json:"question"`
}

type gameEndedEvent struct {
	FinalLeaderboard []session.LeaderboardEntry `json:"finalLeaderboard"`
	TotalQuestions   int                         `json:"totalQuestions"`
}

type answerSubmittedEvent struct {
	TeamID   string `json:"teamId"`
	Answered bool   `json:"answered"`
}

type answerRevealedEvent struct {
	CorrectAnswer int                         `json:"correctAnswer"`
	Leaderboard   []session.LeaderboardEntry `json:"leaderboard"`
}
