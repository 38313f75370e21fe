package session

import "errors"

// Error taxonomy surfaced to the event dispatcher, which maps each one to
// the wire string the client renders directly. 
var (
	ErrGameNotFound            = errors.New("Game not found")
	ErrGameAlreadyStarted      = errors.New("Game already started")
	ErrNoQuestions             = errors.New("No questions")
	ErrGameNotAcceptingAnswers = errors.New("Game is not accepting answers")
	ErrWrongState              = errors.New("Wrong state for this action")
	ErrUnknownTeam             = errors.New("Unknown team")
	ErrUnknownQuestion         = errors.New("Unknown question")
	ErrBadRequest              = errors.New("Bad request")
	ErrPinExhausted            = errors.New("Unable to allocate a pin")
)
