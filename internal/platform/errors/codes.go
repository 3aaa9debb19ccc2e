// Package errors provides structured error handling with user-facing messages.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection errors
	CodeConnectionError       Code = "CONNECTION_ERROR"
	CodeConnectionNotFound    Code = "CONNECTION_NOT_FOUND"
	CodeReconnectionFailed    Code = "RECONNECTION_FAILED"
	CodeReconnectionExhausted Code = "RECONNECTION_EXHAUSTED"

	// Game errors
	CodeGameNotFound       Code = "GAME_NOT_FOUND"
	CodePlayerNotFound     Code = "PLAYER_NOT_FOUND"
	CodeGameStateCorrupted Code = "GAME_STATE_CORRUPTED"
	CodeGameNotPaused      Code = "GAME_NOT_PAUSED"
	CodeGameAbandoned      Code = "GAME_ABANDONED"

	// Voting errors
	CodeVoteNotOpen       Code = "VOTE_NOT_OPEN"
	CodeVoteSelfTarget    Code = "VOTE_SELF_TARGET"
	CodeVoteInvalidChoice Code = "VOTE_INVALID_CHOICE"
	CodeVoterNotConnected Code = "VOTER_NOT_CONNECTED"

	// Infrastructure errors
	CodeDatabaseError   Code = "DATABASE_ERROR"
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeTimeoutError    Code = "TIMEOUT_ERROR"
	CodeServerError     Code = "SERVER_ERROR"
)
