package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeConnectionError       = "CONNECTION_ERROR"
	CodeConnectionNotFound    = "CONNECTION_NOT_FOUND"
	CodeReconnectionFailed    = "RECONNECTION_FAILED"
	CodeReconnectionExhausted = "RECONNECTION_EXHAUSTED"
	CodeGameNotFound          = "GAME_NOT_FOUND"
	CodePlayerNotFound        = "PLAYER_NOT_FOUND"
	CodeGameStateCorrupted    = "GAME_STATE_CORRUPTED"
	CodeGameNotPaused         = "GAME_NOT_PAUSED"
	CodeGameAbandoned         = "GAME_ABANDONED"
	CodeVoteNotOpen           = "VOTE_NOT_OPEN"
	CodeVoteSelfTarget        = "VOTE_SELF_TARGET"
	CodeVoteInvalidChoice     = "VOTE_INVALID_CHOICE"
	CodeVoterNotConnected     = "VOTER_NOT_CONNECTED"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeTimeoutError          = "TIMEOUT_ERROR"
	CodeServerError           = "SERVER_ERROR"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		// Connection errors
		CodeConnectionError:       "Your connection was interrupted. We will retry automatically, and you can also refresh the page.",
		CodeConnectionNotFound:    "We could not find your previous connection. Please rejoin the game from the lobby.",
		CodeReconnectionFailed:    "Reconnection did not succeed. We will keep retrying, and you can also reconnect manually.",
		CodeReconnectionExhausted: "We could not reconnect you after several attempts. You can try a manual reconnect or start a new game.",

		// Game errors
		CodeGameNotFound:       "That game no longer exists. Please create a new game or join another one.",
		CodePlayerNotFound:     "We could not find that player in this game. Please rejoin from the lobby.",
		CodeGameStateCorrupted: "The game hit a problem and some state had to be reset. You can keep playing, or start a new game if something looks wrong.",
		CodeGameNotPaused:      "The game is not paused right now, so there is nothing to resume. You can keep playing.",
		CodeGameAbandoned:      "All players left this game. It will be kept for a few minutes in case anyone returns.",

		// Voting errors
		CodeVoteNotOpen:       "There is no decision to vote on right now. Please wait for the next prompt.",
		CodeVoteSelfTarget:    "You cannot vote on your own disconnection. Please wait for the other players to decide.",
		CodeVoteInvalidChoice: "That option is not available. Please pick one of the choices shown.",
		CodeVoterNotConnected: "Only connected players can vote. Please reconnect and try again.",

		// Infrastructure errors
		CodeDatabaseError:   "We could not save the game right now. Play continues and we will retry saving automatically.",
		CodeValidationError: "That request was not valid. Please refresh the page and try again.",
		CodeTimeoutError:    "The game took too long to respond. Please wait a moment and try again.",
		CodeServerError:     "The server hit an unexpected problem. Please try again, or refresh the page if it keeps happening.",
	},
}
