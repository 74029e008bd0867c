package protocol

const (
	// Transport/envelope validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Match routing/state.
	ErrMatchNotFound    = "E_MATCH_NOT_FOUND"
	ErrMatchEnded       = "E_MATCH_ENDED"
	ErrActionIDMismatch = "E_ACTION_ID_MISMATCH"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidAction = "E_INVALID_ACTION"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrConflict      = "E_CONFLICT"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"

	// Engine defects and everything else.
	ErrInvariant = "E_INVARIANT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrMatchNotFound:    {},
	ErrMatchEnded:       {},
	ErrActionIDMismatch: {},
	ErrBadRequest:       {},
	ErrInvalidAction:    {},
	ErrNoPermission:     {},
	ErrNoResource:       {},
	ErrInvalidTarget:    {},
	ErrConflict:         {},
	ErrBlocked:          {},
	ErrStale:            {},
	ErrInvariant:        {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a failure with a stable wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func NewError(code, msg string) *Error { return &Error{Code: code, Message: msg} }
