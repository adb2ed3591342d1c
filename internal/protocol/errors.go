package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Commands.
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrUnknownCommand    = "E_UNKNOWN_COMMAND"
	ErrInvalidDescriptor = "E_INVALID_DESCRIPTOR"
	ErrForbidden         = "E_FORBIDDEN"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrProtoVersion:      {},
	ErrBadRequest:        {},
	ErrUnknownCommand:    {},
	ErrInvalidDescriptor: {},
	ErrForbidden:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
