package fsm

import "errors"

// Error codes making up the wire error taxonomy (Specification Section 7).
// These are the exact strings carried in an outbound ERROR message and in
// ErrorInfo.Code; they are distinct from the sentinel errors below, which
// are for in-process errors.Is matching.
const (
	ErrCodeMemberUnknown        = "MEMBER_UNKNOWN"
	ErrCodeMemberRemoved        = "MEMBER_REMOVED"
	ErrCodeDeviceUnknown        = "DEVICE_UNKNOWN"
	ErrCodeDeviceRemoved        = "DEVICE_REMOVED"
	ErrCodeIdentityProofInvalid = "IDENTITY_PROOF_INVALID"
	ErrCodeInvitationInvalid    = "INVITATION_INVALID"
	ErrCodeInvitationRevoked    = "INVITATION_REVOKED"
	ErrCodeUserNameMismatch     = "USER_NAME_MISMATCH"
	ErrCodeWrongTeam            = "WRONG_TEAM"
	ErrCodeNeitherIsMember      = "NEITHER_IS_MEMBER"
	ErrCodePeerRemoved          = "PEER_REMOVED"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeDecryptionFailed     = "DECRYPTION_FAILED"
	ErrCodePeerError            = "PEER_ERROR"
)

// ErrorInfo is the first terminal error recorded on a Context (Specification
// Section 3, field `error`).
type ErrorInfo struct {
	Code    string
	Message string
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Sentinel errors returned by Step itself, as opposed to wire error codes
// carried in an ERROR message.
var (
	ErrTerminal           = errors.New("fsm: machine is in a terminal state and accepts no further events")
	ErrUnexpectedMessage  = errors.New("fsm: message kind not valid for the current state")
	ErrMissingTeam        = errors.New("fsm: operation requires a team but none is set")
	ErrMissingPeer        = errors.New("fsm: operation requires a resolved peer but none is set")
)
