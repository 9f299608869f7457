// Package protocol implements the wire format spoken over the WebSocket:
// inbound "command:payload" frames and the JSON payloads on both directions.
package protocol

import (
	"errors"
	"strings"
)

// Command is an inbound frame verb.
type Command string

const (
	CmdAuthSuccess         Command = "auth_success"
	CmdAuthFail            Command = "auth_fail"
	CmdSyncData            Command = "sync_data"
	CmdNewMessage          Command = "new_message"
	CmdEditMsg             Command = "edit_msg"
	CmdEditMsgGroup        Command = "edit_msg_group"
	CmdDeleteMsg           Command = "delete_msg"
	CmdDeleteMsgGroup      Command = "delete_msg_group"
	CmdIsUserOnline        Command = "is_user_online"
	CmdUpdateMessageStatus Command = "update_message_status"
	CmdMessageReadReceipt  Command = "message_read_receipt"

	// CmdUnknown stands in for any verb outside the known set.
	CmdUnknown Command = "unknown"
)

var knownCommands = map[Command]bool{
	CmdAuthSuccess:         true,
	CmdAuthFail:            true,
	CmdSyncData:            true,
	CmdNewMessage:          true,
	CmdEditMsg:             true,
	CmdEditMsgGroup:        true,
	CmdDeleteMsg:           true,
	CmdDeleteMsgGroup:      true,
	CmdIsUserOnline:        true,
	CmdUpdateMessageStatus: true,
	CmdMessageReadReceipt:  true,
}

// ErrBadFrame is returned for frames without a "command:" prefix.
var ErrBadFrame = errors.New("frame missing command separator")

// ParseFrame splits an inbound frame at the first colon into its command and
// raw JSON payload. The payload may be empty (auth_success carries none).
// Unrecognized verbs come back as CmdUnknown with the payload intact.
func ParseFrame(raw []byte) (Command, []byte, error) {
	text := string(raw)
	i := strings.IndexByte(text, ':')
	if i == -1 {
		return "", nil, ErrBadFrame
	}
	verb := strings.TrimSpace(text[:i])
	if verb == "" {
		return "", nil, ErrBadFrame
	}
	cmd := Command(verb)
	if !knownCommands[cmd] {
		return CmdUnknown, raw[i+1:], nil
	}
	return cmd, raw[i+1:], nil
}
