package schema

import (
	"fmt"

	"github.com/danmuck/hackgame/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs from the packet contract.
const (
	MsgDisconnect    uint32 = 1
	MsgPing          uint32 = 2
	MsgPong          uint32 = 3
	MsgCommand       uint32 = 4
	MsgCommandResult uint32 = 5
	MsgCommandError  uint32 = 6
)

// Field IDs from the packet contract.
const (
	FieldReason uint16 = 1

	FieldSequence uint16 = 100
	FieldNonce    uint16 = 101

	FieldText    uint16 = 200
	FieldOutput  uint16 = 201
	FieldKind    uint16 = 202
	FieldMessage uint16 = 203
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgDisconnect: {
		{FieldReason, tlv.TypeString},
	},
	MsgPing: {
		{FieldSequence, tlv.TypeU64},
	},
	MsgPong: {
		{FieldSequence, tlv.TypeU64},
		{FieldNonce, tlv.TypeU64},
	},
	MsgCommand: {
		{FieldText, tlv.TypeString},
	},
	MsgCommandResult: {
		{FieldOutput, tlv.TypeString},
	},
	MsgCommandError: {
		{FieldKind, tlv.TypeString},
		{FieldMessage, tlv.TypeString},
	},
}

// Known reports whether messageType is part of the packet contract.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Name returns a stable label for messageType, used in logs and metrics.
func Name(messageType uint32) string {
	switch messageType {
	case MsgDisconnect:
		return "disconnect"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgCommand:
		return "command"
	case MsgCommandResult:
		return "command_result"
	case MsgCommandError:
		return "command_error"
	default:
		return "unknown"
	}
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored so newer clients can add optional fields.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema: unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema: missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
