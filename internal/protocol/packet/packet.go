// Package packet maps framed TLV payloads to typed game packets.
package packet

import (
	"errors"
	"fmt"

	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/protocol/schema"
	"github.com/danmuck/hackgame/internal/protocol/tlv"
)

var ErrUnknownType = errors.New("packet: unknown message type")

// Packet is implemented by every typed packet in the wire contract.
type Packet interface {
	Type() uint32
	fields() []tlv.Field
}

// Disconnect announces that the sender is closing the connection.
type Disconnect struct {
	Reason string
}

// Ping asks the peer to answer with a Pong echoing Sequence.
type Ping struct {
	Sequence uint64
}

// Pong answers a Ping. Nonce is fresh per response.
type Pong struct {
	Sequence uint64
	Nonce    uint64
}

// Command carries one raw command line.
type Command struct {
	Text string
}

type CommandResult struct {
	Output string
}

// CommandError reports a failed command. Kind is a fault kind label.
type CommandError struct {
	Kind    string
	Message string
}

func (Disconnect) Type() uint32    { return schema.MsgDisconnect }
func (Ping) Type() uint32          { return schema.MsgPing }
func (Pong) Type() uint32          { return schema.MsgPong }
func (Command) Type() uint32       { return schema.MsgCommand }
func (CommandResult) Type() uint32 { return schema.MsgCommandResult }
func (CommandError) Type() uint32  { return schema.MsgCommandError }

func (p Disconnect) fields() []tlv.Field {
	return []tlv.Field{tlv.String(schema.FieldReason, p.Reason)}
}

func (p Ping) fields() []tlv.Field {
	return []tlv.Field{tlv.U64(schema.FieldSequence, p.Sequence)}
}

func (p Pong) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U64(schema.FieldSequence, p.Sequence),
		tlv.U64(schema.FieldNonce, p.Nonce),
	}
}

func (p Command) fields() []tlv.Field {
	return []tlv.Field{tlv.String(schema.FieldText, p.Text)}
}

func (p CommandResult) fields() []tlv.Field {
	return []tlv.Field{tlv.String(schema.FieldOutput, p.Output)}
}

func (p CommandError) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldKind, p.Kind),
		tlv.String(schema.FieldMessage, p.Message),
	}
}

// Encode builds a frame carrying p.
func Encode(messageID uint64, flags uint32, p Packet) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: p.Type(),
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(p.fields()),
	}
}

// Decode parses and validates the payload of f into a typed packet.
func Decode(f frame.Frame) (Packet, error) {
	msgType := f.Header.MessageType
	if !schema.Known(msgType) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, msgType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(msgType, fields); err != nil {
		return nil, err
	}
	switch msgType {
	case schema.MsgDisconnect:
		reason, err := stringField(fields, schema.FieldReason)
		if err != nil {
			return nil, err
		}
		return Disconnect{Reason: reason}, nil
	case schema.MsgPing:
		seq, err := u64Field(fields, schema.FieldSequence)
		if err != nil {
			return nil, err
		}
		return Ping{Sequence: seq}, nil
	case schema.MsgPong:
		seq, err := u64Field(fields, schema.FieldSequence)
		if err != nil {
			return nil, err
		}
		nonce, err := u64Field(fields, schema.FieldNonce)
		if err != nil {
			return nil, err
		}
		return Pong{Sequence: seq, Nonce: nonce}, nil
	case schema.MsgCommand:
		text, err := stringField(fields, schema.FieldText)
		if err != nil {
			return nil, err
		}
		return Command{Text: text}, nil
	case schema.MsgCommandResult:
		out, err := stringField(fields, schema.FieldOutput)
		if err != nil {
			return nil, err
		}
		return CommandResult{Output: out}, nil
	case schema.MsgCommandError:
		kind, err := stringField(fields, schema.FieldKind)
		if err != nil {
			return nil, err
		}
		msg, err := stringField(fields, schema.FieldMessage)
		if err != nil {
			return nil, err
		}
		return CommandError{Kind: kind, Message: msg}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, msgType)
}

func stringField(fields []tlv.Field, id uint16) (string, error) {
	f, _ := tlv.GetField(fields, id)
	return f.AsString()
}

func u64Field(fields []tlv.Field, id uint16) (uint64, error) {
	f, _ := tlv.GetField(fields, id)
	return f.AsU64()
}
