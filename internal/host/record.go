package host

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedRecord = errors.New("host: malformed record")

const maxTreeDepth = 64

// Record is the durable form of a host, keyed by address in the hosts table.
type Record struct {
	Balance      int64
	SoftwareRefs []string
	Filesystem   *Node
	Credential   string
}

// DefaultRecord is the record written for a host created on first login.
func DefaultRecord(balance int64, credential string) Record {
	return Record{
		Balance:    balance,
		Filesystem: DefaultFilesystem(),
		Credential: credential,
	}
}

// Record field numbers.
const (
	recBalance    protowire.Number = 1
	recSoftware   protowire.Number = 2
	recFilesystem protowire.Number = 3
	recCredential protowire.Number = 4

	nodeName     protowire.Number = 1
	nodeIsDir    protowire.Number = 2
	nodeContent  protowire.Number = 3
	nodeChildren protowire.Number = 4
)

// MarshalRecord encodes r in protobuf wire format.
func MarshalRecord(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, recBalance, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Balance))
	for _, ref := range r.SoftwareRefs {
		b = protowire.AppendTag(b, recSoftware, protowire.BytesType)
		b = protowire.AppendString(b, ref)
	}
	if r.Filesystem != nil {
		b = protowire.AppendTag(b, recFilesystem, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNode(nil, r.Filesystem))
	}
	if r.Credential != "" {
		b = protowire.AppendTag(b, recCredential, protowire.BytesType)
		b = protowire.AppendString(b, r.Credential)
	}
	return b
}

func marshalNode(b []byte, n *Node) []byte {
	if n.Name != "" {
		b = protowire.AppendTag(b, nodeName, protowire.BytesType)
		b = protowire.AppendString(b, n.Name)
	}
	if n.IsDir {
		b = protowire.AppendTag(b, nodeIsDir, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if n.Content != "" {
		b = protowire.AppendTag(b, nodeContent, protowire.BytesType)
		b = protowire.AppendString(b, n.Content)
	}
	for _, c := range n.Children {
		b = protowire.AppendTag(b, nodeChildren, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNode(nil, c))
	}
	return b
}

// UnmarshalRecord decodes a record written by MarshalRecord. Unknown fields
// are skipped.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, wireErr(n)
		}
		b = b[n:]
		switch {
		case num == recBalance && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			r.Balance = protowire.DecodeZigZag(v)
			b = b[n:]
		case num == recSoftware && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			r.SoftwareRefs = append(r.SoftwareRefs, v)
			b = b[n:]
		case num == recFilesystem && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			node, err := unmarshalNode(v, 0)
			if err != nil {
				return Record{}, err
			}
			r.Filesystem = node
			b = b[n:]
		case num == recCredential && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			r.Credential = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func unmarshalNode(b []byte, depth int) (*Node, error) {
	if depth > maxTreeDepth {
		return nil, fmt.Errorf("%w: filesystem deeper than %d", ErrMalformedRecord, maxTreeDepth)
	}
	node := &Node{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireErr(n)
		}
		b = b[n:]
		switch {
		case num == nodeName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, wireErr(n)
			}
			node.Name = v
			b = b[n:]
		case num == nodeIsDir && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireErr(n)
			}
			node.IsDir = protowire.DecodeBool(v)
			b = b[n:]
		case num == nodeContent && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, wireErr(n)
			}
			node.Content = v
			b = b[n:]
		case num == nodeChildren && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireErr(n)
			}
			child, err := unmarshalNode(v, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, wireErr(n)
			}
			b = b[n:]
		}
	}
	return node, nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
}
