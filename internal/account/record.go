package account

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedRecord = errors.New("account: malformed record")

// Record is the durable form of an account, keyed by username.
// HomeAddress is a soft reference into the hosts table.
type Record struct {
	Username       string
	CredentialHash string
	HomeAddress    string
}

const (
	fieldUsername       protowire.Number = 1
	fieldCredentialHash protowire.Number = 2
	fieldHomeAddress    protowire.Number = 3
)

func MarshalRecord(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldUsername, protowire.BytesType)
	b = protowire.AppendString(b, r.Username)
	b = protowire.AppendTag(b, fieldCredentialHash, protowire.BytesType)
	b = protowire.AppendString(b, r.CredentialHash)
	b = protowire.AppendTag(b, fieldHomeAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.HomeAddress)
	return b
}

func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, wireErr(n)
		}
		b = b[n:]
		if typ != protowire.BytesType || num < fieldUsername || num > fieldHomeAddress {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, wireErr(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return Record{}, wireErr(n)
		}
		b = b[n:]
		switch num {
		case fieldUsername:
			r.Username = v
		case fieldCredentialHash:
			r.CredentialHash = v
		case fieldHomeAddress:
			r.HomeAddress = v
		}
	}
	return r, nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
}
