package message

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Meander-Cloud/go-remote/wire"
)

type TransactionKind uint8

const (
	TransactionKindInvalid TransactionKind = 0
	TransactionKindLocal   TransactionKind = 1
	TransactionKindXid     TransactionKind = 2
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionKindInvalid:
		return "Invalid Kind"
	case TransactionKindLocal:
		return "Local"
	case TransactionKindXid:
		return "Xid"
	default:
		return "Unknown Kind"
	}
}

// Xid is a distributed transaction coordinate.
type Xid struct {
	FormatID            int32  `json:"format_id"`
	GlobalTransactionID []byte `json:"global_transaction_id"`
	BranchQualifier     []byte `json:"branch_qualifier"`
}

// Key is usable as a map key.
func (x Xid) Key() string {
	return fmt.Sprintf("%d:%s:%s", x.FormatID, hex.EncodeToString(x.GlobalTransactionID), hex.EncodeToString(x.BranchQualifier))
}

func (x Xid) Equal(o Xid) bool {
	return x.FormatID == o.FormatID &&
		bytes.Equal(x.GlobalTransactionID, o.GlobalTransactionID) &&
		bytes.Equal(x.BranchQualifier, o.BranchQualifier)
}

func (x Xid) String() string {
	return "Xid<" + x.Key() + ">"
}

// TransactionID is either a local id issued by this server or an imported Xid.
type TransactionID struct {
	Kind  TransactionKind `json:"kind"`
	Local []byte          `json:"local,omitempty"`
	Xid   Xid             `json:"xid"`
}

func LocalTransactionID(id []byte) TransactionID {
	return TransactionID{
		Kind:  TransactionKindLocal,
		Local: id,
	}
}

func XidTransactionID(xid Xid) TransactionID {
	return TransactionID{
		Kind: TransactionKindXid,
		Xid:  xid,
	}
}

func (t TransactionID) String() string {
	switch t.Kind {
	case TransactionKindLocal:
		return "Local<" + hex.EncodeToString(t.Local) + ">"
	case TransactionKindXid:
		return t.Xid.String()
	default:
		return t.Kind.String()
	}
}

// Bytes is the encoded form carried inside a byte block.
func (t TransactionID) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)

	err := w.WriteByte(byte(t.Kind))
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case TransactionKindLocal:
		err = w.WriteRaw(t.Local)
	case TransactionKindXid:
		err = w.WriteI32(t.Xid.FormatID)
		if err == nil {
			err = w.WriteBlock(t.Xid.GlobalTransactionID)
		}
		if err == nil {
			err = w.WriteBlock(t.Xid.BranchQualifier)
		}
	default:
		err = fmt.Errorf("%w: transaction kind %d", wire.ErrValueOutOfRange, t.Kind)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ParseTransactionID(b []byte) (TransactionID, error) {
	r := wire.NewReader(b)
	kind, err := r.ReadByte()
	if err != nil {
		return TransactionID{}, err
	}

	switch TransactionKind(kind) {
	case TransactionKindLocal:
		local, err := r.ReadRaw(r.Remaining())
		if err != nil {
			return TransactionID{}, err
		}
		if len(local) == 0 {
			return TransactionID{}, fmt.Errorf("%w: empty local transaction id", wire.ErrMalformedMessage)
		}
		return LocalTransactionID(local), nil

	case TransactionKindXid:
		var xid Xid
		xid.FormatID, err = r.ReadI32()
		if err == nil {
			xid.GlobalTransactionID, err = r.ReadBlock()
		}
		if err == nil {
			xid.BranchQualifier, err = r.ReadBlock()
		}
		if err != nil {
			return TransactionID{}, err
		}
		if r.Remaining() != 0 {
			return TransactionID{}, fmt.Errorf("%w: %d trailing bytes after xid", wire.ErrMalformedMessage, r.Remaining())
		}
		return XidTransactionID(xid), nil

	default:
		return TransactionID{}, fmt.Errorf("%w: transaction kind 0x%02X", wire.ErrMalformedMessage, kind)
	}
}

func WriteTransactionID(w *wire.Writer, t TransactionID) error {
	b, err := t.Bytes()
	if err != nil {
		return err
	}
	return w.WriteBlock(b)
}

func ReadTransactionID(r *wire.Reader) (TransactionID, error) {
	b, err := r.ReadBlock()
	if err != nil {
		return TransactionID{}, err
	}
	return ParseTransactionID(b)
}
