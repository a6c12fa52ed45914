package wire

import (
	"encoding/binary"
	"fmt"
)

// Request is one decoded inbound message: an Op plus whichever fields that
// Op needs. The client identifier is not part of a Request: the server
// derives it from the connection and passes it to pkg/handlers separately.
type Request struct {
	Op       Op
	Name     string
	WithLock bool  // Open
	Create   bool  // Open: create the file if it does not already exist
	Whole    bool  // Write
	N        int32 // ReadN
	Payload  []byte
}

// EncodeRequest marshals r into a wire Frame body (everything after the
// 1-byte Kind tag ReadFrame already split off is Op-specific, so Kind ==
// byte(r.Op) and Body is what this function returns).
func EncodeRequest(r Request) []byte {
	nameLen := len(r.Name)
	switch r.Op {
	case OpOpen:
		buf := make([]byte, 2+nameLen+2)
		binary.BigEndian.PutUint16(buf[:2], uint16(nameLen))
		copy(buf[2:], r.Name)
		buf[2+nameLen] = boolByte(r.WithLock)
		buf[2+nameLen+1] = boolByte(r.Create)
		return buf
	case OpReadN:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(r.N))
		return buf
	case OpWrite:
		buf := make([]byte, 2+nameLen+1+len(r.Payload))
		binary.BigEndian.PutUint16(buf[:2], uint16(nameLen))
		copy(buf[2:], r.Name)
		buf[2+nameLen] = boolByte(r.Whole)
		copy(buf[2+nameLen+1:], r.Payload)
		return buf
	default: // Close, Read, Lock, Unlock, Remove: just the name
		buf := make([]byte, 2+nameLen)
		binary.BigEndian.PutUint16(buf[:2], uint16(nameLen))
		copy(buf[2:], r.Name)
		return buf
	}
}

// DecodeRequest unmarshals a Frame produced by ReadFrame into a Request.
func DecodeRequest(f Frame) (Request, error) {
	op := Op(f.Kind)
	body := f.Body

	switch op {
	case OpReadN:
		if len(body) < 4 {
			return Request{}, fmt.Errorf("wire: short readn body")
		}
		return Request{Op: op, N: int32(binary.BigEndian.Uint32(body))}, nil

	case OpOpen:
		name, rest, err := readName(body)
		if err != nil {
			return Request{}, err
		}
		if len(rest) < 2 {
			return Request{}, fmt.Errorf("wire: short open body")
		}
		return Request{Op: op, Name: name, WithLock: rest[0] != 0, Create: rest[1] != 0}, nil

	case OpWrite:
		name, rest, err := readName(body)
		if err != nil {
			return Request{}, err
		}
		if len(rest) < 1 {
			return Request{}, fmt.Errorf("wire: short write body")
		}
		return Request{Op: op, Name: name, Whole: rest[0] != 0, Payload: append([]byte(nil), rest[1:]...)}, nil

	case OpClose, OpRead, OpLock, OpUnlock, OpRemove:
		name, _, err := readName(body)
		if err != nil {
			return Request{}, err
		}
		return Request{Op: op, Name: name}, nil

	default:
		return Request{}, fmt.Errorf("wire: unknown op %d", f.Kind)
	}
}

func readName(body []byte) (name string, rest []byte, err error) {
	if len(body) < 2 {
		return "", nil, fmt.Errorf("wire: short name length")
	}
	n := int(binary.BigEndian.Uint16(body[:2]))
	if len(body) < 2+n {
		return "", nil, fmt.Errorf("wire: truncated name")
	}
	return string(body[2 : 2+n]), body[2+n:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
