// Package wire implements the minimal framed request/response codec that
// lets a client talk to filecached over a byte stream: a 1-byte opcode, a
// 4-byte big-endian length prefix, and a payload.
//
// The storage core never imports this package; it only needs a contract
// satisfied by whatever sits between it and a socket, so wire is kept
// self-contained and minimal.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Op identifies a request kind, one per Store operation.
type Op byte

const (
	OpOpen Op = iota + 1
	OpClose
	OpRead
	OpReadN
	OpWrite
	OpLock
	OpUnlock
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpReadN:
		return "readn"
	case OpWrite:
		return "write"
	case OpLock:
		return "lock"
	case OpUnlock:
		return "unlock"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", byte(op))
	}
}

// ReplyKind identifies the outbound message kinds: OK, ERR(code), and
// GETF(name, bytes, len, dirty?).
type ReplyKind byte

const (
	ReplyOK ReplyKind = iota + 1
	ReplyErr
	ReplyGetF
)

// maxFrameSize bounds a single frame's payload to guard the decoder against
// a corrupt or hostile length prefix; well above any payload this cache's
// default byte ceiling would ever carry in one frame.
const maxFrameSize = 512 << 20

// Frame is one length-prefixed message: a 1-byte kind tag followed by an
// opaque payload whose encoding is kind-specific (see Request/Reply below).
type Frame struct {
	Kind byte
	Body []byte
}

// ReadFrame reads one frame from r: a 4-byte big-endian length (of Kind +
// Body together), then that many bytes.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, fmt.Errorf("wire: empty frame")
	}
	if n > maxFrameSize {
		return Frame{}, fmt.Errorf("wire: frame size %d exceeds limit", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: buf[0], Body: buf[1:]}, nil
}

// WriteFrame writes kind and body as one length-prefixed frame.
func WriteFrame(w io.Writer, kind byte, body []byte) error {
	out := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(1+len(body)))
	out[4] = kind
	copy(out[5:], body)
	_, err := w.Write(out)
	return err
}
