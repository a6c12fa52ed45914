package wire

import "encoding/binary"

// Reply is one outbound message: OK, ERR(code), or GETF(name, payload, dirty).
type Reply struct {
	Kind ReplyKind

	// ERR
	Code byte

	// GETF (read, readN, evicted payloads); OK carries no body
	Name    string
	Payload []byte
	Dirty   bool
}

// EncodeReply marshals r into a wire Frame body; Kind is carried as the
// frame's 1-byte tag by the caller (see WriteFrame).
func EncodeReply(r Reply) []byte {
	switch r.Kind {
	case ReplyErr:
		return []byte{r.Code}
	case ReplyGetF:
		nameLen := len(r.Name)
		buf := make([]byte, 2+nameLen+1+len(r.Payload))
		binary.BigEndian.PutUint16(buf[:2], uint16(nameLen))
		copy(buf[2:], r.Name)
		buf[2+nameLen] = boolByte(r.Dirty)
		copy(buf[2+nameLen+1:], r.Payload)
		return buf
	default: // ReplyOK
		return nil
	}
}

// DecodeReply unmarshals a Frame produced by ReadFrame into a Reply.
func DecodeReply(f Frame) Reply {
	kind := ReplyKind(f.Kind)
	switch kind {
	case ReplyErr:
		code := byte(0)
		if len(f.Body) > 0 {
			code = f.Body[0]
		}
		return Reply{Kind: kind, Code: code}
	case ReplyGetF:
		if len(f.Body) < 2 {
			return Reply{Kind: kind}
		}
		nameLen := int(binary.BigEndian.Uint16(f.Body[:2]))
		rest := f.Body[2:]
		if len(rest) < nameLen+1 {
			return Reply{Kind: kind}
		}
		name := string(rest[:nameLen])
		dirty := rest[nameLen] != 0
		payload := append([]byte(nil), rest[nameLen+1:]...)
		return Reply{Kind: kind, Name: name, Payload: payload, Dirty: dirty}
	default:
		return Reply{Kind: ReplyOK}
	}
}
