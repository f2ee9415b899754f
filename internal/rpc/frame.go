package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
)

// maxFrameSize bounds an inbound frame's declared length, guarding
// against a corrupt or hostile peer claiming an enormous body.
const maxFrameSize = 16 * 1024 * 1024

// writeFrame encodes v as JSON and writes it as a 4-byte big-endian
// length prefix followed by the body, the same shape the wire session
// layer uses.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame and unmarshals it into
// v.
func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return &shardrealmerr.ProtocolError{Reason: fmt.Sprintf("frame size %d exceeds max %d", n, maxFrameSize)}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("rpc: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &shardrealmerr.ProtocolError{Reason: fmt.Sprintf("malformed frame body: %v", err)}
	}
	return nil
}
