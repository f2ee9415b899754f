package session

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/wirecrypt"
)

// frameState is the incremental frame-assembly state machine: NEED_LEN
// while the 4-byte length prefix is still arriving, NEED_BODY while the
// declared number of body bytes is still arriving. A completed frame
// moves straight into the ready queue so assembly continues on whatever
// bytes follow it in the same chunk.
type frameState int

const (
	stateNeedLen frameState = iota
	stateNeedBody
)

// frameReader incrementally assembles length-prefixed frames off conn,
// one Read() worth of bytes at a time, rather than blocking on
// io.ReadFull, so a partial frame never stalls the connection's other
// pending work. Partial trailing bytes are preserved in the assembly
// state across reads; multiple frames packed into one read all land in
// the ready queue.
type frameReader struct {
	conn       net.Conn
	maxMsgSize int
	cipher     *wirecrypt.Cipher

	state    frameState
	lenBuf   [4]byte
	lenHave  int
	bodyLen  int
	body     []byte
	bodyHave int
	ready    [][]byte
}

func newFrameReader(conn net.Conn, maxMsgSize int, cipher *wirecrypt.Cipher) *frameReader {
	return &frameReader{conn: conn, maxMsgSize: maxMsgSize, cipher: cipher, state: stateNeedLen}
}

// next blocks until one complete frame is available, returning its
// (decrypted) body.
func (f *frameReader) next() ([]byte, error) {
	buf := make([]byte, 4096)
	for {
		if len(f.ready) > 0 {
			body := f.ready[0]
			f.ready = f.ready[1:]
			if f.cipher != nil {
				body = f.cipher.Decrypt(body)
			}
			return body, nil
		}
		n, err := f.conn.Read(buf)
		if n > 0 {
			if err := f.feed(buf[:n]); err != nil {
				return nil, err
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *frameReader) resetAssembly() {
	f.state = stateNeedLen
	f.lenHave = 0
	f.bodyLen = 0
	f.body = nil
	f.bodyHave = 0
}

// feed advances the state machine with newly read bytes, consuming the
// whole chunk: every frame completed along the way is appended to the
// ready queue, and a trailing partial frame stays in the assembly state
// for the next feed.
func (f *frameReader) feed(chunk []byte) error {
	for len(chunk) > 0 {
		switch f.state {
		case stateNeedLen:
			n := copy(f.lenBuf[f.lenHave:], chunk)
			f.lenHave += n
			chunk = chunk[n:]
			if f.lenHave == 4 {
				f.bodyLen = int(binary.BigEndian.Uint32(f.lenBuf[:]))
				if f.maxMsgSize > 0 && f.bodyLen > f.maxMsgSize {
					return &shardrealmerr.ProtocolError{Reason: fmt.Sprintf("frame size %d exceeds max %d", f.bodyLen, f.maxMsgSize)}
				}
				f.body = make([]byte, f.bodyLen)
				f.state = stateNeedBody
			}
		case stateNeedBody:
			n := copy(f.body[f.bodyHave:], chunk)
			f.bodyHave += n
			chunk = chunk[n:]
			if f.bodyHave == f.bodyLen {
				f.ready = append(f.ready, f.body)
				f.resetAssembly()
			}
		}
	}
	return nil
}

// writeFrame encodes and writes one length-prefixed frame, encrypting
// a copy of the body first if cipher is enabled.
func writeFrame(conn net.Conn, body []byte, cipher *wirecrypt.Cipher) error {
	if cipher != nil {
		body = cipher.Encrypt(append([]byte(nil), body...))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	_, err := (&net.Buffers{lenBuf[:], body}).WriteTo(conn)
	return err
}

// writeFrames encodes bodies as a run of length-prefixed frames and
// writes them to conn as one net.Buffers writev, so a write pump that
// has drained several queued messages in a row pays for one syscall
// instead of one per message.
func writeFrames(conn net.Conn, bodies [][]byte, cipher *wirecrypt.Cipher) error {
	bufs := make(net.Buffers, 0, len(bodies)*2)
	for _, body := range bodies {
		if cipher != nil {
			body = cipher.Encrypt(body)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
		bufs = append(bufs, lenBuf[:], body)
	}
	_, err := bufs.WriteTo(conn)
	return err
}

// encodeMessage marshals a Message to its wire JSON form.
func encodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
