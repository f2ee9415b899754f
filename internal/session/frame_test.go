package session

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/udisondev/shardrealm/internal/wirecrypt"
)

func TestFrameReaderRoundTripsASingleFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte(`{"type":"ping"}`)
	go func() {
		if err := writeFrame(client, body, nil); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
	}()

	fr := newFrameReader(server, 0, nil)
	got, err := fr.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("expected %q, got %q", body, got)
	}
}

func TestFrameReaderSplitsMultipleFramesFromOneWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	bodies := [][]byte{[]byte(`{"type":"a"}`), []byte(`{"type":"b"}`), []byte(`{"type":"c"}`)}
	go func() {
		if err := writeFrames(client, bodies, nil); err != nil {
			t.Errorf("writeFrames: %v", err)
		}
	}()

	fr := newFrameReader(server, 0, nil)
	for _, want := range bodies {
		got, err := fr.next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestFrameReaderEnforcesMaxMsgSize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writeFrame(client, []byte(`{"type":"toolong"}`), nil)
	}()

	fr := newFrameReader(server, 4, nil)
	if _, err := fr.next(); err == nil {
		t.Fatal("expected a protocol error for an over-size frame")
	}
}

func TestFrameRoundTripsWithCipher(t *testing.T) {
	cipher, err := wirecrypt.New([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte(`{"type":"secret","value":42}`)
	go func() {
		if err := writeFrame(client, body, cipher); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
	}()

	fr := newFrameReader(server, 0, cipher)
	got, err := fr.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("expected decrypted body %q, got %q", body, got)
	}
}

func TestFrameReaderPropagatesConnError(t *testing.T) {
	client, server := net.Pipe()
	client.Close()
	defer server.Close()

	fr := newFrameReader(server, 0, nil)
	if _, err := fr.next(); err == nil {
		t.Fatal("expected an error once the peer closed the connection")
	}
}

func TestEncodeMessageRoundTripsThroughDecodeMessage(t *testing.T) {
	msg := Message{"type": "ping", "msg_id": float64(7)}
	raw, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("encodeMessage: %v", err)
	}
	got, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if got.Type() != "ping" {
		t.Fatalf("expected type ping, got %q", got.Type())
	}
	id, ok := got.MsgID()
	if !ok || id != float64(7) {
		t.Fatalf("expected msg_id 7, got %v (present=%v)", id, ok)
	}
}

func TestFrameLengthPrefixMatchesBodySize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte(`{"type":"x"}`)
	go func() {
		if err := writeFrame(client, body, nil); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
	}()

	lenBuf := make([]byte, 4)
	if err := server.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, err := readFull(server, lenBuf); err != nil {
		t.Fatalf("reading length prefix: %v", err)
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if int(n) != len(body) {
		t.Fatalf("expected length prefix %d, got %d", len(body), n)
	}
	// Drain the body so the writer goroutine's write completes before
	// the pipe is closed.
	if _, err := readFull(server, make([]byte, n)); err != nil {
		t.Fatalf("reading body: %v", err)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestFrameReaderRecoversFramesAcrossArbitraryChunkBoundaries feeds the
// same two-frame byte stream through the assembler at every chunk size
// from a single byte up to the whole stream at once — the recovered
// frames must be identical and in order regardless of where the reads
// split.
func TestFrameReaderRecoversFramesAcrossArbitraryChunkBoundaries(t *testing.T) {
	bodies := [][]byte{[]byte(`{"type":"a"}`), []byte(`{"type":"bb","n":2}`)}
	var stream []byte
	for _, b := range bodies {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		stream = append(stream, lenBuf[:]...)
		stream = append(stream, b...)
	}

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		fr := &frameReader{state: stateNeedLen}
		for i := 0; i < len(stream); i += chunkSize {
			end := min(i+chunkSize, len(stream))
			if err := fr.feed(stream[i:end]); err != nil {
				t.Fatalf("chunk size %d: feed: %v", chunkSize, err)
			}
		}
		if len(fr.ready) != len(bodies) {
			t.Fatalf("chunk size %d: expected %d frames, got %d", chunkSize, len(bodies), len(fr.ready))
		}
		for j, want := range bodies {
			if string(fr.ready[j]) != string(want) {
				t.Fatalf("chunk size %d: frame %d = %q, want %q", chunkSize, j, fr.ready[j], want)
			}
		}
	}
}
