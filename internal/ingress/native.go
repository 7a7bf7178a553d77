package ingress

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/posture/internal/engine"
)

// MaxNativeMessageSize bounds a native-messaging frame in either
// direction. Events relayed to the daemon must also fit MaxMessageSize
// once compacted.
const MaxNativeMessageSize = 1024 * 1024

// ReadNativeMessage reads one length-prefixed message: a 4-byte
// little-endian length followed by that many bytes of JSON. It returns
// io.EOF when the stream ends cleanly before a length prefix.
func ReadNativeMessage(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated length prefix: %w", err)
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxNativeMessageSize {
		return nil, fmt.Errorf("native message of %d bytes exceeds %d", n, MaxNativeMessageSize)
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("reading %d-byte message: %w", n, err)
	}
	return msg, nil
}

// WriteNativeMessage writes msg with its length prefix.
func WriteNativeMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxNativeMessageSize {
		return fmt.Errorf("native message of %d bytes exceeds %d", len(msg), MaxNativeMessageSize)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// eventLine turns a browser message into one ingress line. Valid JSON
// is compacted; anything else has its line breaks blanked so the daemon
// still sees, and rejects, a single line. Lines over MaxMessageSize are
// refused here rather than cut off by the daemon mid-write.
func eventLine(msg []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg); err == nil {
		msg = buf.Bytes()
	} else {
		msg = bytes.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, msg)
	}
	if len(msg) > MaxMessageSize {
		return nil, fmt.Errorf("event of %d bytes exceeds %d", len(msg), MaxMessageSize)
	}
	return msg, nil
}

// Forwarder delivers one raw event to the daemon.
type Forwarder func(ctx context.Context, raw []byte) (Ack, error)

// SocketForwarder forwards raw messages to the ingress socket at path.
func SocketForwarder(path string) Forwarder {
	return func(ctx context.Context, raw []byte) (Ack, error) {
		acks, err := SendRaw(ctx, path, raw)
		if err != nil {
			return Ack{}, err
		}
		return acks[0], nil
	}
}

// RunNativeHost relays messages from a browser extension to the daemon
// until in reaches EOF. Each message is answered on out with the daemon's
// ack, or with an error ack when the daemon cannot be reached; a
// delivery failure does not end the host.
func RunNativeHost(ctx context.Context, in io.Reader, out io.Writer, forward Forwarder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := ReadNativeMessage(in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var ack Ack
		line, err := eventLine(msg)
		if err != nil {
			logger.Warn("event rejected", "error", err)
			ack = Ack{OK: false, Status: string(engine.StatusMalformed), Error: err.Error()}
		} else if ack, err = forward(ctx, line); err != nil {
			logger.Warn("daemon notify failed", "error", err)
			ack = Ack{OK: false, Error: err.Error()}
		}

		data, err := json.Marshal(ack)
		if err != nil {
			return err
		}
		if err := WriteNativeMessage(out, data); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
}
