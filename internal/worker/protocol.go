// Package worker runs the capture stage in a child process and moves its
// frames back into the pipeline queue.
package worker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/imatest/internal/types"
)

// Message kinds on the data pipe.
const (
	KindFrame byte = 'F'
	KindEOS   byte = 'E'
)

// Control bytes on the child's stdin.
const (
	CmdPause  byte = 'p'
	CmdResume byte = 'r'
	CmdStop   byte = 's'
)

// MaxMessage bounds a single message so a corrupt header cannot make the
// reader allocate unbounded memory. 8K RGB frames fit comfortably.
const MaxMessage = 128 * 1024 * 1024

const frameHeader = 4 + 4 + 1

var errMessageTooLarge = errors.New("message exceeds maximum size")

// WriteMessage writes [uint32 length][kind][payload] in a single Write so
// concurrent readers never observe a torn header.
func WriteMessage(w io.Writer, kind byte, payload []byte) error {
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[4] = kind
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one message. It returns io.EOF only on a clean message
// boundary; a partial message is io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader) (kind byte, payload []byte, err error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	n := binary.BigEndian.Uint32(header)
	if n == 0 {
		return 0, nil, fmt.Errorf("empty message")
	}
	if n > MaxMessage {
		return 0, nil, fmt.Errorf("%w: %d bytes", errMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

// EncodeFrame serializes f as [uint32 rows][uint32 cols][uint8 channels][pixels].
func EncodeFrame(f types.Frame) []byte {
	buf := make([]byte, frameHeader+len(f.Data))
	binary.BigEndian.PutUint32(buf[0:], uint32(f.Rows))
	binary.BigEndian.PutUint32(buf[4:], uint32(f.Cols))
	buf[8] = byte(f.Channels)
	copy(buf[frameHeader:], f.Data)
	return buf
}

// DecodeFrame parses a frame payload. The pixels alias payload.
func DecodeFrame(payload []byte) (types.Frame, error) {
	if len(payload) < frameHeader {
		return types.Frame{}, fmt.Errorf("frame payload too short: %d bytes", len(payload))
	}
	f := types.Frame{
		Rows:     int(binary.BigEndian.Uint32(payload[0:])),
		Cols:     int(binary.BigEndian.Uint32(payload[4:])),
		Channels: int(payload[8]),
		Data:     payload[frameHeader:],
	}
	if err := f.Validate(); err != nil {
		return types.Frame{}, err
	}
	return f, nil
}
