package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/BaSui01/enclaveflow/internal/pool"
)

// DefaultMaxFrameBytes bounds a single frame body.
const DefaultMaxFrameBytes = 8 << 20

const headerSize = 4

// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads one length-prefixed frame. A clean EOF before the header
// is returned as io.EOF.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if uint64(n) > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, n, maxBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body as one frame with a single Write call.
func WriteFrame(w io.Writer, body []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	if len(body) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(body), maxBytes)
	}
	buf := pool.BufferPool.Get()
	defer pool.BufferPool.Put(buf)

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)
	_, err := w.Write(buf.Bytes())
	return err
}
