package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// lengthPrefixSize is the size of the big-endian frame length header
	lengthPrefixSize = 2

	// MaxFrameSize is the largest frame body, handshake or ciphertext
	MaxFrameSize = 65535

	// tagSize is the ChaCha20-Poly1305 authentication tag length
	tagSize = 16

	// MaxPlaintextSize is the most application data one frame carries
	MaxPlaintextSize = MaxFrameSize - tagSize
)

var (
	// ErrFrameTooLarge indicates a frame body over MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrHandshakeFailed indicates the Noise handshake did not complete
	ErrHandshakeFailed = errors.New("secure handshake failed")
)

// writeFrame writes data behind its length prefix in a single Write so
// concurrent writers cannot interleave a header with another body.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	frame := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint16(frame, uint16(len(data)))
	copy(frame[lengthPrefixSize:], data)

	_, err := w.Write(frame)
	return err
}

// readFrame reads one frame. A clean end of stream before the header is
// io.EOF; a stream that ends inside a frame is io.ErrUnexpectedEOF.
func readFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
