// Package transport implements the length-prefixed message framing
// used by both the server and client over a plain TCP connection:
// a 4-byte big-endian length prefix followed by exactly that many
// payload bytes.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const lenPrefixSize = 4

// Send writes one framed message to conn: a 4-byte big-endian length
// prefix followed by payload. It retries partial writes until the
// full message is sent or the connection errors.
func Send(conn net.Conn, payload []byte) error {
	var lenBuf [lenPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if err := writeFull(conn, lenBuf[:]); err != nil {
		return fmt.Errorf("transport: failed to send message length: %w", err)
	}
	if err := writeFull(conn, payload); err != nil {
		return fmt.Errorf("transport: failed to send message body: %w", err)
	}
	return nil
}

// Recv reads one framed message from conn, blocking until the full
// length prefix and body have arrived. A connection closed before the
// prefix or the body is complete is an error: io.EOF if none of that
// part had arrived, io.ErrUnexpectedEOF if only some of it had.
func Recv(conn net.Conn) ([]byte, error) {
	var lenBuf [lenPrefixSize]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: failed to read message length: %w", err)
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("transport: failed to read message body: %w", err)
	}
	return body, nil
}

func writeFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrClosedPipe
		}
		total += n
	}
	return nil
}
