// ============================================================================
// Rpool Wire Framing
// ============================================================================
//
// Package: internal/pool
// File: wire.go
// Function: Frames TaskEnvelope/ResultEnvelope values for the byte-stream
// transport between the controller and a worker subprocess.
//
// Unlike the Python original this design distills — where in_q/out_q are
// multiprocessing.Queue objects riding on pickle and an OS pipe the runtime
// already frames for you — a Go worker is a real child process talking over
// plain stdin/stdout pipes, so framing is this implementation's problem.
// Each frame is a 4-byte big-endian length prefix, a 4-byte CRC32-IEEE
// checksum, then the gob-encoded payload. The checksum approach is adapted
// from internal/storage/wal/checksum.go's CRC32-over-key-fields technique,
// repurposed from checksumming a WAL event to checksumming an IPC frame.
//
// ============================================================================

package pool

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
)

const maxFrameSize = 64 << 20 // 64MiB, generous ceiling against corrupt length prefixes

// writeFrame encodes v with gob, then writes [length][crc32][payload] to w.
// A nil v encodes the end-of-stream sentinel as a zero-length payload.
func writeFrame(w io.Writer, v interface{}) error {
	var payload []byte
	if v != nil {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return fmt.Errorf("wire: encode frame: %w", err)
		}
		payload = buf.Bytes()
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// readFrame reads one frame from r and decodes it into v. A zero-length
// payload (the sentinel) leaves v untouched and returns ok=false.
func readFrame(r *bufio.Reader, v interface{}) (ok bool, err error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return false, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])
	if length > maxFrameSize {
		return false, fmt.Errorf("wire: frame of %d bytes exceeds limit", length)
	}
	if length == 0 {
		if wantCRC != crc32.ChecksumIEEE(nil) {
			return false, fmt.Errorf("wire: sentinel checksum mismatch")
		}
		return false, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return false, err
	}
	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return false, fmt.Errorf("wire: checksum mismatch: want %08x got %08x", wantCRC, gotCRC)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return false, fmt.Errorf("wire: decode frame: %w", err)
	}
	return true, nil
}
