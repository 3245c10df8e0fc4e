package frames

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ReaderConfig holds configuration for a frame stream reader.
type ReaderConfig struct {
	Logger zerolog.Logger
}

// Reader reads frames sequentially from a stream written by Writer.
type Reader struct {
	r      io.Reader
	closer io.Closer
	logger zerolog.Logger

	// Metrics
	TotalFrames int64
	TotalBytes  int64
}

// NewReader creates a frame stream reader on r, reading and validating
// the stream header.
func NewReader(r io.Reader, cfg *ReaderConfig) (*Reader, error) {
	if cfg == nil {
		cfg = &ReaderConfig{}
	}
	fr := &Reader{
		r:      r,
		logger: cfg.Logger.With().Str("component", "frame-reader").Logger(),
	}

	header := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(fr.r, header); err != nil {
		return nil, fmt.Errorf("%w: stream header: %v", ErrCorruptStream, err)
	}
	if !bytes.Equal(header[0:4], StreamMagic) {
		return nil, fmt.Errorf("%w: bad magic bytes", ErrCorruptStream)
	}
	version := binary.BigEndian.Uint16(header[4:6])
	if version != StreamVersion {
		return nil, fmt.Errorf("%w: unsupported version 0x%04x", ErrCorruptStream, version)
	}
	if header[6] != streamChecksumCRC32 {
		return nil, fmt.Errorf("%w: unknown checksum type 0x%02x", ErrCorruptStream, header[6])
	}
	fr.TotalBytes += int64(len(header))
	return fr, nil
}

// Open opens the named file for reading frames. Close releases the file.
func Open(path string, cfg *ReaderConfig) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame file: %w", err)
	}
	r, err := NewReader(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Read returns the next frame in write order, or io.EOF at a clean end of
// stream.
func (r *Reader) Read() (*Frame, error) {
	header := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(r.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: frame header: %v", ErrCorruptStream, err)
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	flags := header[4]
	expectedChecksum := binary.BigEndian.Uint32(header[5:9])

	if payloadLen > maxFramePayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit %d", ErrCorruptStream, payloadLen, maxFramePayload)
	}
	if flags&^uint8(entryFlagZstd) != 0 {
		return nil, fmt.Errorf("%w: unknown flags 0x%02x", ErrCorruptStream, flags)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrCorruptStream, err)
	}
	if checksum := crc32.ChecksumIEEE(payload); checksum != expectedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch (got 0x%08x, want 0x%08x)", ErrCorruptStream, checksum, expectedChecksum)
	}

	if flags&entryFlagZstd != 0 {
		decompressed, err := zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd payload: %v", ErrCorruptStream, err)
		}
		payload = decompressed
	}

	var wf wireFrame
	if err := msgpack.Unmarshal(payload, &wf); err != nil {
		return nil, fmt.Errorf("%w: frame payload: %v", ErrCorruptStream, err)
	}

	frame := NewFrame()
	for _, entry := range wf.Entries {
		v, err := newValue(TypeCode(entry.Type))
		if err != nil {
			return nil, err
		}
		if err := v.UnmarshalFrame(entry.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value %q: %w", entry.Key, err)
		}
		frame.Set(entry.Key, v)
	}

	r.TotalFrames++
	r.TotalBytes += int64(entryHeaderSize) + int64(payloadLen)
	r.logger.Debug().Int("keys", frame.Len()).Msg("Frame read")
	return frame, nil
}

// Close releases the underlying file when the reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}
