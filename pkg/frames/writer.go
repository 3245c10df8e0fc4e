package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Stream format constants
var (
	StreamMagic   = []byte{'F', 'R', 'M', '1'} // Magic bytes
	StreamVersion = uint16(0x0001)             // Version 1
)

const (
	streamChecksumCRC32 = 0x01 // CRC32 checksum type

	// Entry format: [Length: 4 bytes] [Flags: 1 byte] [Checksum: 4 bytes] [Payload: N bytes]
	entryHeaderSize  = 9
	streamHeaderSize = 7 // Magic(4) + Version(2) + ChecksumType(1)

	entryFlagZstd = 0x01 // payload is zstd-compressed

	// maxFramePayload bounds a single frame's serialized payload. The
	// limit caps buffer allocation when reading untrusted streams.
	maxFramePayload = 1 << 30
)

// ErrCorruptStream indicates a frame stream that cannot be read: bad
// magic, checksum failure, or a truncated or oversized entry.
var ErrCorruptStream = errors.New("corrupt frame stream")

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDec, _ = zstd.NewReader(nil)
}

// Compression selects how frame payloads are stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// wireEntry is one keyed value inside a frame's serialized payload.
type wireEntry struct {
	Key  string `msgpack:"k"`
	Type uint8  `msgpack:"t"`
	Data []byte `msgpack:"d"`
}

// wireFrame is the serialized payload of one frame.
type wireFrame struct {
	Entries []wireEntry `msgpack:"e"`
}

// WriterConfig holds configuration for a frame stream writer.
type WriterConfig struct {
	Compression Compression // payload compression (default: none)
	Logger      zerolog.Logger
}

// Writer writes frames sequentially to a stream. Each Write snapshots the
// frame's values before returning, so mutating a container afterwards
// never alters a written record.
type Writer struct {
	w      io.Writer
	closer io.Closer
	config WriterConfig
	logger zerolog.Logger

	// Metrics
	TotalFrames int64
	TotalBytes  int64
}

// NewWriter creates a frame stream writer on w and writes the stream
// header.
func NewWriter(w io.Writer, cfg *WriterConfig) (*Writer, error) {
	if cfg == nil {
		cfg = &WriterConfig{}
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}

	fw := &Writer{
		w:      w,
		config: *cfg,
		logger: cfg.Logger.With().Str("component", "frame-writer").Logger(),
	}

	header := make([]byte, streamHeaderSize)
	copy(header[0:4], StreamMagic)
	binary.BigEndian.PutUint16(header[4:6], StreamVersion)
	header[6] = streamChecksumCRC32
	if _, err := fw.w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write stream header: %w", err)
	}
	fw.TotalBytes += int64(len(header))

	fw.logger.Debug().Str("compression", string(cfg.Compression)).Msg("Frame stream opened for writing")
	return fw, nil
}

// Create creates or truncates the named file and returns a Writer on it.
// Close releases the file.
func Create(path string, cfg *WriterConfig) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame file: %w", err)
	}
	w, err := NewWriter(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write serializes f and appends it to the stream.
func (w *Writer) Write(f *Frame) error {
	var wf wireFrame
	wf.Entries = make([]wireEntry, 0, f.Len())
	for _, key := range f.keys {
		v := f.values[key]
		data, err := v.MarshalFrame()
		if err != nil {
			return fmt.Errorf("failed to marshal value %q: %w", key, err)
		}
		wf.Entries = append(wf.Entries, wireEntry{
			Key:  key,
			Type: uint8(v.FrameType()),
			Data: data,
		})
	}

	payload, err := msgpack.Marshal(&wf)
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	var flags uint8
	if w.config.Compression == CompressionZstd {
		compressed := zstdEnc.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= entryFlagZstd
		}
	}
	if len(payload) > maxFramePayload {
		return fmt.Errorf("frame payload of %d bytes exceeds limit %d", len(payload), maxFramePayload)
	}

	entry := make([]byte, entryHeaderSize+len(payload))
	binary.BigEndian.PutUint32(entry[0:4], uint32(len(payload)))
	entry[4] = flags
	binary.BigEndian.PutUint32(entry[5:9], crc32.ChecksumIEEE(payload))
	copy(entry[entryHeaderSize:], payload)

	n, err := w.w.Write(entry)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.TotalFrames++
	w.TotalBytes += int64(n)
	w.logger.Debug().Int("keys", f.Len()).Int("bytes", n).Msg("Frame written")
	return nil
}

// Close releases the underlying file when the writer owns one.
func (w *Writer) Close() error {
	if w.closer != nil {
		err := w.closer.Close()
		w.closer = nil
		w.logger.Debug().Int64("frames", w.TotalFrames).Int64("bytes", w.TotalBytes).Msg("Frame stream closed")
		return err
	}
	return nil
}
