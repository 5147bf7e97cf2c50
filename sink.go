package parallelknighttour

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// TourSink receives textual dumps of discovered closed tours. Sinks are not
// required to be safe for concurrent use; the search aggregator serializes
// every append under its lock.
type TourSink interface {
	AppendTour(b *Board) error
}

// dumpBoard writes one tour block: rows from the top row down to row 0, each
// cell value followed by a single space, one blank line terminating the
// block.
func dumpBoard(w io.Writer, b *Board) error {
	for y := b.height - 1; y >= 0; y-- {
		for x := 0; x < b.width; x++ {
			if _, err := fmt.Fprintf(w, "%d ", b.At(Cell{X: x, Y: y})); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// String returns the board in tour dump format.
func (b *Board) String() string {
	var sb strings.Builder
	_ = dumpBoard(&sb, b) // strings.Builder never fails
	return sb.String()
}

// WriterTourSink appends tour dumps to an arbitrary writer. Useful for tests
// and for destinations acquired by the caller.
type WriterTourSink struct {
	w io.Writer
}

// NewWriterTourSink wraps w as a sink.
func NewWriterTourSink(w io.Writer) *WriterTourSink {
	return &WriterTourSink{w: w}
}

// AppendTour writes one tour block to the underlying writer.
func (s *WriterTourSink) AppendTour(b *Board) error {
	return dumpBoard(s.w, b)
}

// FileTourSink appends tour dumps to a file, creating it when missing. The
// file is opened append-only so successive runs accumulate results.
type FileTourSink struct {
	file *os.File
	buf  *bufio.Writer
}

// NewFileTourSink opens path for appending. Failing to open the sink is
// fatal for a run: it must be checked before any search attempt starts.
func NewFileTourSink(path string) (*FileTourSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result sink: %w", err)
	}
	return &FileTourSink{file: f, buf: bufio.NewWriter(f)}, nil
}

// AppendTour writes one tour block and flushes it to the file, so every
// recorded tour is durable even if the process dies mid-run.
func (s *FileTourSink) AppendTour(b *Board) error {
	if err := dumpBoard(s.buf, b); err != nil {
		return err
	}
	return s.buf.Flush()
}

// Close flushes buffered output and closes the file.
func (s *FileTourSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// CompressedFileSink appends zstd-compressed tour dumps, for long runs where
// the plain text file would grow without bound. The stream only becomes a
// complete zstd frame on Close.
type CompressedFileSink struct {
	file *os.File
	enc  *zstd.Encoder
}

// NewCompressedFileSink opens path for appending and layers a zstd encoder
// over it. level is a zstd compression level (1-22).
func NewCompressedFileSink(path string, level int) (*CompressedFileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result sink: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &CompressedFileSink{file: f, enc: enc}, nil
}

// AppendTour writes one tour block into the compressed stream.
func (s *CompressedFileSink) AppendTour(b *Board) error {
	return dumpBoard(s.enc, b)
}

// Close finishes the zstd frame and closes the file.
func (s *CompressedFileSink) Close() error {
	if err := s.enc.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
