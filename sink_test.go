package parallelknighttour

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullBoard2x2 fills a 2x2 board with steps 1..4.
func fullBoard2x2() *Board {
	b := NewBoard(2, 2)
	b.Mark(Cell{0, 0}, 1)
	b.Mark(Cell{1, 0}, 2)
	b.Mark(Cell{0, 1}, 3)
	b.Mark(Cell{1, 1}, 4)
	return b
}

func TestBoardDumpFormat(t *testing.T) {
	b := fullBoard2x2()

	// Rows from the top row down to row 0, each value followed by one
	// space, blank line terminating the block.
	assert.Equal(t, "3 4 \n1 2 \n\n", b.String())
}

func TestWriterTourSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewWriterTourSink(&out)

	require.NoError(t, sink.AppendTour(fullBoard2x2()))
	require.NoError(t, sink.AppendTour(fullBoard2x2()))

	assert.Equal(t, "3 4 \n1 2 \n\n3 4 \n1 2 \n\n", out.String())
}

func TestFileTourSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ClosedTour.txt")

	sink, err := NewFileTourSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.AppendTour(fullBoard2x2()))
	require.NoError(t, sink.Close())

	// A second run must append, not truncate.
	sink, err = NewFileTourSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.AppendTour(fullBoard2x2()))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3 4 \n1 2 \n\n3 4 \n1 2 \n\n", string(data))
}

func TestFileTourSinkUnopenablePath(t *testing.T) {
	_, err := NewFileTourSink(filepath.Join(t.TempDir(), "missing", "ClosedTour.txt"))
	assert.Error(t, err)
}

func TestCompressedFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ClosedTour.txt.zst")

	sink, err := NewCompressedFileSink(path, 3)
	require.NoError(t, err)
	require.NoError(t, sink.AppendTour(fullBoard2x2()))
	require.NoError(t, sink.AppendTour(fullBoard2x2()))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	data, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, "3 4 \n1 2 \n\n3 4 \n1 2 \n\n", string(data))
}
