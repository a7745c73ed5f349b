package psfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

type DecompressOptions struct {
	// Strict turns an early end of the block stream into TruncatedInput
	// instead of a warning.
	Strict bool
}

// ChunkReader yields the decompressed blocks of one PSARC entry. Blocks are
// either zlib streams or stored raw, an entry that does not start with a
// zlib header is read raw as a whole.
type ChunkReader struct {
	src       io.Reader
	size      uint64
	blockSize int
	opts      DecompressOptions

	data     []byte
	produced uint64
	started  bool
	raw      bool
	srcDone  bool
	done     bool
}

// DecompressStream returns an iterator over the blocks of an entry whose
// data starts at the current position of src.
func DecompressStream(src io.Reader, unpackedSize uint64, blockSize uint32, opts DecompressOptions) *ChunkReader {
	if blockSize == 0 {
		blockSize = 0x10000
	}
	return &ChunkReader{src: src, size: unpackedSize, blockSize: int(blockSize), opts: opts}
}

func isZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return data[0] == 0x78 && binary.BigEndian.Uint16(data[:2])%31 == 0
}

// fill tops the pending input up by one block when less than a block is left.
func (c *ChunkReader) fill() error {
	if c.srcDone || len(c.data) >= c.blockSize {
		return nil
	}
	return c.readMore()
}

func (c *ChunkReader) readMore() error {
	buf := make([]byte, c.blockSize)
	n, err := io.ReadFull(c.src, buf)
	c.data = append(c.data, buf[:n]...)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		c.srcDone = true
		return nil
	}
	return err
}

// Next returns the next decompressed chunk, or io.EOF once the declared
// size has been produced.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.done || c.produced >= c.size {
		c.done = true
		return nil, io.EOF
	}
	if err := c.fill(); err != nil {
		return nil, err
	}
	if !c.started {
		c.started = true
		c.raw = len(c.data) == 0 || c.data[0] != 0x78
	}
	if len(c.data) == 0 {
		return c.stopEarly()
	}

	var chunk []byte
	if !c.raw && isZlibHeader(c.data) {
		var err error
		if chunk, err = c.inflate(); err != nil {
			return nil, err
		}
	} else {
		n := c.blockSize
		if left := c.size - c.produced; uint64(n) > left {
			n = int(left)
		}
		if n > len(c.data) {
			n = len(c.data)
		}
		chunk = c.data[:n]
		c.data = c.data[n:]
	}
	if len(chunk) == 0 {
		return c.stopEarly()
	}
	c.produced += uint64(len(chunk))
	return chunk, nil
}

// inflate decompresses one zlib stream from the pending input and keeps
// whatever follows it for the next call.
func (c *ChunkReader) inflate() ([]byte, error) {
	for {
		br := bytes.NewReader(c.data)
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, wrapError(TruncatedInput, "zlib header", err)
		}
		out, err := io.ReadAll(zr)
		zr.Close()
		if err == nil {
			c.data = c.data[len(c.data)-br.Len():]
			return out, nil
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) || c.srcDone {
			return nil, wrapError(TruncatedInput, "zlib block", err)
		}
		if err := c.readMore(); err != nil {
			return nil, err
		}
	}
}

func (c *ChunkReader) stopEarly() ([]byte, error) {
	c.done = true
	if c.opts.Strict {
		return nil, newError(TruncatedInput, "decompressed size", c.size, c.produced)
	}
	zap.S().Warnf("Block stream ended after %v of %v bytes", c.produced, c.size)
	return nil, io.EOF
}

// Reader adapts the iterator to io.Reader.
func (c *ChunkReader) Reader() io.Reader {
	return &chunkStream{chunks: c}
}

type chunkStream struct {
	chunks  *ChunkReader
	pending []byte
}

func (s *chunkStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		chunk, err := s.chunks.Next()
		if err != nil {
			return 0, err
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
