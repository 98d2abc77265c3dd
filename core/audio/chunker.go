package audio

import "sync"

// Chunker regroups arbitrarily sized device buffers into chunks that each
// cover the same amount of audio, so downstream consumers see a fixed
// cadence regardless of the device period size.
type Chunker struct {
	mu        sync.Mutex
	chunkSize int
	pending   []byte
	onChunk   func([]byte)
}

// NewChunker returns a chunker emitting chunkSize-byte chunks. A non-positive
// chunkSize passes every write straight through.
func NewChunker(chunkSize int, onChunk func([]byte)) *Chunker {
	if onChunk == nil {
		onChunk = func([]byte) {}
	}
	return &Chunker{chunkSize: chunkSize, onChunk: onChunk}
}

func (c *Chunker) Write(p []byte) {
	if len(p) == 0 {
		return
	}

	c.mu.Lock()
	if c.chunkSize <= 0 {
		c.mu.Unlock()
		chunk := make([]byte, len(p))
		copy(chunk, p)
		c.onChunk(chunk)
		return
	}

	c.pending = append(c.pending, p...)
	var ready [][]byte
	for len(c.pending) >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		copy(chunk, c.pending[:c.chunkSize])
		ready = append(ready, chunk)
		c.pending = c.pending[c.chunkSize:]
	}
	c.mu.Unlock()

	for _, chunk := range ready {
		c.onChunk(chunk)
	}
}

// Flush emits whatever is buffered as a final short chunk.
func (c *Chunker) Flush() {
	c.mu.Lock()
	rest := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(rest) > 0 {
		c.onChunk(rest)
	}
}

// Reset drops buffered audio without emitting it.
func (c *Chunker) Reset() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}
