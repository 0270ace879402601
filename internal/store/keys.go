package store

import (
	"math"
	"strconv"
	"sync"
)

const chunkPrefix = "chunk:"

// Start offsets are encoded as fixed-width milliseconds so that badger's
// lexicographic key order matches time order within a book.
const offsetWidth = 12

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// bookChunkPrefix returns the prefix shared by every chunk of a book.
// The returned slice is valid until releaseKey is called.
func bookChunkPrefix(bookID string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, chunkPrefix...)
	buf = append(buf, bookID...)
	buf = append(buf, ':')
	return buf
}

// chunkKey builds chunk:{bookID}:{startMillis}:{chunkID}.
// The returned slice is valid until releaseKey is called.
func chunkKey(bookID string, start float64, chunkID string) []byte {
	buf := bookChunkPrefix(bookID)
	buf = appendOffset(buf, start)
	buf = append(buf, ':')
	buf = append(buf, chunkID...)
	return buf
}

func appendOffset(buf []byte, seconds float64) []byte {
	ms := int64(math.Round(seconds * 1000))
	digits := strconv.AppendInt(nil, ms, 10)
	for range offsetWidth - len(digits) {
		buf = append(buf, '0')
	}
	return append(buf, digits...)
}

// releaseKey returns a key buffer to the pool for reuse.
// After calling this, the key slice must not be used.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0]) //nolint:staticcheck // slices are fine in the pool
	}
}
