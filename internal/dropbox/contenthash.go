package dropbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// contentHashBlock is the block size of the Dropbox content hash.
const contentHashBlock = 4 * 1024 * 1024

// contentHasher computes the Dropbox content_hash: the SHA-256 of the
// concatenated SHA-256 digests of each 4 MiB block.
type contentHasher struct {
	overall hash.Hash
	block   hash.Hash
	filled  int
}

func newContentHasher() *contentHasher {
	return &contentHasher{overall: sha256.New(), block: sha256.New()}
}

func (h *contentHasher) Write(p []byte) (int, error) {
	written := len(p)

	for len(p) > 0 {
		n := min(contentHashBlock-h.filled, len(p))

		h.block.Write(p[:n])
		h.filled += n
		p = p[n:]

		if h.filled == contentHashBlock {
			h.flush()
		}
	}

	return written, nil
}

func (h *contentHasher) flush() {
	h.overall.Write(h.block.Sum(nil))
	h.block.Reset()
	h.filled = 0
}

// Sum returns the hex content hash.
func (h *contentHasher) Sum() string {
	if h.filled > 0 {
		h.flush()
	}

	return hex.EncodeToString(h.overall.Sum(nil))
}

// ContentHash hashes everything r yields.
func ContentHash(r io.Reader) (string, error) {
	h := newContentHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("dropbox: hashing content: %w", err)
	}

	return h.Sum(), nil
}
