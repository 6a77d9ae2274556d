package ethercat

import "io"

// ProcessImage is the exchange buffer of an activated domain.
// It is owned by the master driver, the runtime layer only reads and
// writes through offsets obtained at registration.
type ProcessImage interface {
	io.ReaderAt
	io.WriterAt
	Size() int
}

// Buffer is a [ProcessImage] backed by a plain byte slice
type Buffer []byte

func (b Buffer) Size() int {
	return len(b)
}

func (b Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(b)) {
		return 0, ErrOutOfRange
	}
	return copy(p, b[off:]), nil
}

func (b Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(b)) {
		return 0, ErrOutOfRange
	}
	return copy(b[off:], p), nil
}
