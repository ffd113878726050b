// Package iometa provides small io.Writer helpers objwrite uses while
// packing an ELF32 file: counting how many bytes a struc.Pack call
// actually wrote, and padding a section out to its alignment with zeros.
package iometa

import "io"

// CountingWriter wraps an io.Writer and tracks the total bytes written
// through it, so callers composing several struc.PackWithOptions calls in
// sequence can report a running file offset without re-deriving it from
// struct sizes.
type CountingWriter struct {
	Writer       io.Writer
	bytesWritten int
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	written, err := c.Writer.Write(p)
	c.bytesWritten += written
	return written, err
}

// BytesWritten returns the total byte count written so far.
func (c *CountingWriter) BytesWritten() int {
	return c.bytesWritten
}

// WriteZeros writes count zero bytes to w.
func WriteZeros(w io.Writer, count int) error {
	if count <= 0 {
		return nil
	}
	zeros := make([]byte, count)
	_, err := w.Write(zeros)
	return err
}
