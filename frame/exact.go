package frame

import "io"

// ReadExact reads len(buf) bytes from r, looping over short reads.
//
// It returns io.EOF only if no bytes were read, and io.ErrUnexpectedEOF if
// the stream ended after a partial fill. A reader that keeps returning zero
// bytes without an error yields io.ErrNoProgress instead of spinning.
func ReadExact(r io.Reader, buf []byte) (int, error) {
	total := 0
	empty := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if total >= len(buf) {
			return total, nil
		}
		if err != nil {
			if err == io.EOF && total > 0 {
				return total, io.ErrUnexpectedEOF
			}
			return total, err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return total, io.ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return total, nil
}

// WriteFull writes all of buf to w, looping over short writes.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}
