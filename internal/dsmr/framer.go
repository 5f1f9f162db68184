package dsmr

import (
	"bufio"
	"bytes"
	"io"
)

// Framer cuts a raw P1 byte stream into telegram frames. Bytes before the
// first '/' are discarded, which resynchronises after a partial read.
type Framer struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 2048)}
}

// ReadTelegram returns the next frame from '/' up to and including the
// checksum. The slice is only valid until the next call. ErrTooLong is
// returned for oversized frames; the framer can be used again afterwards.
func (f *Framer) ReadTelegram() ([]byte, error) {
	f.buf.Reset()

	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '/' {
			f.buf.WriteByte(b)
			break
		}
	}

	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '/' {
			// A new header inside a frame means the previous one was cut off.
			f.buf.Reset()
		}
		f.buf.WriteByte(b)
		if b == '!' {
			break
		}
		if f.buf.Len() > MaxTelegramSize {
			return nil, ErrTooLong
		}
	}

	// The checksum line. DSMR 2/3 meters end with a bare "!\r\n".
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			f.buf.WriteByte(b)
		}
		if f.buf.Len() > MaxTelegramSize {
			return nil, ErrTooLong
		}
	}
	return f.buf.Bytes(), nil
}
