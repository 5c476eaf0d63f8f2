package shell

import "io"

// crlfWriter translates lone "\n" into "\r\n", as a terminal with ONLCR set
// would. Canned output uses bare newlines.
type crlfWriter struct {
	w      io.Writer
	lastCR bool
}

// NewCRLFWriter wraps w for PTY sessions
func NewCRLFWriter(w io.Writer) io.Writer {
	return &crlfWriter{w: w}
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' && !c.lastCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		c.lastCR = b == '\r'
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
