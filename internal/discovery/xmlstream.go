package discovery

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// errByteLimit marks a cappedReader overflow so streamLocs can translate it
// into ErrStructuralLimit regardless of how the xml decoder wraps it.
var errByteLimit = errors.New("byte cap exceeded")

// cappedReader fails the stream once more than max bytes have been consumed.
// Unlike io.LimitedReader it surfaces a distinct error instead of a silent
// EOF, so an oversized feed can never be mistaken for a complete one.
type cappedReader struct {
	r         io.Reader
	remaining int64
	over      bool
}

func newCappedReader(r io.Reader, max int64) *cappedReader {
	return &cappedReader{r: r, remaining: max}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.over {
		return 0, errByteLimit
	}
	// Allow one byte past the cap so an exactly-at-cap document still reads
	// to EOF cleanly.
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.over = true
		return 0, errByteLimit
	}
	return n, err
}

// streamLocs extracts <loc> values from a sitemapindex or urlset document
// with a SAX-style token loop: the document is never materialized, memory use
// is bounded by maxLocLen. Exceeding maxBytes or maxLocLen returns
// ErrStructuralLimit. The fn callback may return errStopScan to end the
// stream early, or any other error to abort.
func streamLocs(r io.Reader, maxBytes int64, maxLocLen int, fn func(loc string) error) error {
	capped := newCappedReader(r, maxBytes)
	dec := xml.NewDecoder(capped)

	var (
		inLoc bool
		loc   strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, errByteLimit) || capped.over {
				return fmt.Errorf("document exceeds %d bytes: %w", maxBytes, ErrStructuralLimit)
			}
			return fmt.Errorf("decode sitemap: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				loc.Reset()
			}
		case xml.CharData:
			if !inLoc {
				continue
			}
			if loc.Len()+len(t) > maxLocLen {
				return fmt.Errorf("loc element exceeds %d bytes: %w", maxLocLen, ErrStructuralLimit)
			}
			loc.Write(t)
		case xml.EndElement:
			if t.Name.Local != "loc" {
				continue
			}
			inLoc = false
			value := strings.TrimSpace(loc.String())
			if value == "" {
				continue
			}
			if err := fn(value); err != nil {
				return err
			}
		}
	}
}
