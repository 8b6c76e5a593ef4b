package streamjson

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated is returned by Trailer when the stream closed before the
// envelope terminated. Objects already decoded remain valid partial results.
var ErrTruncated = errors.New("stream ended before the envelope closed")

// Decoder reads a streaming envelope incrementally. Complete top-level
// objects inside the results array are surfaced one at a time; comment
// heartbeats between objects are skipped.
type Decoder struct {
	r         *bufio.Reader
	inArray   bool
	arrayDone bool
	trailer   []byte
	err       error
}

// NewDecoder wraps the stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete object from the results array. io.EOF marks
// the clean end of the array; io.ErrUnexpectedEOF an early connection close.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.arrayDone {
		return nil, io.EOF
	}

	if !d.inArray {
		if err := d.seekArray(); err != nil {
			d.err = err
			return nil, err
		}
		d.inArray = true
	}

	for {
		b, err := d.readSkippingComments()
		if err != nil {
			d.err = fail(err)
			return nil, d.err
		}
		switch {
		case b == ',' || isSpace(b):
			continue
		case b == ']':
			d.arrayDone = true
			if err := d.collectTrailer(); err != nil {
				d.err = err
				return nil, err
			}
			d.err = io.EOF
			return nil, io.EOF
		case b == '{':
			obj, err := d.readObject()
			if err != nil {
				d.err = err
				return nil, err
			}
			return obj, nil
		default:
			d.err = fmt.Errorf("unexpected byte %q in results array", b)
			return nil, d.err
		}
	}
}

// Trailer parses the envelope fields after the results array. Valid once Next
// has returned io.EOF.
func (d *Decoder) Trailer() (totalProcessed int, err error) {
	if !d.arrayDone {
		return 0, ErrTruncated
	}
	var fields struct {
		TotalProcessed int `json:"totalProcessed"`
	}
	if jsonErr := json.Unmarshal(d.trailer, &fields); jsonErr != nil {
		return 0, fmt.Errorf("parse trailer: %w", jsonErr)
	}
	return fields.TotalProcessed, nil
}

// seekArray consumes the envelope prelude up to the opening bracket of the
// results array.
func (d *Decoder) seekArray() error {
	depth := 0
	for {
		b, err := d.readSkippingComments()
		if err != nil {
			return fail(err)
		}
		switch b {
		case '"':
			if err := d.skipString(); err != nil {
				return err
			}
		case '{':
			depth++
		case '[':
			if depth == 1 {
				return nil
			}
		}
	}
}

// readObject consumes one already-opened object, tracking brace depth while
// respecting string literals and escapes.
func (d *Decoder) readObject() (json.RawMessage, error) {
	buf := []byte{'{'}
	depth := 1
	inString := false
	escaped := false

	for depth > 0 {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, fail(err)
		}
		buf = append(buf, b)

		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return json.RawMessage(buf), nil
}

// collectTrailer buffers everything after the closing bracket and rewraps it
// as a JSON object for Trailer to parse.
func (d *Decoder) collectTrailer() error {
	rest, err := io.ReadAll(d.r)
	if err != nil {
		return fail(err)
	}
	// rest looks like `,"totalProcessed":N,...}`; swap the leading comma for
	// an opening brace to make it a standalone object.
	for len(rest) > 0 && isSpace(rest[0]) {
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] != ',' {
		return fmt.Errorf("envelope trailer missing after results array")
	}
	d.trailer = append([]byte{'{'}, rest[1:]...)
	return nil
}

// readSkippingComments returns the next byte outside of /* */ comments.
func (d *Decoder) readSkippingComments() (byte, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != '/' {
			return b, nil
		}
		next, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if next != '*' {
			return 0, fmt.Errorf("unexpected byte %q after '/'", next)
		}
		if err := d.skipComment(); err != nil {
			return 0, err
		}
	}
}

func (d *Decoder) skipComment() error {
	var prev byte
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == '*' && b == '/' {
			return nil
		}
		prev = b
	}
}

func (d *Decoder) skipString() error {
	escaped := false
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return fail(err)
		}
		switch {
		case escaped:
			escaped = false
		case b == '\\':
			escaped = true
		case b == '"':
			return nil
		}
	}
}

// Collect drains the stream into a result slice, tolerating early close: a
// truncated stream returns the objects seen so far along with
// io.ErrUnexpectedEOF.
func Collect(r io.Reader) ([]json.RawMessage, int, error) {
	d := NewDecoder(r)
	var out []json.RawMessage
	for {
		obj, err := d.Next()
		if errors.Is(err, io.EOF) {
			total, tErr := d.Trailer()
			return out, total, tErr
		}
		if err != nil {
			return out, len(out), err
		}
		out = append(out, obj)
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func fail(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
