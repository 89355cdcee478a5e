// Package extract pulls best-effort plain text out of downloaded scan
// documents. It is deliberately forgiving: any parse problem yields ""
// rather than an error, because a scan with no extractable text still
// gets a tracked note downstream.
package extract

import (
	"bytes"
	"compress/zlib"
	"io"
	"strings"
)

// maxDecodedBytes caps decompression output per stream to keep a
// malformed document from exhausting memory.
const maxDecodedBytes = 8 << 20

// PDF extracts text from PDF content streams. Scanned-image PDFs with no
// embedded text layer produce "".
type PDF struct{}

// NewPDF returns a PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// Extract implements the extractor contract: best effort, never fails.
func (p *PDF) Extract(data []byte) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return ""
	}

	var out strings.Builder
	for _, stream := range contentStreams(data) {
		decodeTextOps(stream, &out)
	}
	return strings.TrimSpace(out.String())
}

// contentStreams returns the decoded bodies of all stream objects.
// Flate-compressed streams are inflated; other filters are skipped by
// virtue of producing no text operators.
func contentStreams(data []byte) [][]byte {
	var streams [][]byte
	rest := data
	for {
		start := bytes.Index(rest, []byte("stream"))
		if start < 0 {
			break
		}
		body := rest[start+len("stream"):]
		// The keyword is followed by CRLF or LF before the data.
		body = bytes.TrimPrefix(body, []byte("\r\n"))
		body = bytes.TrimPrefix(body, []byte("\n"))

		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			break
		}
		raw := bytes.TrimRight(body[:end], "\r\n")

		if inflated, ok := inflate(raw); ok {
			streams = append(streams, inflated)
		} else {
			streams = append(streams, raw)
		}
		rest = body[end+len("endstream"):]
	}
	return streams
}

func inflate(raw []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedBytes))
	if err != nil && len(out) == 0 {
		return nil, false
	}
	return out, true
}

// decodeTextOps walks a content stream and appends the operands of the
// text-showing operators (Tj, ', ", TJ) inside BT/ET blocks. Positioning
// operators that start a new line (Td, TD, T*, ', ") emit newlines so
// the output roughly preserves line structure.
func decodeTextOps(stream []byte, out *strings.Builder) {
	inText := false
	var pending []string // string operands since the last operator

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			s, next := literalString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] != '<':
			s, next := hexString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '[':
			// Array — keep collecting; TJ handles the accumulated strings.
			i++
		case isRegular(c):
			tok, next := token(stream, i)
			switch tok {
			case "BT":
				inText = true
				pending = pending[:0]
			case "ET":
				inText = false
				pending = pending[:0]
			case "Tj", "TJ":
				if inText {
					for _, s := range pending {
						out.WriteString(s)
					}
				}
				pending = pending[:0]
			case "'", "\"":
				if inText {
					out.WriteByte('\n')
					for _, s := range pending {
						out.WriteString(s)
					}
				}
				pending = pending[:0]
			case "Td", "TD", "T*":
				if inText {
					out.WriteByte('\n')
				}
				pending = pending[:0]
			default:
				// Any other operator consumes pending operands.
				if len(tok) > 0 && !isNumeric(tok) {
					pending = pending[:0]
				}
			}
			i = next
		default:
			i++
		}
	}
}

// literalString decodes a PDF literal string starting at the '(' and
// returns the decoded text plus the index just past the closing ')'.
func literalString(stream []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return b.String(), i + 1
			}
			i++
			switch stream[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
				// ignored
			case '(', ')', '\\':
				b.WriteByte(stream[i])
			case '\n':
				// line continuation
			default:
				if stream[i] >= '0' && stream[i] <= '7' {
					code := 0
					n := 0
					for n < 3 && i < len(stream) && stream[i] >= '0' && stream[i] <= '7' {
						code = code*8 + int(stream[i]-'0')
						i++
						n++
					}
					i--
					if code > 0 && code < 128 {
						b.WriteByte(byte(code))
					}
				}
			}
			i++
		case '(':
			depth++
			if depth > 1 {
				b.WriteByte(c)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

// hexString decodes a PDF hex string starting at '<' and returns the
// decoded text plus the index just past the closing '>'.
func hexString(stream []byte, start int) (string, int) {
	var b strings.Builder
	var hi int = -1
	i := start + 1
	for i < len(stream) {
		c := stream[i]
		if c == '>' {
			if hi >= 0 {
				// Odd digit count: final digit implies trailing zero.
				b.WriteByte(byte(hi << 4))
			}
			return printable(b.String()), i + 1
		}
		if v, ok := hexVal(c); ok {
			if hi < 0 {
				hi = v
			} else {
				b.WriteByte(byte(hi<<4 | v))
				hi = -1
			}
		}
		i++
	}
	return printable(b.String()), i
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// printable drops bytes outside the printable ASCII range. Hex strings
// frequently carry glyph indices from subset fonts that are not text.
func printable(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\t' || (c >= ' ' && c < 0x7f) {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// token reads one operator or numeric token.
func token(stream []byte, start int) (string, int) {
	i := start
	for i < len(stream) && isRegular(stream[i]) {
		i++
	}
	return string(stream[start:i]), i
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func isNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}
