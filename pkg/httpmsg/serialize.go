package httpmsg

import (
	"strconv"
	"strings"
)

// Length returns the exact byte size SerializeRequest would produce for
// req, without allocating the serialized form.
func Length(req *Request) int {
	n := len(req.Method) + 1 + len(req.Target) + len(" HTTP/") + len(req.Version) + 2
	for _, f := range req.Fields.Fields() {
		n += len(f.Key) + len(": ") + len(f.Value) + 2
	}
	n += 2
	return n
}

// SerializeRequest emits req back to wire form:
// METHOD SP target SP HTTP/version CRLF, followed by each "name: value"
// CRLF line in insertion order, terminated by a blank CRLF line.
func SerializeRequest(req *Request) []byte {
	var b strings.Builder
	b.Grow(Length(req))

	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.Target)
	b.WriteString(" HTTP/")
	b.WriteString(req.Version)
	b.WriteString("\r\n")

	for _, f := range req.Fields.Fields() {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")

	return []byte(b.String())
}

// StatusCode parses the response's Status field as an integer. No
// component in this proxy relies on it (the content filter gate only
// inspects Content-Type/Content-Encoding); it is provided for callers
// that need a numeric status.
func (r *Response) StatusCode() (int, error) {
	return strconv.Atoi(r.Status)
}
