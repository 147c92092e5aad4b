// Package httpmsg parses and serializes HTTP/1.1 request and response
// start lines and field blocks from raw byte buffers.
package httpmsg

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/keywordgate/proxy/pkg/fieldmap"
	"github.com/keywordgate/proxy/pkg/perrors"
)

// HeaderEndMarker terminates a header block.
const HeaderEndMarker = "\r\n\r\n"

var (
	requestLineRegex  = regexp.MustCompile(`^([A-Z]+) (\S+) HTTP/([^\r\n]+)`)
	responseLineRegex = regexp.MustCompile(`^HTTP/(\S+) ([0-9]+) ([^\r\n]*)`)
	fieldLineRegex    = regexp.MustCompile(`^([^:\r\n]*): ([^\r\n]*)`)
)

// Request holds the parsed start line and fields of an HTTP request.
type Request struct {
	Method  string
	Target  string
	Version string
	Fields  *fieldmap.Map
}

// Response holds the parsed start line and fields of an HTTP response.
type Response struct {
	Version string
	Status  string
	Reason  string
	Fields  *fieldmap.Map
}

// FindHeaderEnd returns the index of the end of the header block (the
// first byte past "\r\n\r\n"), or -1 if buf does not yet contain one.
func FindHeaderEnd(buf []byte) int {
	idx := bytes.Index(buf, []byte(HeaderEndMarker))
	if idx == -1 {
		return -1
	}
	return idx + len(HeaderEndMarker)
}

// ParseRequestHeader locates the end-of-header marker in buf, parses the
// request line and fields, and returns the request plus the number of
// bytes consumed (through the blank line). It returns a perrors.Error of
// TypeNotHTTP if the marker is not yet present (recoverable: read more),
// or TypeNoMatch if the start line does not fit the expected shape (fatal).
func ParseRequestHeader(buf []byte) (*Request, int, error) {
	end := FindHeaderEnd(buf)
	if end == -1 {
		return nil, 0, perrors.NewNotHTTPError("header block incomplete")
	}

	headerStr := string(buf[:end])

	loc := requestLineRegex.FindStringSubmatchIndex(headerStr)
	if loc == nil {
		return nil, 0, perrors.NewNoMatchError("parse", "request start line did not match")
	}

	req := &Request{
		Method:  headerStr[loc[2]:loc[3]],
		Target:  headerStr[loc[4]:loc[5]],
		Version: headerStr[loc[6]:loc[7]],
		Fields:  fieldmap.New(),
	}

	rest := strings.TrimPrefix(headerStr[loc[1]:], "\r\n")
	parseFields(req.Fields, rest)

	return req, end, nil
}

// ParseResponseHeader locates the end-of-header marker in buf, parses the
// status line and fields, and returns the response plus the number of
// bytes consumed. Error semantics match ParseRequestHeader.
func ParseResponseHeader(buf []byte) (*Response, int, error) {
	end := FindHeaderEnd(buf)
	if end == -1 {
		return nil, 0, perrors.NewNotHTTPError("header block incomplete")
	}

	headerStr := string(buf[:end])

	loc := responseLineRegex.FindStringSubmatchIndex(headerStr)
	if loc == nil {
		return nil, 0, perrors.NewNoMatchError("parse", "response start line did not match")
	}

	resp := &Response{
		Version: headerStr[loc[2]:loc[3]],
		Status:  headerStr[loc[4]:loc[5]],
		Reason:  headerStr[loc[6]:loc[7]],
		Fields:  fieldmap.New(),
	}

	rest := strings.TrimPrefix(headerStr[loc[1]:], "\r\n")
	parseFields(resp.Fields, rest)

	return resp, end, nil
}

// parseFields repeatedly matches "name: value" at the start of the
// remaining text, appending each to fields, until a line fails to match.
// A malformed or missing colon terminates field parsing silently.
func parseFields(fields *fieldmap.Map, text string) {
	rest := text
	for {
		loc := fieldLineRegex.FindStringSubmatchIndex(rest)
		if loc == nil || loc[0] != 0 {
			return
		}

		key := rest[loc[2]:loc[3]]
		value := rest[loc[4]:loc[5]]
		fields.Append(key, value)

		rest = strings.TrimPrefix(rest[loc[1]:], "\r\n")
	}
}
