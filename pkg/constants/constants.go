// Package constants defines the fixed sizes and canned wire responses used
// throughout the proxy.
package constants

const (
	// MaxHeaderSize is the client-side header read buffer cap.
	MaxHeaderSize = 8192

	// ReceiveBufferSize is the client-side recv chunk size for the
	// client-to-server pump loop. Equal to MaxHeaderSize but named
	// separately: the two loops are independently tunable knobs.
	ReceiveBufferSize = MaxHeaderSize

	// ServerSideReceiveBufferSize is the server-side recv chunk size for
	// the Response Forwarder. Equal to MaxHeaderSize but kept as its own
	// named constant for the same reason as ReceiveBufferSize.
	ServerSideReceiveBufferSize = 8192
)

// Canned byte-exact wire responses. Each is sent verbatim; none is built
// through the header serializer.
const (
	// URLBlockedResponse is sent when the request URL matches the keyword
	// filter. No upstream connection is opened.
	URLBlockedResponse = "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: http://www.ida.liu.se/~TDTS04/labs/2011/ass2/error1.html\r\n" +
		"\r\n"

	// ContentBlockedResponse is sent when the response body matches the
	// keyword filter.
	ContentBlockedResponse = "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: http://www.ida.liu.se/~TDTS04/labs/2011/ass2/error2.html\r\n" +
		"Connection: close\r\n" +
		"\r\n"

	// HeaderTooLargeResponse is sent when the request header exceeds
	// MaxHeaderSize without completing.
	HeaderTooLargeResponse = "HTTP/1.1 413 Entity Too Large\r\n\r\n"

	// ConnectionEstablishedResponse is sent to the client for a CONNECT
	// request before tunneling begins.
	ConnectionEstablishedResponse = "HTTP/1.1 200 Connection Established\r\n\r\n"
)
