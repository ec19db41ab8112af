package client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// httpClient is a shared HTTP client wrapper with configurable timeouts.
type httpClient struct {
	client *http.Client
}

// newHTTPClient creates an HTTP client with default timeouts. There is no
// whole-request timeout: streaming responses stay open as long as the
// provider keeps sending, and callers bound duration via context.
func newHTTPClient() *httpClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second, // connect timeout
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &httpClient{
		client: &http.Client{Transport: transport},
	}
}

// Do executes an HTTP request.
func (hc *httpClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// sseEvent represents a single Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader parses SSE streams from an io.Reader.
type sseReader struct {
	scanner *bufio.Scanner
}

// newSSEReader creates a new SSE parser.
func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next SSE event. Returns io.EOF when the stream ends.
func (r *sseReader) Next() (*sseEvent, error) {
	var event sseEvent
	var dataLines []string
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line = event boundary
		if line == "" {
			if hasData {
				event.Data = strings.Join(dataLines, "\n")
				return &event, nil
			}
			continue
		}

		// Comment lines (starting with :) are ignored
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ") // trim optional single leading space
			dataLines = append(dataLines, data)
			hasData = true
		} else if strings.HasPrefix(line, "retry:") {
			continue
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// If we had accumulated data when stream ended, return it
	if hasData {
		event.Data = strings.Join(dataLines, "\n")
		return &event, nil
	}

	return nil, io.EOF
}

// jsonStream consumes a raw byte stream of JSON values — newline-delimited
// objects or a streamed top-level array — and invokes handle with each
// complete value. Bytes outside a value other than array framing and
// whitespace are a protocol error, as is a stream that ends mid-value.
func jsonStream(r io.Reader, handle func([]byte) error) error {
	br := bufio.NewReader(r)
	var (
		buf      bytes.Buffer
		depth    int
		inString bool
		escaped  bool
	)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			if depth > 0 {
				return &StreamProtocolError{ClientError{
					Message: "stream ended inside a JSON value",
				}}
			}
			return nil
		}
		if err != nil {
			return &TransportError{ClientError{Message: "stream read failed", Cause: err}}
		}

		if depth == 0 {
			switch b {
			case '{':
				depth = 1
				buf.Reset()
				buf.WriteByte(b)
			case '[', ']', ',', ' ', '\t', '\r', '\n':
				// array framing and separators between values
			default:
				return &StreamProtocolError{ClientError{
					Message: fmt.Sprintf("unexpected byte %q in stream", b),
				}}
			}
			continue
		}

		buf.WriteByte(b)
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
			if depth == 0 {
				if err := handle(buf.Bytes()); err != nil {
					return err
				}
			}
		}
	}
}
