package http

import (
	"bytes"
	"net/http"

	"github.com/rhuss/trickle/pkg/stream"
	"github.com/rhuss/trickle/pkg/transport"
)

// doneEvent terminates an event stream.
var doneEvent = []byte("data: [DONE]\n\n")

// EventStream turns resp into a server-sent event stream. Every body chunk
// becomes one event, formatted as:
//
//	event: {event}\n
//	data: {line}\n
//	\n
//
// with one data line per line of the chunk. After the last chunk it sends:
//
//	data: [DONE]\n
//	\n
//
// An empty event name omits the event line.
func EventStream(resp *transport.Response, event string) *transport.Response {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("Content-Type", "text/event-stream")
	resp.Header.Set("Cache-Control", "no-cache")
	resp.Header.Set("Connection", "keep-alive")

	body := resp.Body
	if body == nil {
		body = stream.FromChunks()
	}
	resp.Body = stream.Concat(
		stream.Map(body, func(chunk []byte) []byte { return formatEvent(event, chunk) }),
		stream.FromChunks(doneEvent),
	)
	return resp
}

func formatEvent(event string, data []byte) []byte {
	var b bytes.Buffer
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	for _, line := range bytes.Split(data, []byte("\n")) {
		b.WriteString("data: ")
		b.Write(bytes.TrimSuffix(line, []byte("\r")))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}
