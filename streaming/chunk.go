// Package streaming implements provider-agnostic SSE chunk parsing, a
// managed server-sent-event framing layer, and an adaptive backpressure
// controller for downstream-limited consumers.
package streaming

import (
	"bufio"
	"io"
	"strings"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/graph/value"
)

// Chunk is one unit of a parsed streaming response.
type Chunk struct {
	Content  string
	IsFinal  bool
	Metadata value.Value
}

const doneSentinel = "[DONE]"
const dataPrefix = "data: "

// ParseSSE reads upstream provider SSE bytes and yields a sequence of
// Chunks on the first channel, tolerating partial frames split across reads
// by relying on bufio.Scanner's line buffering. Lines not prefixed with
// "data: " are ignored (provider SSE framing also carries blank separator
// lines and, for some providers, "event: " lines this parser treats as
// opaque). A malformed payload ends the chunk sequence and sends exactly
// one *graph.DeserializationError on the error channel; callers should
// drain both channels until the chunk channel closes.
func ParseSSE(r io.Reader, parsePayload func(raw []byte) (Chunk, error)) (<-chan Chunk, <-chan error) {
	ch := make(chan Chunk)
	errCh := make(chan error, 1)
	go func() {
		defer close(ch)
		defer close(errCh)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, dataPrefix) {
				continue
			}
			payload := strings.TrimPrefix(line, dataPrefix)
			if payload == doneSentinel {
				ch <- Chunk{IsFinal: true}
				return
			}

			chunk, err := parsePayload([]byte(payload))
			if err != nil {
				errCh <- &graph.DeserializationError{Cause: err}
				return
			}
			ch <- chunk
			if chunk.IsFinal {
				return
			}
		}
	}()
	return ch, errCh
}
