package streaming_test

import (
	"strings"
	"testing"

	"github.com/conductorhq/conductor-go/graph"
	. "github.com/conductorhq/conductor-go/streaming"
	"github.com/conductorhq/conductor-go/streaming/provider"
)

func TestParseSSEEmitsChunksAndDoneSentinel(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n" +
		"data: [DONE]\n"

	ch, errCh := ParseSSE(strings.NewReader(input), provider.ParseOpenAI)

	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks (2 content + done), got %d", len(got))
	}
	if got[0].Content != "hel" || got[1].Content != "lo" {
		t.Fatalf("unexpected content: %+v", got)
	}
	if !got[2].IsFinal {
		t.Fatalf("expected final chunk from [DONE] sentinel")
	}
}

func TestParseSSEStopsOnMalformedPayload(t *testing.T) {
	input := "data: not json\n" + "data: {\"choices\":[{\"delta\":{\"content\":\"never reached\"}}]}\n"

	ch, errCh := ParseSSE(strings.NewReader(input), provider.ParseOpenAI)

	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 0 {
		t.Fatalf("expected no chunks after a malformed payload, got %d", len(got))
	}
	err := <-errCh
	var deserErr *graph.DeserializationError
	if err == nil {
		t.Fatal("expected a DeserializationError on the error channel")
	}
	if de, ok := err.(*graph.DeserializationError); !ok {
		t.Fatalf("expected *graph.DeserializationError, got %T: %v", err, err)
	} else {
		deserErr = de
	}
	if deserErr.Cause == nil {
		t.Fatal("expected DeserializationError to wrap the parse failure")
	}
}

func TestParseAnthropicMessageStop(t *testing.T) {
	input := "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n" +
		"data: {\"type\":\"message_stop\",\"delta\":{\"text\":\"\"}}\n" +
		"data: [DONE]\n"

	ch, errCh := ParseSSE(strings.NewReader(input), provider.ParseAnthropic)
	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected stream to stop at message_stop chunk, got %d", len(got))
	}
	if got[0].Content != "hi" {
		t.Fatalf("unexpected first chunk: %+v", got[0])
	}
	if !got[1].IsFinal {
		t.Fatalf("expected message_stop chunk to be final")
	}
}
