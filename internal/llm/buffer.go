package llm

import (
	"context"
	"strings"
)

// BufferFragments merges consecutive small text fragments into fewer, larger
// ones before forwarding, cutting per-fragment transport overhead. Control
// fragments (error, done) are forwarded immediately, after any buffered text
// flushes, so ordering is preserved and consumers observe them without
// delay. Reasoning text accumulates separately from visible text and flushes
// together with it. A bufferChars of zero disables buffering entirely and
// fragments pass through one to one. Cancelling ctx releases the transform
// even when the consumer has stopped reading.
func BufferFragments(ctx context.Context, in <-chan Fragment, bufferChars int) <-chan Fragment {
	if bufferChars <= 0 {
		return in
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)

		send := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var text, reasoning strings.Builder
		flush := func() bool {
			if text.Len() == 0 && reasoning.Len() == 0 {
				return true
			}
			ok := send(Fragment{Text: text.String(), Reasoning: reasoning.String()})
			text.Reset()
			reasoning.Reset()
			return ok
		}

		for f := range in {
			if f.IsControl() {
				if !flush() || !send(f) {
					return
				}
				continue
			}
			text.WriteString(f.Text)
			reasoning.WriteString(f.Reasoning)
			if text.Len()+reasoning.Len() >= bufferChars {
				if !flush() {
					return
				}
			}
		}
		flush()
	}()
	return out
}

// CollectStream drains a fragment stream into a complete response. A stream
// that ends with an error fragment yields an error-shaped response carrying
// whatever text arrived before the failure.
func CollectStream(stream <-chan Fragment) *Response {
	var text, reasoning strings.Builder
	resp := &Response{}
	for f := range stream {
		text.WriteString(f.Text)
		reasoning.WriteString(f.Reasoning)
		if f.Err != "" {
			resp.Err = f.Err
		}
	}
	resp.Text = text.String()
	resp.Reasoning = reasoning.String()
	return resp
}
