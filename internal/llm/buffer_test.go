package llm

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamOf(fragments ...Fragment) <-chan Fragment {
	ch := make(chan Fragment, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func drain(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func concatText(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f.Text)
	}
	return b.String()
}

func TestBufferFragments_RoundTrip(t *testing.T) {
	inputs := []Fragment{
		{Text: "Hel"}, {Text: "lo "}, {Text: "wor"}, {Text: "ld, "},
		{Text: "this "}, {Text: "is "}, {Text: "a "}, {Text: "stream"},
		{Done: true},
	}
	out := drain(BufferFragments(context.Background(), streamOf(inputs...), 10))

	// No loss, no duplication, no mutation of the text.
	assert.Equal(t, concatText(inputs), concatText(out))
	// Merging happened: fewer output fragments than input fragments.
	assert.Less(t, len(out), len(inputs))
	// The done fragment survives as its own fragment at the end.
	last := out[len(out)-1]
	assert.True(t, last.Done)
	assert.Empty(t, last.Text)
}

func TestBufferFragments_ZeroDisablesBuffering(t *testing.T) {
	inputs := []Fragment{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Done: true}}
	out := drain(BufferFragments(context.Background(), streamOf(inputs...), 0))

	// Pass-through: one-to-one forwarding.
	assert.Equal(t, inputs, out)
}

func TestBufferFragments_ErrorForwardedImmediately(t *testing.T) {
	inputs := []Fragment{
		{Text: "partial "},
		{Err: "backend died"},
		{Text: "late text"},
		{Done: true},
	}
	out := drain(BufferFragments(context.Background(), streamOf(inputs...), 1000))

	require.Len(t, out, 4)
	// Buffered text flushes first, then the error arrives unmerged.
	assert.Equal(t, "partial ", out[0].Text)
	assert.Equal(t, "backend died", out[1].Err)
	assert.Empty(t, out[1].Text)
	assert.Equal(t, "late text", out[2].Text)
	assert.True(t, out[3].Done)
}

func TestBufferFragments_ReasoningAccumulatesSeparately(t *testing.T) {
	inputs := []Fragment{
		{Text: "answer ", Reasoning: "think "},
		{Text: "text", Reasoning: "more"},
		{Done: true},
	}
	out := drain(BufferFragments(context.Background(), streamOf(inputs...), 1000))

	require.Len(t, out, 2)
	assert.Equal(t, "answer text", out[0].Text)
	assert.Equal(t, "think more", out[0].Reasoning)
	assert.True(t, out[1].Done)
}

func TestBufferFragments_FlushesTailWithoutDone(t *testing.T) {
	inputs := []Fragment{{Text: "tail text"}}
	out := drain(BufferFragments(context.Background(), streamOf(inputs...), 1000))

	require.Len(t, out, 1)
	assert.Equal(t, "tail text", out[0].Text)
}

func TestBufferFragments_CancellationReleasesAbandonedStream(t *testing.T) {
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Fragment, 1)
	in <- Fragment{Text: "never read"}
	close(in)

	// Nobody ever reads the output; the pending flush must not pin the
	// transform goroutine once the context is cancelled.
	_ = BufferFragments(ctx, in, 1000)
	cancel()

	// Poll inline rather than with require.Eventually: Eventually runs its
	// condition in a goroutine of its own, which keeps NumGoroutine above
	// the baseline and makes the condition unsatisfiable.
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		require.False(t, time.Now().After(deadline), "transform goroutine not released")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCollectStream(t *testing.T) {
	resp := CollectStream(streamOf(
		Fragment{Text: "partial ", Reasoning: "thought"},
		Fragment{Err: "stream broke"},
	))

	assert.Equal(t, "partial ", resp.Text)
	assert.Equal(t, "thought", resp.Reasoning)
	assert.True(t, resp.Failed())
}
