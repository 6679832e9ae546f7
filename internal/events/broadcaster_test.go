package events

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/sift/api"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	assert.Equal(t, 2, b.Count())

	b.Unsubscribe(ch1)
	assert.Equal(t, 1, b.Count())

	// Double unsubscribe must not panic on a closed channel.
	b.Unsubscribe(ch1)
	b.Unsubscribe(ch2)
	assert.Equal(t, 0, b.Count())
}

func TestBroadcasterEmit(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Emit(api.EventGitStatusUpdated, api.GitStatusEvent{Root: "/repo"})

	select {
	case ev := <-ch:
		assert.Equal(t, api.EventGitStatusUpdated, ev.Name)
		assert.Equal(t, "/repo", ev.Payload.(api.GitStatusEvent).Root)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterEmit_DropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Emit("tick", i)
	}
	assert.Len(t, ch, 64)
}

func TestBroadcasterEmit_KeepsFinalEvent(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 1; i <= 80; i++ {
		b.Emit(api.EventFileTokenCounts, api.TokenCountsEvent{
			SelectionID:     "sel",
			TotalTokenCount: i,
			Done:            i == 80,
		})
	}
	b.Emit(api.EventGitTokenCounts, api.GitTokenCountsEvent{Root: "/r", Done: true})

	var got []Event
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	require.Len(t, got, 64)

	var files, git int
	for _, ev := range got {
		switch p := ev.Payload.(type) {
		case api.TokenCountsEvent:
			if p.Done {
				files++
				assert.Equal(t, 80, p.TotalTokenCount)
			}
		case api.GitTokenCountsEvent:
			git++
		}
	}
	assert.Equal(t, 1, files, "file run's final event survives the overflow")
	assert.Equal(t, 1, git)
	assert.Equal(t, api.EventGitTokenCounts, got[len(got)-1].Name)
}

func TestBroadcasterEmit_FullOfFinalEventsDoesNotSpin(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 70; i++ {
			b.Emit(api.EventGitTokenCounts, api.GitTokenCountsEvent{Root: "/r", Done: true})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit did not return")
	}
	assert.Len(t, ch, 64)
}

func TestWriterSink_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	s.Emit(api.EventFileTokenCounts, api.TokenCountsEvent{SelectionID: "00000000000000ff", Done: true})
	s.Emit(api.EventGitTokenCounts, api.GitTokenCountsEvent{Root: "/r", Files: map[string]int{"a.go": 3}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"file-token-counts"`)
	assert.Contains(t, lines[0], `"selectionId":"00000000000000ff"`)
	assert.Contains(t, lines[1], `"a.go":3`)
}

func TestMulti(t *testing.T) {
	b1, b2 := NewBroadcaster(), NewBroadcaster()
	c1, c2 := b1.Subscribe(), b2.Subscribe()
	defer b1.Unsubscribe(c1)
	defer b2.Unsubscribe(c2)

	Multi{b1, Discard, b2}.Emit("x", 1)
	assert.Len(t, c1, 1)
	assert.Len(t, c2, 1)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit("a", 1)
	r.Emit("b", 2)
	r.Emit("a", 3)

	assert.Len(t, r.Events(), 3)
	got := r.Events("a")
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[1].Payload)

	r.Reset()
	assert.Empty(t, r.Events())
}
