package chromedp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_TraceIsNDJSON(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRecorder(func() time.Time { return now })

	r.add(traceEvent{Kind: "response", URL: "https://vault.example/ui/", Status: 200})
	r.action("click", `button["delete"]`, now, errors.New("not visible"))

	sc := bufio.NewScanner(bytes.NewReader(r.trace()))
	var lines []traceEvent
	for sc.Scan() {
		var ev traceEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, int64(200), lines[0].Status)
	assert.Equal(t, "not visible", lines[1].Error)
}

func TestRecorder_FramesAreBounded(t *testing.T) {
	r := newRecorder(time.Now)
	for i := 0; i < maxFrames+5; i++ {
		r.frame([]byte{byte(i % 256)})
	}
	assert.Len(t, r.video(), maxFrames)
	assert.Equal(t, byte(5), r.video()[0], "oldest frames are dropped first")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *recorder
	assert.NotPanics(t, func() {
		r.add(traceEvent{Kind: "x"})
		r.action("goto", "", time.Now(), nil)
	})
}
