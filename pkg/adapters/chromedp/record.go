package chromedp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// maxFrames bounds the screencast kept in memory for one attempt.
const maxFrames = 600

// traceEvent is one line of the NDJSON trace.
type traceEvent struct {
	Time     time.Time     `json:"time"`
	Kind     string        `json:"kind"`
	Action   string        `json:"action,omitempty"`
	Target   string        `json:"target,omitempty"`
	URL      string        `json:"url,omitempty"`
	Status   int64         `json:"status,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// recorder collects the trace and screencast of a recording page.
type recorder struct {
	mu     sync.Mutex
	events []traceEvent
	frames [][]byte
	now    func() time.Time
}

func newRecorder(now func() time.Time) *recorder {
	return &recorder{now: now}
}

func (r *recorder) add(ev traceEvent) {
	if r == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) action(name, target string, started time.Time, err error) {
	if r == nil {
		return
	}
	ev := traceEvent{Time: started, Kind: "action", Action: name, Target: target, Duration: r.now().Sub(started)}
	if err != nil {
		ev.Error = err.Error()
	}
	r.add(ev)
}

func (r *recorder) frame(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= maxFrames {
		// Keep the end of the attempt, which is where it failed.
		r.frames = r.frames[1:]
	}
	r.frames = append(r.frames, data)
}

// listen subscribes to console, network and screencast events of the tab.
func (r *recorder) listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			args := make([]string, 0, len(e.Args))
			for _, a := range e.Args {
				if len(a.Value) > 0 {
					args = append(args, string(a.Value))
				} else if a.Description != "" {
					args = append(args, a.Description)
				}
			}
			r.add(traceEvent{Kind: "console", Action: string(e.Type), Message: strings.Join(args, " ")})
		case *runtime.EventExceptionThrown:
			r.add(traceEvent{Kind: "exception", Message: e.ExceptionDetails.Error()})
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument || e.Type == network.ResourceTypeXHR || e.Type == network.ResourceTypeFetch {
				r.add(traceEvent{Kind: "response", URL: e.Response.URL, Status: e.Response.Status})
			}
		case *page.EventScreencastFrame:
			if data, err := base64.StdEncoding.DecodeString(e.Data); err == nil {
				r.frame(data)
			}
			session := e.SessionID
			go func() {
				_ = chromedp.Run(tabCtx, page.ScreencastFrameAck(session))
			}()
		}
	})
}

func startScreencast() chromedp.Action {
	return page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(60).
		WithMaxWidth(1280).
		WithMaxHeight(720).
		WithEveryNthFrame(2)
}

// trace encodes the events as NDJSON.
func (r *recorder) trace() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range r.events {
		_ = enc.Encode(ev)
	}
	return buf.Bytes()
}

// video concatenates the JPEG frames as a Motion JPEG stream.
func (r *recorder) video() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Join(r.frames, nil)
}
