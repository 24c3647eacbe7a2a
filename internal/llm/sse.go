package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
)

// sseEvent is one server-sent event: an optional event name and the joined
// data payload.
type sseEvent struct {
	Event string
	Data  []byte
}

// sseMaxLine bounds a single SSE line; providers ship whole JSON payloads on
// one data line.
const sseMaxLine = 8 << 20

// parseSSE reads events until EOF, the context ends, or fn returns an error.
func parseSSE(ctx context.Context, r io.Reader, fn func(sseEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), sseMaxLine)

	var event string
	var data [][]byte
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		ev := sseEvent{Event: event, Data: bytes.Join(data, []byte("\n"))}
		event = ""
		data = nil
		return fn(ev)
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		case strings.HasPrefix(line, ":"):
			// comment, keepalive
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return sc.Err()
}
