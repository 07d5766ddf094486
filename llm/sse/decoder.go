// Package sse decodes streaming HTTP response bodies into protocol frames.
//
// Vendors stream either Server-Sent-Events (blocks of "data:" lines separated
// by a blank line) or newline-delimited JSON. Some proxies switch between the
// two, so the Decoder picks the format from what it has seen so far.
package sse

import (
	"strings"
)

// DoneMarker is the payload that terminates a stream.
const DoneMarker = "[DONE]"

const maxTranscript = 4 << 20

// Frame is one decoded unit of stream data: the joined "data:" lines of an
// SSE block, or one NDJSON line.
type Frame struct {
	Data string
	Done bool
}

// Mode is the framing the decoder is currently applying.
type Mode int

const (
	ModeNDJSON Mode = iota
	ModeSSE
)

func (m Mode) String() string {
	if m == ModeSSE {
		return "sse"
	}
	return "ndjson"
}

// IsSSE reports whether buffered text carries SSE framing.
func IsSSE(buf string) bool {
	return strings.Contains(buf, "data:")
}

// Decoder turns arbitrarily split body chunks into frames. It keeps any
// incomplete tail buffered until the next chunk arrives. A Decoder belongs to
// a single stream and is not safe for concurrent use.
type Decoder struct {
	buf       string
	pendingCR bool
	mode      Mode
	done      bool

	transcript strings.Builder
	truncated  bool
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{mode: ModeNDJSON}
}

// Feed appends a chunk and returns every frame it completes, in arrival
// order. After a DoneMarker frame it returns nothing.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if d.done || len(chunk) == 0 {
		return nil
	}

	s := d.normalize(string(chunk))
	d.record(s)
	d.buf += s

	// Detection runs once per chunk and is sticky: once a stream has shown
	// SSE framing it stays SSE.
	if d.mode != ModeSSE && IsSSE(d.buf) {
		d.mode = ModeSSE
	}

	return d.drain()
}

// Finish flushes the decoder at end of body. A trailing SSE block or NDJSON
// line that was never terminated is returned as a final frame.
func (d *Decoder) Finish() []Frame {
	if d.done {
		return nil
	}
	if d.pendingCR {
		d.pendingCR = false
		d.buf += "\n"
		d.record("\n")
	}

	frames := d.drain()
	if d.done || strings.TrimSpace(d.buf) == "" {
		return frames
	}

	var (
		f  Frame
		ok bool
	)
	if d.mode == ModeSSE {
		f, ok = blockFrame(d.buf)
	} else {
		f, ok = lineFrame(d.buf)
	}
	if ok {
		d.buf = ""
		if f.Done {
			d.done = true
		}
		frames = append(frames, f)
	}
	return frames
}

// Done reports whether a DoneMarker frame has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Mode returns the framing currently in effect.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Remaining returns the unconsumed buffer.
func (d *Decoder) Remaining() string {
	return d.buf
}

// Body returns every normalized byte fed so far, bounded to a few MiB. It
// backs the last-chance whole-document parse when a stream was really one
// non-chunked JSON body.
func (d *Decoder) Body() string {
	return d.transcript.String()
}

// Truncated reports whether Body stopped recording.
func (d *Decoder) Truncated() bool {
	return d.truncated
}

// normalize rewrites CRLF and lone CR to LF. A CR at the very end of a chunk
// is held back so a CRLF pair split across chunks is not read as two breaks.
func (d *Decoder) normalize(s string) string {
	if d.pendingCR {
		s = "\r" + s
		d.pendingCR = false
	}
	if strings.HasSuffix(s, "\r") {
		s = s[:len(s)-1]
		d.pendingCR = true
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func (d *Decoder) record(s string) {
	if d.truncated {
		return
	}
	if d.transcript.Len()+len(s) > maxTranscript {
		d.truncated = true
		return
	}
	d.transcript.WriteString(s)
}

func (d *Decoder) drain() []Frame {
	var frames []Frame
	for !d.done {
		var (
			f        Frame
			ok, more bool
		)
		if d.mode == ModeSSE {
			f, ok, more = d.nextBlock()
		} else {
			f, ok, more = d.nextLine()
		}
		if !more {
			break
		}
		if !ok {
			continue
		}
		if f.Done {
			d.done = true
		}
		frames = append(frames, f)
	}
	return frames
}

// nextBlock consumes one "\n\n"-delimited SSE block. more is false when no
// complete block is buffered.
func (d *Decoder) nextBlock() (f Frame, ok, more bool) {
	idx := strings.Index(d.buf, "\n\n")
	if idx < 0 {
		return Frame{}, false, false
	}
	block := d.buf[:idx]
	d.buf = d.buf[idx+2:]
	f, ok = blockFrame(block)
	return f, ok, true
}

// nextLine consumes one NDJSON line. more is false when no complete line is
// buffered.
func (d *Decoder) nextLine() (f Frame, ok, more bool) {
	idx := strings.IndexByte(d.buf, '\n')
	if idx < 0 {
		return Frame{}, false, false
	}
	line := d.buf[:idx]
	d.buf = d.buf[idx+1:]
	f, ok = lineFrame(line)
	return f, ok, true
}

// blockFrame joins the data lines of one SSE block. Blocks with no data
// lines (comments, bare event names) yield nothing.
func blockFrame(block string) (Frame, bool) {
	var data []string
	for _, line := range strings.Split(block, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		v := strings.TrimPrefix(line, "data:")
		data = append(data, strings.TrimPrefix(v, " "))
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	payload := strings.Join(data, "\n")
	if strings.TrimSpace(payload) == DoneMarker {
		return Frame{Data: DoneMarker, Done: true}, true
	}
	return Frame{Data: payload}, true
}

// lineFrame accepts JSON-looking lines and the done marker.
func lineFrame(line string) (Frame, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "", strings.HasPrefix(line, "data:"):
		return Frame{}, false
	case line == DoneMarker:
		return Frame{Data: DoneMarker, Done: true}, true
	case strings.HasPrefix(line, "{"), strings.HasPrefix(line, "["):
		return Frame{Data: line}, true
	default:
		return Frame{}, false
	}
}
