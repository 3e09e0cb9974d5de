// Package eventpipe implements the one-way, signal-safe, framed
// channel from the Message Handler helper to the main process (spec
// §4.7). It is built over an os.Pipe() pair — process-local, not a
// network socket — with a length-prefixed tagged-record wire format:
// a 4-byte big-endian tag, a 4-byte big-endian payload length, then
// the gob-encoded payload.
package eventpipe

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cuemby/tasklaunch/pkg/types"
)

// Tag identifies a frame's variant, matching spec §3's EventPipeFrame
// sum type.
type Tag uint32

const (
	TagHostState Tag = iota + 1
	TagTaskState
	TagTaskExit
	TagJobState
	TagSignalAck
	TagProcTableSize
	TagProcDesc
	TagDebugState
)

// Frame is the flattened payload carried after the tag/length header;
// only the fields relevant to Tag are populated by the writer, and
// only those fields should be read by the consumer.
type Frame struct {
	Tag Tag

	NodeIndex int
	TaskID    int
	Code      int
	Host      types.HostState
	Task      types.TaskState
	Job       types.JobState
	SigNum    int
	Count     int
	PID       int
	HostName  string
	ExecName  string
	Debug     types.DebugState
}

// Writer serializes frames onto the pipe's write end. A nil error
// from WriteFrame guarantees the whole frame reached the OS pipe
// buffer (short writes are retried internally); per spec §4.7 the
// writer blocks on write when the pipe buffer is full — this is
// intentional back-pressure, not a bug.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// NewWriter wraps the write end of an os.Pipe().
func NewWriter(f *os.File) *Writer {
	return &Writer{w: f, f: f}
}

// WriteFrame encodes and writes one frame. Writes from multiple
// goroutines are serialized so a frame's bytes are never interleaved
// with another's (single-writer by construction per spec §5, but the
// helper may have multiple RPC handler goroutines feeding this
// writer).
func (w *Writer) WriteFrame(fr Frame) error {
	var buf []byte
	{
		enc := gobEncoder()
		if err := enc.enc.Encode(fr); err != nil {
			return fmt.Errorf("eventpipe: encode frame: %w", err)
		}
		buf = enc.buf.Bytes()
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(fr.Tag))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(buf)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := writeFull(w.w, header); err != nil {
		return fmt.Errorf("eventpipe: write header: %w", err)
	}
	if _, err := writeFull(w.w, buf); err != nil {
		return fmt.Errorf("eventpipe: write payload: %w", err)
	}
	return nil
}

// Close closes the underlying write end, causing the reader to
// observe io.EOF once it drains remaining buffered frames.
func (w *Writer) Close() error { return w.f.Close() }

// File returns the underlying *os.File for handing the write end to a
// re-exec'd helper process via exec.Cmd.ExtraFiles.
func (w *Writer) File() *os.File { return w.f }

func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Reader reassembles whole frames from the pipe's read end, looping
// on short reads.
type Reader struct {
	r *bufio.Reader
	f *os.File
}

// NewReader wraps the read end of an os.Pipe().
func NewReader(f *os.File) *Reader {
	return &Reader{r: bufio.NewReader(f), f: f}
}

// ReadFrame blocks until a full frame is available, returning io.EOF
// only once the writer has closed its end and no further bytes
// remain.
func (r *Reader) ReadFrame() (Frame, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r.r, header); err != nil {
		return Frame{}, err
	}
	tag := Tag(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("eventpipe: short payload read: %w", err)
	}

	var fr Frame
	if err := gobDecode(payload, &fr); err != nil {
		return Frame{}, fmt.Errorf("eventpipe: decode frame: %w", err)
	}
	fr.Tag = tag
	return fr, nil
}

// Close closes the underlying read end.
func (r *Reader) Close() error { return r.f.Close() }

// NewPipe creates an os.Pipe() and wraps its ends as Writer/Reader,
// the shape pkg/msghandler uses to hand the write end to the forked
// helper via exec.Cmd.ExtraFiles and keep the read end in the main
// process.
func NewPipe() (*Reader, *Writer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("eventpipe: create pipe: %w", err)
	}
	return NewReader(r), NewWriter(w), nil
}
