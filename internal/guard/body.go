package guard

import (
	"context"
	"io"
	"net/http"
	"time"
)

// readChunkSize is the unit of incremental body reads.
const readChunkSize = 32 * 1024

// ReadError describes why a body read was aborted.
type ReadError struct {
	Status  int
	Message string
	Timeout bool
}

func (e *ReadError) Error() string { return e.Message }

type chunk struct {
	data []byte
	err  error
}

// ReadBody drains body into a fixed-capacity buffer, aborting as soon as
// the running total exceeds byteLimit or declaredLength. The check runs
// after every chunk, so a client cannot smuggle excess bytes under a small
// declared length.
//
// chunkTimeout bounds each individual read, not the whole body: a slow but
// steady trickle completes, a stalled connection is caught promptly. Pass 0
// to disable the per-chunk deadline.
//
// The buffer is allocated once, sized min(byteLimit, declaredLength), on
// the first chunk; empty bodies allocate nothing.
func ReadBody(ctx context.Context, body io.Reader, byteLimit, declaredLength int64, chunkTimeout time.Duration) ([]byte, *ReadError) {
	if body == nil {
		return nil, &ReadError{Status: http.StatusBadRequest, Message: "Bad Request"}
	}

	capacity := byteLimit
	if declaredLength < capacity {
		capacity = declaredLength
	}
	if capacity < 0 {
		capacity = 0
	}

	done := make(chan struct{})
	defer close(done)

	ch := make(chan chunk)
	go func() {
		for {
			p := make([]byte, readChunkSize)
			n, err := body.Read(p)
			select {
			case ch <- chunk{data: p[:n], err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var timer *time.Timer
	var deadline <-chan time.Time
	if chunkTimeout > 0 {
		timer = time.NewTimer(chunkTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var buf []byte
	var total int64
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, &ReadError{Status: http.StatusRequestTimeout, Message: "Request body read timeout", Timeout: true}
			}
			return nil, &ReadError{Status: http.StatusBadRequest, Message: "Bad Request"}

		case <-deadline:
			return nil, &ReadError{Status: http.StatusRequestTimeout, Message: "Request body read timeout", Timeout: true}

		case c := <-ch:
			if len(c.data) > 0 {
				total += int64(len(c.data))
				if total > byteLimit || total > declaredLength {
					return nil, &ReadError{Status: http.StatusRequestEntityTooLarge, Message: "Payload too large"}
				}
				if buf == nil {
					buf = make([]byte, 0, capacity)
				}
				buf = append(buf, c.data...)
			}
			if c.err == io.EOF {
				if buf == nil {
					buf = []byte{}
				}
				return buf, nil
			}
			if c.err != nil {
				return nil, &ReadError{Status: http.StatusBadRequest, Message: "Bad Request"}
			}

			// Restart the per-chunk deadline for the next read.
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(chunkTimeout)
			}
		}
	}
}
