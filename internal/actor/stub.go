package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/signalix/identity/internal/apperr"
)

// Stub addresses one key of a namespace.
type Stub struct {
	ns  *Namespace
	key string
}

// Key returns the addressed key.
func (s *Stub) Key() string { return s.key }

// Call sends method+path with in encoded as the JSON body and decodes the
// instance's JSON reply into out. Error replies come back as *apperr.Error.
// If ctx ends first Call returns the context error; the instance still
// finishes the call if it already started it.
func (s *Stub) Call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = b
	}

	for {
		inst, err := s.ns.instance(s.key)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, "http://"+s.ns.opts.Name+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build %s %s: %w", method, path, err)
		}
		req.Header.Set("Content-Type", "application/json")

		c := &call{ctx: ctx, req: req, done: make(chan reply, 1)}
		if !inst.enqueue(c) {
			continue
		}

		select {
		case r := <-c.done:
			if r.retry {
				continue
			}
			if r.err != nil {
				return fmt.Errorf("actor %s: %s %s: %w", s.ns.opts.Name, method, path, r.err)
			}
			return decodeReply(r.rec, out)
		case <-ctx.Done():
			return fmt.Errorf("actor %s: %s %s: %w", s.ns.opts.Name, method, path, ctx.Err())
		}
	}
}

func decodeReply(rec *recorder, out any) error {
	if rec.status >= http.StatusBadRequest {
		var env errorBody
		if err := json.Unmarshal(rec.body.Bytes(), &env); err != nil || env.Code == "" {
			return apperr.Internal(fmt.Sprintf("actor replied %d", rec.status))
		}
		return apperr.New(apperr.KindForStatus(rec.status), env.Code, env.Message)
	}
	if out == nil || rec.body.Len() == 0 {
		return nil
	}
	if err := json.Unmarshal(rec.body.Bytes(), out); err != nil {
		return fmt.Errorf("decode actor reply: %w", err)
	}
	return nil
}

// recorder is the in-process ResponseWriter an instance writes its reply to.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}
