package relay

import (
	"context"
	"errors"
	"sync"
)

// Stream is the result of an operation. It collects the files the operation
// produces and every error it surfaces, and ends exactly once.
//
// Streams returned by SFTP in write mode and by Dest also accept input: files
// are handed over with Send and the input is finished with CloseSend. Such a
// stream ends after the last input file has been processed, or at the first
// failure.
//
// Errors are never dropped. Callers must check the error returned by Wait
// (or Err) even when files were produced.
type Stream struct {
	name    string
	onData  func([]byte)
	onError func(error)

	mu      sync.Mutex
	files   []*File
	errs    []error
	started bool
	ended   bool
	done    chan struct{}

	in        chan *File
	inDone    chan struct{}
	closeSend sync.Once
	detached  chan struct{} // closed when the connection goes away under a transform stream
	detach1   sync.Once
}

func newStream(name string, onData func([]byte), onError func(error)) *Stream {
	return &Stream{
		name:    name,
		onData:  onData,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// newTransformStream returns a stream that accepts input and is considered
// started immediately, since its worker runs from creation.
func newTransformStream(name string, onError func(error)) *Stream {
	s := newStream(name, nil, onError)
	s.in = make(chan *File)
	s.inDone = make(chan struct{})
	s.detached = make(chan struct{})
	s.started = true

	return s
}

// Name returns the operation name the stream was created for.
func (s *Stream) Name() string {
	return s.name
}

// Done returns a channel that is closed when the stream ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream ends or ctx is done and returns the produced
// files together with the joined errors. Cancelling ctx does not stop the
// operation.
func (s *Stream) Wait(ctx context.Context) ([]*File, error) {
	select {
	case <-s.done:
		return s.Files(), s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Files returns the files emitted so far.
func (s *Stream) Files() []*File {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*File(nil), s.files...)
}

// Err returns every error surfaced so far joined with errors.Join, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.errs...)
}

// Send hands f to the operation, blocking until it is accepted, the stream
// ends or ctx is done. Once the stream has ended, Send returns the stream's
// error, or ErrStreamClosed if there is none.
func (s *Stream) Send(ctx context.Context, f *File) error {
	if s.in == nil {
		return ErrReadOnlyStream
	}

	select {
	case <-s.inDone:
		return ErrStreamClosed
	default:
	}

	select {
	case s.in <- f:
		return nil
	case <-s.inDone:
		return ErrStreamClosed
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}

		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSend marks the end of input. Safe to call more than once.
func (s *Stream) CloseSend() {
	if s.in == nil {
		return
	}

	s.closeSend.Do(func() { close(s.inDone) })
}

// SendAll sends every file in order and then calls CloseSend. It stops at
// the first failed Send and returns its error; CloseSend is still called.
func (s *Stream) SendAll(ctx context.Context, files ...*File) error {
	defer s.CloseSend()

	for _, f := range files {
		if err := s.Send(ctx, f); err != nil {
			return err
		}
	}

	return nil
}

// next returns the next input file. ok is false once the input is closed,
// the connection is gone or the stream has ended.
func (s *Stream) next() (*File, bool) {
	select {
	case f := <-s.in:
		return f, true
	case <-s.inDone:
		return nil, false
	case <-s.detached:
		return nil, false
	case <-s.done:
		return nil, false
	}
}

func (s *Stream) emit(f *File) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()

		return
	}

	s.files = append(s.files, f)
	s.mu.Unlock()
}

func (s *Stream) data(chunk []byte) {
	if s.onData != nil {
		s.onData(chunk)
	}
}

// fail records err. Errors surfaced after the stream ended are discarded.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()

		return
	}

	s.errs = append(s.errs, err)
	s.mu.Unlock()

	if s.onError != nil {
		s.onError(err)
	}
}

// failed reports whether any error has been recorded.
func (s *Stream) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.errs) > 0
}

// begin marks the operation's start routine as running. It returns false if
// the stream already ended, in which case the routine must not run.
func (s *Stream) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false
	}

	s.started = true

	return true
}

func (s *Stream) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()

		return
	}

	s.ended = true
	s.mu.Unlock()

	close(s.done)
}

func (s *Stream) connError(err error) {
	s.fail(err)
}

// connClosed ends a stream whose start routine never ran. Streams that are
// already running find out through their own channel errors, except transform
// streams, whose worker may be idle waiting for input: they are detached and
// their worker stops at the next input.
func (s *Stream) connClosed() {
	if s.detached != nil {
		s.detach()

		return
	}

	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()

		return
	}

	report := len(s.errs) == 0
	if report {
		s.errs = append(s.errs, ErrConnectionClosed)
	}

	s.ended = true
	s.mu.Unlock()

	if report && s.onError != nil {
		s.onError(ErrConnectionClosed)
	}

	close(s.done)
}

func (s *Stream) detach() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()

		return
	}

	report := len(s.errs) == 0
	if report {
		s.errs = append(s.errs, ErrConnectionClosed)
	}
	s.mu.Unlock()

	if report && s.onError != nil {
		s.onError(ErrConnectionClosed)
	}

	s.detach1.Do(func() { close(s.detached) })
}
