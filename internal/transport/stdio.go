package transport

import "io"

// stdioStream frames a child process's stdin/stdout pipes. The supervisor
// owns spawning the child and handing us these pipes; we only own framing
// and the interruptible close.
type stdioStream struct {
	*framedStream
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// NewStdio wraps a child process's stdin (our writer) and stdout (our
// reader) with Content-Length framing.
func NewStdio(stdin io.WriteCloser, stdout io.ReadCloser) Stream {
	return &stdioStream{
		framedStream: newFramedStream(stdout, stdin, nil),
		stdin:        stdin,
		stdout:       stdout,
	}
}

// Close closes both pipes. Closing stdout unblocks a Read that is
// currently parked in bufio waiting for more child output.
func (s *stdioStream) Close() error {
	err1 := s.stdin.Close()
	err2 := s.stdout.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
