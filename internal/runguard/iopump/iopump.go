// Package iopump implements the I/O Pump (SPEC_FULL.md §4.4): copies a
// child's stdout/stderr pipe to a sink (file or passthrough fd) while
// counting bytes and enforcing a sticky truncation cap. Fast path is a
// zero-copy splice(2) via golang.org/x/sys/unix.Splice; on EINVAL it
// falls back permanently to a buffered read/write loop, mirroring
// runguard.cc's pump_pipes(). This corpus's closest analogue is the
// teacher's engine_linux.go, which already drives raw golang.org/x/sys
// syscalls around an exec.Cmd rather than only io.Copy, for the same
// reason: io.Copy cannot report the splice/non-splice distinction this
// package's fallback bookkeeping needs.
package iopump

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const bufSize = 4096

// Stream is one of the two pumped descriptors (stdout/stderr); kept as a
// type so callers cannot mix up index 0/1 with the spec's counters[0..2]
// numbering, which reserves index 0 for stdin.
type Stream int

const (
	Stdout Stream = 1
	Stderr Stream = 2
)

// Pump copies from a pipe read end to a sink, enforcing capBytes.
type Pump struct {
	src          *os.File
	dst          *os.File
	cap          int64 // -1 = unlimited
	read         int64
	passed       int64
	spliceFailed bool
	closed       bool
}

// New creates a Pump. cap < 0 means unlimited (config.Unlimited).
func New(src, dst *os.File, capBytes int64) *Pump {
	return &Pump{src: src, dst: dst, cap: capBytes}
}

// BytesRead returns bytes_read[i]: total bytes taken off the pipe.
func (p *Pump) BytesRead() int64 { return p.read }

// BytesPassed returns bytes_passed[i]: bytes actually delivered to dst.
func (p *Pump) BytesPassed() int64 { return p.passed }

// Truncated reports whether the stream hit its cap.
func (p *Pump) Truncated() bool {
	return p.cap >= 0 && p.passed >= p.cap
}

// Closed reports whether EOF has been observed and the source closed.
func (p *Pump) Closed() bool { return p.closed }

// Pump performs one non-blocking transfer attempt, returning the number
// of bytes moved off the pipe (read, not necessarily passed through).
// Callers drive this from a select/ready-fd loop; it never blocks once
// the source fd is non-blocking (the caller is responsible for that).
func (p *Pump) Pump() (int64, error) {
	if p.closed {
		return 0, nil
	}
	if !p.spliceFailed {
		n, err := p.pumpSplice()
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EINVAL) {
			p.spliceFailed = true
		} else if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		} else if errors.Is(err, unix.EPIPE) {
			p.markEOF()
			return 0, nil
		} else {
			return 0, err
		}
	}
	return p.pumpReadWrite()
}

// pumpSplice attempts the zero-copy fast path. When the cap has already
// been hit, it drains into a throwaway fd instead of the real sink so
// bytes_read keeps advancing while bytes_passed stays sticky, exactly as
// SPEC_FULL.md §4.4 requires. The transfer length is clamped to the
// remaining cap room so a single splice call can never push passed past
// cap, mirroring the room logic in pumpReadWrite.
func (p *Pump) pumpSplice() (int64, error) {
	dst := p.dst
	discard := p.discarding()
	length := int64(bufSize)
	if discard {
		dst = devNull()
	} else if p.cap >= 0 {
		if room := p.cap - p.passed; room < length {
			length = room
		}
	}
	n, err := unix.Splice(int(p.src.Fd()), nil, int(dst.Fd()), nil, int(length), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		p.markEOF()
		return 0, nil
	}
	p.read += n
	if !discard {
		p.passed += n
	}
	return n, nil
}

func (p *Pump) pumpReadWrite() (int64, error) {
	buf := make([]byte, bufSize)
	n, err := p.src.Read(buf)
	if err != nil {
		if err == io.EOF {
			p.markEOF()
			return 0, nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		p.markEOF()
		return 0, nil
	}
	p.read += int64(n)

	toWrite := buf[:n]
	if p.cap >= 0 {
		room := p.cap - p.passed
		if room <= 0 {
			toWrite = nil
		} else if int64(len(toWrite)) > room {
			toWrite = toWrite[:room]
		}
	}
	if len(toWrite) > 0 {
		written, werr := p.dst.Write(toWrite)
		if werr != nil {
			if errors.Is(werr, unix.EPIPE) {
				p.markEOF()
				return int64(n), nil
			}
			return 0, werr
		}
		p.passed += int64(written)
	}
	return int64(n), nil
}

func (p *Pump) discarding() bool {
	return p.cap >= 0 && p.passed >= p.cap
}

func (p *Pump) markEOF() {
	p.closed = true
	_ = p.src.Close()
}

var devNullFile *os.File

func devNull() *os.File {
	if devNullFile == nil {
		devNullFile, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return devNullFile
}

// PumpUntilClosed drives Pump() to completion, blocking on poll(2) between
// attempts instead of busy-spinning on EAGAIN from the non-blocking
// splice fast path. This is the per-stream goroutine body the Supervisor
// Loop starts for stdout and stderr, standing in for the C original's
// single-threaded pselect multiplexing (SPEC_FULL.md §4.5).
func (p *Pump) PumpUntilClosed() error {
	for !p.Closed() {
		if _, err := p.Pump(); err != nil {
			return err
		}
		if p.Closed() {
			break
		}
		fds := []unix.PollFd{{Fd: int32(p.src.Fd()), Events: unix.POLLIN}}
		_, _ = unix.Poll(fds, 1000)
	}
	return nil
}
