/*
 * Copyright (c) 2014, Yawning Angel <yawning at torproject dot org>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

// Package boxstream wraps an arbitrary byte-oriented transport with
// authenticated, length-delimited framing over NaCl secretbox, via the
// Encryptor (sink), Decryptor (source), and Duplex (both) wrappers.
package boxstream

import (
	"errors"
	"fmt"
	"io"

	"gitlab.com/yawning/boxstream.git/framing"
)

type encryptorState int

const (
	stateAccepting encryptorState = iota
	stateDraining
	stateDrainingFinal
	stateEncryptorClosed
)

// Encryptor wraps an io.Writer, chopping arbitrary-length plaintext
// writes into authenticated frames of at most framing.MaxPayloadSize
// bytes each.
type Encryptor struct {
	w     io.Writer
	key   framing.Key
	nonce framing.Nonce

	buffer [framing.FrameBufferSize]byte
	offset int
	length int
	state  encryptorState
}

// NewEncryptor constructs an Encryptor that seals frames with key and
// nonce and writes them to w. The caller gives up ownership of nonce's
// initial value: it must never be reused with key by any other wrapper.
func NewEncryptor(w io.Writer, key framing.Key, nonce framing.Nonce) *Encryptor {
	return &Encryptor{
		w:     w,
		key:   key,
		nonce: nonce,
		state: stateAccepting,
	}
}

// Inner returns the wrapped io.Writer.
func (e *Encryptor) Inner() io.Writer {
	return e.w
}

// IntoInner zeroes e's scratch buffer and returns the wrapped io.Writer,
// relinquishing e's ownership of it. e must not be used afterwards.
func (e *Encryptor) IntoInner() io.Writer {
	w := e.w
	e.zero()
	return w
}

// Write implements io.Writer. On an Accepting encryptor it seals up to
// framing.MaxPayloadSize bytes of buf into one frame and returns the
// number of plaintext bytes sealed (not the number of ciphertext bytes
// actually delivered to the inner writer this call); a zero-length buf
// seals nothing and returns 0 without changing state. On a Draining
// encryptor, buf is not inspected: one write attempt is made against the
// inner writer to push more of the pending frame, and 0 is returned.
// Either way, forward progress is made within at most two calls.
func (e *Encryptor) Write(buf []byte) (int, error) {
	switch e.state {
	case stateEncryptorClosed:
		return 0, ErrClosed

	case stateAccepting:
		if len(buf) == 0 {
			return 0, nil
		}
		n := len(buf)
		if n > framing.MaxPayloadSize {
			n = framing.MaxPayloadSize
		}
		frameLen, err := framing.EncodeFrame(e.buffer[:], &e.key, &e.nonce, buf[:n])
		if err != nil {
			return 0, err
		}
		e.offset, e.length = 0, frameLen
		e.state = stateDraining

		if _, werr := e.drainOnce(); werr != nil && werr != errZeroWrite {
			return n, werr
		}
		return n, nil

	case stateDraining:
		if _, err := e.drainOnce(); err != nil && err != errZeroWrite {
			return 0, err
		}
		return 0, nil

	default:
		panic(fmt.Sprintf("BUG: boxstream: Write in state %d", e.state))
	}
}

// Flush drives the encryptor until all pending ciphertext has been
// written to the inner writer, then flushes the inner writer if it
// implements interface{ Flush() error }.
func (e *Encryptor) Flush() error {
	switch e.state {
	case stateEncryptorClosed:
		return ErrClosed
	case stateDraining, stateDrainingFinal:
		if err := e.drainFully(); err != nil {
			return err
		}
	case stateAccepting:
		// Nothing buffered.
	}
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Terminate drains any pending ciphertext, seals the terminator frame,
// drains it, and flushes the inner writer. Once Terminate returns nil,
// every subsequent call to Write, Flush, or Terminate returns ErrClosed.
//
// If Terminate returns an error, the encryptor is left in a state from
// which Terminate may safely be called again: the terminator frame, once
// sealed, is never re-sealed, only re-drained.
func (e *Encryptor) Terminate() error {
	switch e.state {
	case stateEncryptorClosed:
		return ErrClosed

	case stateDraining:
		if err := e.drainFully(); err != nil {
			return err
		}
		fallthrough

	case stateAccepting:
		frameLen, err := framing.EncodeTerminator(e.buffer[:], &e.key, &e.nonce)
		if err != nil {
			return err
		}
		e.offset, e.length = 0, frameLen
		e.state = stateDrainingFinal
		fallthrough

	case stateDrainingFinal:
		if err := e.drainFully(); err != nil {
			return err
		}
		if f, ok := e.w.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return err
			}
		}
		e.state = stateEncryptorClosed
		e.zero()
		return nil
	}
	panic(fmt.Sprintf("BUG: boxstream: Terminate in state %d", e.state))
}

// errZeroWrite marks "the inner writer accepted nothing this attempt",
// distinct from a hard error: Write tolerates it (no progress this
// call), Flush/Terminate escalate it to ErrWriteZero via drainFully.
var errZeroWrite = errors.New("boxstream: inner writer made no progress")

// drainOnce makes a single attempt to push the pending bytes in
// e.buffer[e.offset:e.length] to the inner writer, and transitions
// e.state from stateDraining to stateAccepting once fully drained
// (stateDrainingFinal is left as is; Terminate moves it on).
func (e *Encryptor) drainOnce() (int, error) {
	n, err := e.w.Write(e.buffer[e.offset:e.length])
	e.offset += n
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errZeroWrite
	}
	if e.offset == e.length {
		if e.state == stateDraining {
			e.state = stateAccepting
		}
	}
	return n, nil
}

// drainFully drives drainOnce until the pending frame is fully flushed
// to the inner writer, turning a single zero-byte inner write into
// ErrWriteZero.
func (e *Encryptor) drainFully() error {
	for e.offset < e.length {
		_, err := e.drainOnce()
		if err == errZeroWrite {
			return ErrWriteZero
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Encryptor) zero() {
	for i := range e.buffer {
		e.buffer[i] = 0
	}
}

var _ io.Writer = (*Encryptor)(nil)
