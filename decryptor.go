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

package boxstream

import (
	"errors"
	"fmt"
	"io"

	"gitlab.com/yawning/boxstream.git/framing"
)

type decryptorMode int

const (
	modeAwaitHeader decryptorMode = iota
	modeAwaitBody
	modeReadable
)

// Decryptor wraps an io.Reader, authenticating and decrypting the frames
// it produces and delivering the contained plaintext in order. Graceful
// end of stream is signalled by Read returning (0, nil) once an
// authenticated terminator frame has been observed; every other
// condition that ends the stream is a non-nil error.
type Decryptor struct {
	r     io.Reader
	key   framing.Key
	nonce framing.Nonce

	buffer [framing.FrameBufferSize]byte
	last   int // bytes currently valid in buffer, starting at offset 0

	mode   decryptorMode
	hdr    framing.PlainHeader
	roff   int // valid when mode == modeReadable
	sticky error
}

// NewDecryptor constructs a Decryptor that reads frames sealed with key
// and nonce from r. As with NewEncryptor, the caller gives up ownership
// of nonce's initial value.
func NewDecryptor(r io.Reader, key framing.Key, nonce framing.Nonce) *Decryptor {
	return &Decryptor{
		r:     r,
		key:   key,
		nonce: nonce,
		mode:  modeAwaitHeader,
	}
}

// Inner returns the wrapped io.Reader.
func (d *Decryptor) Inner() io.Reader {
	return d.r
}

// IntoInner zeroes d's scratch buffer and returns the wrapped io.Reader.
// d must not be used afterwards.
func (d *Decryptor) IntoInner() io.Reader {
	r := d.r
	d.zero()
	return r
}

// Read implements io.Reader. It delivers plaintext bytes from
// already-authenticated frames; when none are buffered, it reads and
// authenticates more frames from the inner reader. It opportunistically
// concatenates plaintext from consecutive already-decrypted frames
// within a single call, but need not do so across an inner Read call.
//
// Read returns (0, nil) exactly once the terminator frame has been
// authenticated and consumed; every subsequent call returns the same.
// Any authentication failure, length violation, or truncation is sticky:
// once observed it is returned by every subsequent call.
func (d *Decryptor) Read(buf []byte) (int, error) {
	if d.sticky != nil {
		if d.sticky == errTerminator {
			return 0, nil
		}
		return 0, d.sticky
	}
	if len(buf) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(buf) {
		if d.sticky != nil {
			// A condition surfaced while topping up the buffer for a
			// later frame than the one(s) already delivered this call;
			// report what was delivered now and let it resurface next.
			if total > 0 {
				return total, nil
			}
			if d.sticky == errTerminator {
				return 0, nil
			}
			return 0, d.sticky
		}

		if d.mode == modeReadable {
			n := copy(buf[total:], d.buffer[framing.HeaderSize+d.roff:framing.HeaderSize+int(d.hdr.Length)])
			d.roff += n
			total += n
			if d.roff < int(d.hdr.Length) {
				// buf is full; the rest of this frame waits for next time.
				return total, nil
			}
			d.consumeReadable()
			continue
		}

		if err := d.fill(); err != nil {
			if !isSticky(err) {
				// Transient condition from the inner reader (or a
				// one-off non-protocol error): buffer, mode, and nonce
				// are all untouched, so the same call can simply be
				// retried. Defer it rather than return if we've
				// already got bytes to hand back this call.
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
			d.sticky = err
			continue
		}
	}
	return total, nil
}

// fill reads one chunk from the inner reader (if the current frame isn't
// fully buffered yet) and advances the header/body state machine as far
// as the data on hand allows. It returns errTerminator once a terminator
// has been authenticated, or any other error verbatim -- including a
// transient error from the inner reader, which leaves all state
// (buffer contents, nonce, mode) untouched so the call can be retried.
func (d *Decryptor) fill() error {
	switch d.mode {
	case modeAwaitHeader:
		if d.last < framing.HeaderSize {
			n, err := d.r.Read(d.buffer[d.last:framing.HeaderSize])
			d.last += n
			if isEOF(n, err) {
				return ErrUnauthenticatedEof
			}
			if err != nil {
				return err
			}
		}
		return d.tryAdvance()

	case modeAwaitBody:
		end := framing.HeaderSize + int(d.hdr.Length)
		if d.last < end {
			n, err := d.r.Read(d.buffer[d.last:end])
			d.last += n
			if isEOF(n, err) {
				return ErrUnauthenticatedEof
			}
			if err != nil {
				return err
			}
		}
		return d.tryAdvance()

	default:
		panic(fmt.Sprintf("BUG: boxstream: fill in mode %d", d.mode))
	}
}

// tryAdvance decodes whatever frame component is already fully buffered
// for the current mode, advancing mode (AwaitHeader -> AwaitBody or
// Readable, AwaitBody -> Readable). It is a no-op, returning nil, if the
// current mode's component isn't fully buffered yet.
func (d *Decryptor) tryAdvance() error {
	if d.mode == modeAwaitHeader {
		if d.last < framing.HeaderSize {
			return nil
		}
		hdr, err := framing.DecodeHeader(d.buffer[:framing.HeaderSize], &d.key, &d.nonce)
		if err != nil {
			return err
		}
		d.hdr = hdr
		if hdr.Terminator {
			return errTerminator
		}
		d.mode = modeAwaitBody
	}

	if d.mode == modeAwaitBody {
		end := framing.HeaderSize + int(d.hdr.Length)
		if d.last < end {
			return nil
		}
		body := d.buffer[framing.HeaderSize:end]
		if _, err := framing.DecodeBody(body, body, d.hdr, &d.key, &d.nonce); err != nil {
			return err
		}
		d.mode = modeReadable
		d.roff = 0
	}

	return nil
}

// consumeReadable is called once the current Readable frame has been
// fully delivered to the caller. It shifts whatever bytes of the next
// frame were over-read while filling the current one to the front of
// the buffer, and, if that is enough to decode the next header (and
// possibly its body), does so immediately rather than waiting for the
// caller's next fill().
func (d *Decryptor) consumeReadable() {
	consumed := framing.HeaderSize + int(d.hdr.Length)
	surplus := d.last - consumed
	if surplus > 0 {
		copy(d.buffer[0:surplus], d.buffer[consumed:d.last])
	}
	d.last = surplus
	d.mode = modeAwaitHeader

	if err := d.tryAdvance(); err != nil {
		d.sticky = err
	}
}

func (d *Decryptor) zero() {
	for i := range d.buffer {
		d.buffer[i] = 0
	}
}

func isEOF(n int, err error) bool {
	return n == 0 && (err == nil || errors.Is(err, io.EOF))
}

// isSticky reports whether err is one of the taxonomy of fatal/terminal
// conditions that, once observed, must be returned by every subsequent
// Read: an authentication failure, a length violation, a truncated
// stream, or the terminator itself. Anything else is taken to be a
// one-off condition from the inner reader (including a transient
// "would block"/"interrupted" signal) that leaves the decryptor's
// state untouched and safe to retry.
func isSticky(err error) bool {
	if err == errTerminator || err == ErrUnauthenticatedEof {
		return true
	}
	if err == framing.ErrUnauthenticatedHeader || err == framing.ErrUnauthenticatedBody {
		return true
	}
	var invalidLen framing.InvalidLengthError
	return errors.As(err, &invalidLen)
}

var _ io.Reader = (*Decryptor)(nil)
