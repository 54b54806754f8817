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
	"io"

	"gitlab.com/yawning/boxstream.git/framing"
)

// Transport is what Duplex requires of the wrapped connection: a single
// bidirectional byte channel, such as a net.Conn. Duplex never calls
// Close itself except from its own Close method.
type Transport interface {
	io.Reader
	io.Writer
}

// Duplex pairs an Encryptor and a Decryptor, each with its own key and
// nonce, over one inner Transport. The two directions share nothing but
// the inner transport: Duplex.Read only ever touches the Decryptor's
// state, Duplex.Write only the Encryptor's.
type Duplex struct {
	inner Transport
	enc   *Encryptor
	dec   *Decryptor
}

// NewDuplex constructs a Duplex over inner, sealing outgoing frames with
// (encKey, encNonce) and authenticating incoming frames with (decKey,
// decNonce). As with NewEncryptor/NewDecryptor, the caller gives up
// ownership of both nonces' initial values.
func NewDuplex(inner Transport, encKey framing.Key, encNonce framing.Nonce, decKey framing.Key, decNonce framing.Nonce) *Duplex {
	return &Duplex{
		inner: inner,
		enc:   NewEncryptor(inner, encKey, encNonce),
		dec:   NewDecryptor(inner, decKey, decNonce),
	}
}

// Inner returns the wrapped Transport.
func (d *Duplex) Inner() Transport {
	return d.inner
}

// IntoInner zeroes both directions' scratch buffers and returns the
// wrapped Transport. d must not be used afterwards.
func (d *Duplex) IntoInner() Transport {
	d.enc.zero()
	d.dec.zero()
	return d.inner
}

// Read delegates to the Decryptor half; see Decryptor.Read.
func (d *Duplex) Read(buf []byte) (int, error) {
	return d.dec.Read(buf)
}

// Write delegates to the Encryptor half; see Encryptor.Write.
func (d *Duplex) Write(buf []byte) (int, error) {
	return d.enc.Write(buf)
}

// Flush delegates to the Encryptor half; see Encryptor.Flush.
func (d *Duplex) Flush() error {
	return d.enc.Flush()
}

// Terminate seals and drains the Encryptor's terminator frame; see
// Encryptor.Terminate. It does not touch the read side or close the
// inner transport -- a peer may still be draining its own write side
// after this returns. Use Close for full graceful teardown.
func (d *Duplex) Terminate() error {
	return d.enc.Terminate()
}

// Close sends a terminator frame (best-effort: errors are ignored, since
// the inner transport is closed either way) and then closes the inner
// transport, if it implements io.Closer.
func (d *Duplex) Close() error {
	_ = d.enc.Terminate()
	if c, ok := d.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ io.Reader = (*Duplex)(nil)
	_ io.Writer = (*Duplex)(nil)
)
