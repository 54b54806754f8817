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

import "errors"

var (
	// ErrUnauthenticatedEof is returned by Decryptor.Read (and
	// Duplex.Read) when the inner source returns zero bytes while the
	// Decryptor still expects bytes of a frame, including the header of
	// the next frame at a frame boundary. A graceful end of stream is
	// signalled exclusively by an authenticated terminator frame
	// (Read returning 0, nil); this error means the peer went away
	// without sending one.
	ErrUnauthenticatedEof = errors.New("boxstream: unauthenticated eof")

	// ErrWriteZero is returned by Encryptor.Flush/Terminate (and
	// Duplex.Flush/Terminate) when the inner sink accepts zero bytes
	// while data remained to be drained. Unlike Write, Flush and
	// Terminate cannot silently make no progress: a zero-byte inner
	// write there is fatal.
	ErrWriteZero = errors.New("boxstream: write accepted zero bytes")

	// ErrClosed is returned by every Encryptor operation once
	// Terminate has completed successfully.
	ErrClosed = errors.New("boxstream: use of closed stream")

	// errTerminator is the internal sentinel recording that a
	// Decryptor has observed and consumed an authenticated terminator
	// frame. It never escapes Decryptor.Read, which reports it as
	// (0, nil) instead.
	errTerminator = errors.New("boxstream: terminator observed")
)
