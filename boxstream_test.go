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
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"gitlab.com/yawning/boxstream.git/framing"
)

// chunkWriter accepts at most maxChunk bytes per Write call, simulating
// a transport that only ever makes partial progress.
type chunkWriter struct {
	buf      bytes.Buffer
	maxChunk int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := len(p)
	if w.maxChunk > 0 && n > w.maxChunk {
		n = w.maxChunk
	}
	return w.buf.Write(p[:n])
}

// chunkReader yields at most maxChunk bytes per Read call.
type chunkReader struct {
	buf      *bytes.Reader
	maxChunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.maxChunk > 0 && len(p) > r.maxChunk {
		p = p[:r.maxChunk]
	}
	return r.buf.Read(p)
}

// flakyWriter fails every Nth call with a transient error (reported as
// a plain non-nil error distinct from io.EOF), otherwise delegates.
type flakyWriter struct {
	w       io.Writer
	every   int
	calls   int
	errFail error
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.every > 0 && w.calls%w.every == 0 {
		return 0, w.errFail
	}
	return w.w.Write(p)
}

// flakyReader fails every Nth call with a transient error.
type flakyReader struct {
	r       io.Reader
	every   int
	calls   int
	errFail error
}

func (r *flakyReader) Read(p []byte) (int, error) {
	r.calls++
	if r.every > 0 && r.calls%r.every == 0 {
		return 0, r.errFail
	}
	return r.r.Read(p)
}

func testKeyNonce(seed int64) (framing.Key, framing.Nonce) {
	rng := rand.New(rand.NewSource(seed))
	var key framing.Key
	var nonce framing.Nonce
	rng.Read(key[:])
	rng.Read(nonce[:])
	return key, nonce
}

func TestRoundtripS1(t *testing.T) {
	var key framing.Key
	var nonce framing.Nonce
	copy(key[:], []byte{
		162, 29, 153, 150, 123, 225, 10, 173, 175, 201, 160, 34, 190, 179,
		158, 14, 176, 105, 232, 238, 97, 66, 133, 194, 250, 148, 199, 7,
		34, 157, 174, 24,
	})
	copy(nonce[:], []byte{
		44, 140, 79, 227, 23, 153, 202, 203, 81, 40, 114, 59, 56, 167, 63,
		166, 201, 9, 50, 152, 0, 255, 226, 147,
	})

	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)

	plaintext := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	n, err := enc.Write(plaintext)
	if err != nil || n != len(plaintext) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(plaintext))
	}
	if err := enc.Terminate(); err != nil {
		t.Fatal("Terminate:", err)
	}

	dec := NewDecryptor(bytes.NewReader(wire.Bytes()), key, nonce)
	got := make([]byte, len(plaintext))
	if _, err := io.ReadFull(dec, got); err != nil {
		t.Fatal("ReadFull:", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %v, want %v", got, plaintext)
	}

	n, err = dec.Read(make([]byte, 1))
	if n != 0 || err != nil {
		t.Fatalf("terminator Read = (%d, %v), want (0, nil)", n, err)
	}
}

func TestRoundtripOneByteAtATime(t *testing.T) {
	key, nonce := testKeyNonce(1)

	cw := &chunkWriter{maxChunk: 1}
	enc := NewEncryptor(cw, key, nonce)

	plaintext := make([]byte, 256)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	for off := 0; off < len(plaintext); {
		n, err := enc.Write(plaintext[off:])
		if err != nil {
			t.Fatal("Write:", err)
		}
		off += n
		// Draining state returns 0 until drained; drive it with repeated
		// Writes, exercising the one-byte-at-a-time inner writer throughout.
		for {
			n2, err := enc.Write(plaintext[off:])
			if err != nil {
				t.Fatal("Write (drain):", err)
			}
			if n2 > 0 {
				off += n2
				break
			}
			if enc.state == stateAccepting {
				break
			}
		}
	}
	if err := enc.Terminate(); err != nil {
		t.Fatal("Terminate:", err)
	}

	cr := &chunkReader{buf: bytes.NewReader(cw.buf.Bytes()), maxChunk: 1}
	dec := NewDecryptor(cr, key, nonce)

	got := make([]byte, 0, len(plaintext))
	small := make([]byte, 1)
	for {
		n, err := dec.Read(small)
		if err != nil {
			t.Fatal("Read:", err)
		}
		if n == 0 {
			break
		}
		got = append(got, small[:n]...)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %d bytes, want %d; equal=%v", len(got), len(plaintext), bytes.Equal(got, plaintext))
	}
}

func TestWriteOverMaxPacketSize(t *testing.T) {
	key, nonce := testKeyNonce(2)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)

	plaintext := make([]byte, framing.MaxPayloadSize+42)
	n1, err := enc.Write(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != framing.MaxPayloadSize {
		t.Fatalf("first Write = %d, want %d", n1, framing.MaxPayloadSize)
	}
	// Drain the first frame before the Encryptor will accept another.
	for enc.state != stateAccepting {
		if _, err := enc.Write(plaintext[n1:]); err != nil {
			t.Fatal(err)
		}
	}
	n2, err := enc.Write(plaintext[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 42 {
		t.Fatalf("second Write = %d, want 42", n2)
	}
	if err := enc.Terminate(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecryptor(bytes.NewReader(wire.Bytes()), key, nonce)
	got := make([]byte, len(plaintext))
	if _, err := io.ReadFull(dec, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("roundtrip mismatch across two frames")
	}
}

func TestTamperedSecondFrame(t *testing.T) {
	key, nonce := testKeyNonce(3)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)

	for _, p := range [][]byte{{1, 2, 3}, {4, 5, 6}} {
		if _, err := enc.Write(p); err != nil {
			t.Fatal(err)
		}
		for enc.state != stateAccepting {
			if _, err := enc.Write(nil); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := enc.Terminate(); err != nil {
		t.Fatal(err)
	}

	wireBytes := wire.Bytes()
	// Flip the first byte of the second frame's header.
	wireBytes[framing.HeaderSize+3] ^= 0xff

	dec := NewDecryptor(bytes.NewReader(wireBytes), key, nonce)
	first := make([]byte, 3)
	if _, err := io.ReadFull(dec, first); err != nil {
		t.Fatal("first frame should decode cleanly:", err)
	}
	if !bytes.Equal(first, []byte{1, 2, 3}) {
		t.Fatalf("first frame = %v, want {1,2,3}", first)
	}

	_, err := dec.Read(make([]byte, 3))
	if !errors.Is(err, framing.ErrUnauthenticatedHeader) {
		t.Fatalf("Read after tamper = %v, want ErrUnauthenticatedHeader", err)
	}
	// Sticky.
	_, err = dec.Read(make([]byte, 3))
	if !errors.Is(err, framing.ErrUnauthenticatedHeader) {
		t.Fatalf("second Read after tamper = %v, want ErrUnauthenticatedHeader again", err)
	}
}

func TestTruncatedStreamIsUnauthenticatedEof(t *testing.T) {
	key, nonce := testKeyNonce(4)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)
	if _, err := enc.Write([]byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	for enc.state != stateAccepting {
		if _, err := enc.Write(nil); err != nil {
			t.Fatal(err)
		}
	}
	// No Terminate: simulate a peer that vanished mid-stream, truncated
	// one byte short of a complete frame.
	truncated := wire.Bytes()[:wire.Len()-1]

	dec := NewDecryptor(bytes.NewReader(truncated), key, nonce)
	_, err := dec.Read(make([]byte, 4))
	if !errors.Is(err, ErrUnauthenticatedEof) {
		t.Fatalf("Read on truncated stream = %v, want ErrUnauthenticatedEof", err)
	}
}

func TestTerminatorHidesTrailingGarbage(t *testing.T) {
	key, nonce := testKeyNonce(5)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)
	if _, err := enc.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}
	for enc.state != stateAccepting {
		if _, err := enc.Write(nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Terminate(); err != nil {
		t.Fatal(err)
	}
	wire.WriteByte(0xAB) // trailing garbage past the terminator

	dec := NewDecryptor(bytes.NewReader(wire.Bytes()), key, nonce)
	got := make([]byte, 1)
	n, err := dec.Read(got)
	if err != nil || n != 1 || got[0] != 1 {
		t.Fatalf("Read = (%d, %v, %v), want (1, nil, [1])", n, err, got)
	}
	n, err = dec.Read(got)
	if n != 0 || err != nil {
		t.Fatalf("terminator Read = (%d, %v), want (0, nil)", n, err)
	}
}

func TestTransientErrorsAreRetryable(t *testing.T) {
	key, nonce := testKeyNonce(6)
	var wire bytes.Buffer
	errBlocked := errors.New("would block")

	fw := &flakyWriter{w: &wire, every: 3, errFail: errBlocked}
	enc := NewEncryptor(fw, key, nonce)

	plaintext := []byte("hello, world")
	if _, err := enc.Write(plaintext); err != nil {
		t.Fatal(err)
	}
	for {
		err := enc.Flush()
		if err == nil {
			break
		}
		if !errors.Is(err, errBlocked) {
			t.Fatal("unexpected error:", err)
		}
	}
	if err := enc.Terminate(); err != nil {
		for err != nil && errors.Is(err, errBlocked) {
			err = enc.Terminate()
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	fr := &flakyReader{r: bytes.NewReader(wire.Bytes()), every: 3, errFail: errBlocked}
	dec := NewDecryptor(fr, key, nonce)

	got := make([]byte, 0, len(plaintext))
	buf := make([]byte, 4)
	for {
		n, err := dec.Read(buf)
		if err != nil {
			if errors.Is(err, errBlocked) {
				continue
			}
			t.Fatal("unexpected Read error:", err)
		}
		if n == 0 && err == nil && len(got) == len(plaintext) {
			break
		}
		got = append(got, buf[:n]...)
		if len(got) >= len(plaintext) {
			// Drain until the terminator is observed.
			for {
				n, err := dec.Read(buf)
				if err != nil {
					if errors.Is(err, errBlocked) {
						continue
					}
					t.Fatal(err)
				}
				if n == 0 {
					break
				}
				t.Fatal("unexpected extra plaintext after full message")
			}
			break
		}
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDuplex(t *testing.T) {
	type pipe struct {
		io.Reader
		io.Writer
	}
	aToB := new(bytes.Buffer)
	bToA := new(bytes.Buffer)

	kAB, nAB := testKeyNonce(10)
	kBA, nBA := testKeyNonce(11)

	a := NewDuplex(pipe{bToA, aToB}, kAB, nAB, kBA, nBA)
	b := NewDuplex(pipe{aToB, bToA}, kBA, nBA, kAB, nAB)

	msg := []byte("duplex roundtrip")
	if _, err := a.Write(msg); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(msg))
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}

	if err := a.Terminate(); err != nil {
		t.Fatal(err)
	}
	n, err := b.Read(make([]byte, 1))
	if n != 0 || err != nil {
		t.Fatalf("terminator Read = (%d, %v), want (0, nil)", n, err)
	}
}

func TestEncryptorClosedAfterTerminate(t *testing.T) {
	key, nonce := testKeyNonce(7)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key, nonce)
	if err := enc.Terminate(); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after Terminate = %v, want ErrClosed", err)
	}
	if err := enc.Flush(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after Terminate = %v, want ErrClosed", err)
	}
	if err := enc.Terminate(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Terminate = %v, want ErrClosed", err)
	}
}
