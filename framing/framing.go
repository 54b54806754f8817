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

// Package framing implements the boxstream link framing and cryptography.
//
// The frame format is:
//   enc_header(34 B) || enc_body(L B)
//
// where enc_header is a NaCl SecretBox (Poly1305/XSalsa20) sealing an
// 18 byte plain header (a big endian uint16 body length followed by the
// 16 byte Poly1305 tag that authenticates the body), and enc_body is the
// raw XSalsa20 keystream xored with the plaintext body -- its own
// Poly1305 tag travels inside the header instead of alongside it.
//
// A plain header of 18 zero bytes is the terminator: it has no body, and
// its successful decryption is the only authenticated signal of a
// graceful end of stream.
//
// Nonces are 24 bytes and are owned by the caller: the header of a frame
// consumes the nonce value in effect when Encode/DecodeHeader is called,
// the body consumes the next value, and the caller's nonce is advanced by
// 2 per data frame (1 for a terminator) by Advance. It is imperative
// that a (key, nonce) pair is never reused; this package never generates
// nonces on its own.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the size in bytes of a secretbox key.
	KeySize = 32

	// NonceSize is the size in bytes of a secretbox nonce.
	NonceSize = 24

	// MACSize is the size in bytes of the Poly1305 tag produced by secretbox.
	MACSize = 16

	// MaxPayloadSize is the maximum plaintext body length of one frame.
	MaxPayloadSize = 4096

	// plainHeaderSize is the size of the plain (unencrypted) header: a
	// 2 byte big endian length followed by the 16 byte body tag.
	plainHeaderSize = 2 + MACSize

	// HeaderSize is the size of the encrypted header on the wire: the
	// secretbox overhead (a 16 byte tag) plus the 18 byte plain header.
	HeaderSize = MACSize + plainHeaderSize

	// FrameBufferSize is large enough to hold one maximum length frame,
	// header and body included.
	FrameBufferSize = HeaderSize + MaxPayloadSize
)

var (
	// ErrUnauthenticatedHeader is returned when a header's Poly1305 tag
	// does not verify. Fatal; the connection must be torn down.
	ErrUnauthenticatedHeader = errors.New("framing: header did not authenticate")

	// ErrUnauthenticatedBody is returned when a body's Poly1305 tag does
	// not verify, using the tag carried in the preceding header. Fatal.
	ErrUnauthenticatedBody = errors.New("framing: body did not authenticate")

	// ErrNonceOverflow is returned if advancing a nonce would wrap the
	// 192 bit counter. Practically unreachable; surfaced defensively.
	ErrNonceOverflow = errors.New("framing: nonce counter wrapped")
)

// InvalidLengthError is returned when a decrypted plain header's length
// field is not in 1..=MaxPayloadSize and the header is not the all-zero
// terminator. Fatal.
type InvalidLengthError uint16

func (e InvalidLengthError) Error() string {
	return fmt.Sprintf("framing: invalid frame length: %d", uint16(e))
}

// Key is the shared secretbox key for one direction of a stream.
type Key [KeySize]byte

// Nonce is a secretbox nonce, treated as a big endian counter on its low
// bits. It is owned and mutated exclusively by one direction (Encryptor
// or Decryptor); nothing in this package modifies a Nonce except
// through Advance.
type Nonce [NonceSize]byte

// Advance adds by to the nonce, propagating carries towards the most
// significant byte. It returns ErrNonceOverflow if doing so would wrap
// the counter, in which case the nonce is left unmodified.
func (n *Nonce) Advance(by uint64) error {
	tmp := *n
	carry := by
	for i := NonceSize - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(tmp[i]) + (carry & 0xff)
		tmp[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	if carry > 0 {
		return ErrNonceOverflow
	}
	*n = tmp
	return nil
}

// PlainHeader is the decrypted contents of a frame header.
type PlainHeader struct {
	// Length is the plaintext body length. Zero iff Terminator is true.
	Length uint16
	// BodyTag is the Poly1305 tag that authenticates the frame's body.
	BodyTag [MACSize]byte
	// Terminator is true iff every byte of the plain header was zero.
	Terminator bool
}

// EncodeFrame seals one frame of plaintext (1..=MaxPayloadSize bytes)
// into dst, which must have length >= HeaderSize+len(plaintext), and
// advances nonce by 2. It returns the number of bytes written to dst.
//
// The header consumes the nonce value in effect on entry; the body
// consumes the next value, matching DecodeHeader/DecodeBody.
func EncodeFrame(dst []byte, key *Key, nonce *Nonce, plaintext []byte) (int, error) {
	l := len(plaintext)
	if l < 1 || l > MaxPayloadSize {
		return 0, fmt.Errorf("framing: invalid plaintext length: %d", l)
	}
	if len(dst) < HeaderSize+l {
		return 0, fmt.Errorf("framing: dst too small: %d < %d", len(dst), HeaderSize+l)
	}

	headerNonce := *nonce
	bodyNonce := *nonce
	if err := bodyNonce.Advance(1); err != nil {
		return 0, err
	}

	// Seal the body first. The body's own tag never travels on the wire
	// next to it: the secretbox output is split, its leading MACSize
	// bytes become the header's BodyTag, the remainder becomes enc_body.
	var bodyBoxBuf [MACSize + MaxPayloadSize]byte
	bodyBox := secretbox.Seal(bodyBoxBuf[:0], plaintext, (*[NonceSize]byte)(&bodyNonce), (*[KeySize]byte)(key))

	var plainHeader [plainHeaderSize]byte
	binary.BigEndian.PutUint16(plainHeader[0:2], uint16(l))
	copy(plainHeader[2:], bodyBox[:MACSize])

	headerBox := secretbox.Seal(dst[:0], plainHeader[:], (*[NonceSize]byte)(&headerNonce), (*[KeySize]byte)(key))
	if len(headerBox) != HeaderSize {
		panic(fmt.Sprintf("BUG: sealed header length %d != %d", len(headerBox), HeaderSize))
	}
	copy(dst[HeaderSize:], bodyBox[MACSize:])

	if err := nonce.Advance(2); err != nil {
		return 0, err
	}
	return HeaderSize + l, nil
}

// EncodeTerminator seals the terminator frame (an 18 byte all-zero plain
// header, no body) into dst, which must have length >= HeaderSize, and
// advances nonce by 1. It returns the number of bytes written (always
// HeaderSize).
func EncodeTerminator(dst []byte, key *Key, nonce *Nonce) (int, error) {
	if len(dst) < HeaderSize {
		return 0, fmt.Errorf("framing: dst too small: %d < %d", len(dst), HeaderSize)
	}
	var plainHeader [plainHeaderSize]byte
	headerBox := secretbox.Seal(dst[:0], plainHeader[:], (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
	if len(headerBox) != HeaderSize {
		panic(fmt.Sprintf("BUG: sealed header length %d != %d", len(headerBox), HeaderSize))
	}
	if err := nonce.Advance(1); err != nil {
		return 0, err
	}
	return HeaderSize, nil
}

// DecodeHeader opens the HeaderSize bytes at enc[:HeaderSize], advancing
// nonce by 1 once the header authenticates. The caller distinguishes a
// data frame from a terminator via the returned PlainHeader's Terminator
// field. A non-terminator header whose Length is 0 or exceeds
// MaxPayloadSize is rejected with InvalidLengthError.
func DecodeHeader(enc []byte, key *Key, nonce *Nonce) (PlainHeader, error) {
	var hdr PlainHeader
	if len(enc) < HeaderSize {
		return hdr, fmt.Errorf("framing: enc too small: %d < %d", len(enc), HeaderSize)
	}

	plain, ok := secretbox.Open(nil, enc[:HeaderSize], (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
	if !ok {
		return hdr, ErrUnauthenticatedHeader
	}
	if err := nonce.Advance(1); err != nil {
		return hdr, err
	}

	if isAllZero(plain) {
		hdr.Terminator = true
		return hdr, nil
	}

	hdr.Length = binary.BigEndian.Uint16(plain[0:2])
	copy(hdr.BodyTag[:], plain[2:])
	if hdr.Length == 0 || hdr.Length > MaxPayloadSize {
		return hdr, InvalidLengthError(hdr.Length)
	}
	return hdr, nil
}

// DecodeBody opens the hdr.Length bytes of ciphertext at body, using the
// tag carried in hdr, and advances nonce by 1 on success. dst must have
// length >= hdr.Length; the decrypted plaintext is both written to dst
// and returned as a subslice of it.
func DecodeBody(dst []byte, body []byte, hdr PlainHeader, key *Key, nonce *Nonce) ([]byte, error) {
	if hdr.Terminator {
		panic("BUG: DecodeBody called for a terminator header")
	}
	if len(body) < int(hdr.Length) || len(dst) < int(hdr.Length) {
		return nil, fmt.Errorf("framing: short body buffer")
	}

	var box [MACSize + MaxPayloadSize]byte
	copy(box[:MACSize], hdr.BodyTag[:])
	copy(box[MACSize:], body[:hdr.Length])

	plain, ok := secretbox.Open(dst[:0], box[:MACSize+int(hdr.Length)], (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
	if !ok {
		return nil, ErrUnauthenticatedBody
	}
	if err := nonce.Advance(1); err != nil {
		return nil, err
	}
	return plain, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

/* vim :set ts=4 sw=4 sts=4 noet : */
