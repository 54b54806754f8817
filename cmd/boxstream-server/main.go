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

// boxstream-server is the counterpart to boxstream-client: it listens on
// -addr, accepts one connection, reads one frame, replies with a fixed
// response frame, and
// then expects a terminator, reporting the graceful close as (0, nil)
// rather than an error.
package main

import (
	"flag"
	"io"
	"log"
	"net"

	"gitlab.com/yawning/boxstream.git"
	"gitlab.com/yawning/boxstream.git/framing"
)

var addr = flag.String("addr", "127.0.0.1:34254", "address to listen on")

func demoKeyNonce() (framing.Key, framing.Nonce) {
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
	return key, nonce
}

func main() {
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		log.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	key, nonce := demoKeyNonce()
	stream := boxstream.NewDuplex(conn, key, nonce, key, nonce)

	inbound := make([]byte, 8)
	if _, err := io.ReadFull(stream, inbound); err != nil {
		log.Fatalf("read: %v", err)
	}
	log.Printf("received %v", inbound)

	outbound := []byte{8, 9, 10, 11, 12, 13, 14, 15}
	if _, err := stream.Write(outbound); err != nil {
		log.Fatalf("write: %v", err)
	}
	if err := stream.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}

	n, err := stream.Read(make([]byte, 1))
	if err != nil {
		log.Fatalf("expected graceful close, got error: %v", err)
	}
	if n != 0 {
		log.Fatalf("expected graceful close, got %d unexpected bytes", n)
	}
	log.Print("peer closed gracefully")
}
