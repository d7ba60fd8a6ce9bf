// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package fmq provides a persistent file message queue for inter-process communication.
// A queue is a set of three files sharing one base path:
//
//	path.stat - status record followed by a fixed array of slot records (memory mapped)
//	path.buf  - circular buffer with framed message payloads
//	path.lock - lock file used for advisory locking
//
// One process writes, any number of processes read, each reader keeping its own cursor.
// The engine lives in the mq subpackage, the message framing layer in nowcast.
// Supported platforms are unix-like systems with flock and mmap.
package fmq
