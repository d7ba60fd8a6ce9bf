// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package mq implements the file message queue: a persistent circular message queue,
// shared by processes through files.
//
// A queue keeps message metadata in a memory-mapped status file (a status record and
// a fixed number of slots), and message bytes in a circular buffer file.
// Every operation is done under an advisory lock of the queue's lock file.
// One writer and any number of readers may use a queue at the same time.
// Each reader keeps its own position. When the writer runs out of space, the oldest
// messages are overwritten, and readers see a gap in message ids. In blocking write mode,
// the writer waits for the reader instead.
package mq
