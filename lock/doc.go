// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package lock implements advisory whole-file locks used to serialize
// operations on a file message queue between processes.
// Locks are flock(2) locks, so the kernel releases them when the owning
// process exits, and a crashed process never wedges a queue.
package lock
