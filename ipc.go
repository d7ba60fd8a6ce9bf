// Copyright 2016 Aleksandr Demakin. All rights reserved.

package fmq

// Destroyer is an object which can be permanently removed.
type Destroyer interface {
	Destroy() error
}

// HeartbeatFunc is called periodically by blocking queue operations,
// so that a process waiting for a peer can report it is still alive.
type HeartbeatFunc func(label string)
