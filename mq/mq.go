// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"io"
	"os"
	"time"
)

// Messenger is an interface of a queue, which transfers raw messages.
type Messenger interface {
	// Send writes a message.
	Send(data []byte) error
	// Receive waits for the next message and copies it into data.
	// It returns the length of the message.
	Receive(data []byte) (int, error)
	io.Closer
}

// TimedMessenger is a Messenger, which supports send/receive timeouts.
type TimedMessenger interface {
	Messenger
	SendTimeout(data []byte, timeout time.Duration) error
	ReceiveTimeout(data []byte, timeout time.Duration) (int, error)
}

func checkMqPerm(perm os.FileMode) bool {
	return uint(perm)&0111 == 0
}
