// Copyright 2015 Aleksandr Demakin. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/internal/test"
	"github.com/nxgtw/go-fmq/mq"
)

var (
	objName  = flag.String("object", "", "queue name")
	timeout  = flag.Int("timeout", -1, "timeout for send/receive. in ms.")
	delay    = flag.Int("delay", 0, "max random delay between stress operations. in ms.")
	blocking = flag.Bool("blocking", false, "use blocking write mode")
)

const usage = `  test program for file message queues.
available commands:
  create {nslots} {buf_size}
  destroy
  test {expected values byte array}
  send {values byte array}
  stress-write {count} {pattern byte array}
  stress-read {count} {pattern byte array}
byte array should be passed as a continuous string of 2-symbol hex byte values like '01020A'
`

func options() *mq.Options {
	opts := mq.DefaultOptions()
	opts.PollInterval = 10 * time.Millisecond
	opts.BlockingWrite = *blocking
	opts.Log.Level = "none"
	return &opts
}

func create() error {
	if flag.NArg() != 3 {
		return fmt.Errorf("create: must provide exactly two arguments")
	}
	nslots, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		return err
	}
	bufSize, err := strconv.ParseInt(flag.Arg(2), 10, 64)
	if err != nil {
		return err
	}
	opts := options()
	opts.NSlots, opts.BufSize = nslots, bufSize
	q, err := mq.Create(*objName, opts)
	if err == nil {
		q.Close()
	}
	return err
}

func destroy() error {
	if flag.NArg() != 1 {
		return fmt.Errorf("destroy: must not provide any arguments")
	}
	return mq.Destroy(*objName)
}

func test() error {
	if flag.NArg() != 2 {
		return fmt.Errorf("test: must provide exactly one argument")
	}
	q, err := mq.OpenExisting(*objName, fmq.O_READWRITE, options())
	if err != nil {
		return err
	}
	defer q.Close()
	expected, err := testutil.StringToBytes(flag.Arg(1))
	if err != nil {
		return err
	}
	received := make([]byte, len(expected))
	var l int
	if *timeout >= 0 {
		l, err = q.ReceiveTimeout(received, time.Duration(*timeout)*time.Millisecond)
	} else {
		l, err = q.Receive(received)
	}
	if err != nil {
		return err
	}
	if l != len(expected) {
		return fmt.Errorf("invalid len. expected '%d', got '%d'", len(expected), l)
	}
	for i, expectedValue := range expected {
		if expectedValue != received[i] {
			return fmt.Errorf("invalid value at %d. expected '%d', got '%d'", i, expectedValue, received[i])
		}
	}
	return nil
}

func send() error {
	if flag.NArg() != 2 {
		return fmt.Errorf("send: must provide exactly one argument")
	}
	q, err := mq.OpenExisting(*objName, fmq.O_WRITE_ONLY, options())
	if err != nil {
		return err
	}
	defer q.Close()
	toSend, err := testutil.StringToBytes(flag.Arg(1))
	if err != nil {
		return err
	}
	if *timeout >= 0 {
		return q.SendTimeout(toSend, time.Duration(*timeout)*time.Millisecond)
	}
	return q.Send(toSend)
}

// stressPayload builds a message, which can be validated without knowing its length:
// 8-byte sequence number followed by the pattern repeated (seq % 16 + 1) times.
func stressPayload(seq uint64, pattern []byte) []byte {
	data := make([]byte, 8, 8+len(pattern)*16)
	binary.BigEndian.PutUint64(data, seq)
	for i := uint64(0); i < seq%16+1; i++ {
		data = append(data, pattern...)
	}
	return data
}

func parseStressArgs(cmd string) (int, []byte, error) {
	if flag.NArg() != 3 {
		return 0, nil, fmt.Errorf("%s: must provide exactly two arguments", cmd)
	}
	count, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		return 0, nil, err
	}
	pattern, err := testutil.StringToBytes(flag.Arg(2))
	return count, pattern, err
}

func pause() {
	if *delay > 0 {
		time.Sleep(time.Duration(rand.Intn(*delay)) * time.Millisecond)
	}
}

func stressWrite() error {
	count, pattern, err := parseStressArgs("stress-write")
	if err != nil {
		return err
	}
	q, err := mq.OpenExisting(*objName, fmq.O_WRITE_ONLY, options())
	if err != nil {
		return err
	}
	defer q.Close()
	for seq := uint64(1); seq <= uint64(count); seq++ {
		if err = q.WriteMsg(int32(seq%7), 0, stressPayload(seq, pattern)); err != nil {
			return fmt.Errorf("write %d: %v", seq, err)
		}
		pause()
	}
	return nil
}

func stressRead() error {
	count, pattern, err := parseStressArgs("stress-read")
	if err != nil {
		return err
	}
	q, err := mq.OpenExisting(*objName, fmq.O_READ_ONLY, options())
	if err != nil {
		return err
	}
	defer q.Close()
	ctx := context.Background()
	if *timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeout)*time.Millisecond)
		defer cancel()
	}
	var lastSeq uint64
	var lastID int64
	for lastSeq < uint64(count) {
		msg, err := q.ReadBlocking(ctx, mq.AnyType)
		if err != nil {
			return fmt.Errorf("read after %d: %v", lastSeq, err)
		}
		if len(msg.Data) < 8 {
			return fmt.Errorf("message %d is too short: %d bytes", msg.ID, len(msg.Data))
		}
		seq := binary.BigEndian.Uint64(msg.Data)
		if seq <= lastSeq || (lastID != 0 && msg.ID <= lastID) {
			return fmt.Errorf("out of order message: seq %d after %d, id %d after %d", seq, lastSeq, msg.ID, lastID)
		}
		if msg.Type != int32(seq%7) {
			return fmt.Errorf("message %d: type %d, expected %d", seq, msg.Type, seq%7)
		}
		if !bytes.Equal(msg.Data, stressPayload(seq, pattern)) {
			return fmt.Errorf("message %d is torn", seq)
		}
		lastSeq, lastID = seq, msg.ID
		pause()
	}
	return nil
}

func runCommand() error {
	command := flag.Arg(0)
	switch command {
	case "create":
		return create()
	case "destroy":
		return destroy()
	case "test":
		return test()
	case "send":
		return send()
	case "stress-write":
		return stressWrite()
	case "stress-read":
		return stressRead()
	default:
		return fmt.Errorf("unknown command")
	}
}

func main() {
	flag.Parse()
	if len(*objName) == 0 || flag.NArg() == 0 {
		fmt.Print(usage)
		flag.Usage()
		os.Exit(1)
	}
	if err := runCommand(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
