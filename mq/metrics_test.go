// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("abc")))
	a.NoError(q.Write([]byte("de")))
	_, err := q.Read()
	a.NoError(err)
	cnt := q.Counters()
	a.Equal(uint64(2), cnt.MessagesWritten)
	a.Equal(uint64(5), cnt.BytesWritten)
	a.Equal(uint64(1), cnt.MessagesRead)
	a.Equal(uint64(3), cnt.BytesRead)
	a.Equal(uint64(0), cnt.Skipped)
}

func TestCollector(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("abc")))
	a.NoError(q.Write([]byte("de")))
	_, err := q.Read()
	a.NoError(err)

	c := NewCollector(q, "test")
	reg := prometheus.NewPedanticRegistry()
	a.NoError(reg.Register(c))
	a.Equal(16, testutil.CollectAndCount(c))

	expected := `
# HELP fmq_slots_used Number of slots holding messages.
# TYPE fmq_slots_used gauge
fmq_slots_used{queue="test"} 2
# HELP fmq_slots_total Number of slots in the queue.
# TYPE fmq_slots_total gauge
fmq_slots_total{queue="test"} 8
# HELP fmq_unread_messages Number of messages written after the last read one.
# TYPE fmq_unread_messages gauge
fmq_unread_messages{queue="test"} 1
# HELP fmq_buffer_used_bytes Buffer bytes occupied by messages, including framing.
# TYPE fmq_buffer_used_bytes gauge
fmq_buffer_used_bytes{queue="test"} 32
# HELP fmq_handle_messages_written_total Messages written through this handle.
# TYPE fmq_handle_messages_written_total counter
fmq_handle_messages_written_total{queue="test"} 2
`
	a.NoError(testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"fmq_slots_used", "fmq_slots_total", "fmq_unread_messages",
		"fmq_buffer_used_bytes", "fmq_handle_messages_written_total"))
}

func TestCollectorClosedQueue(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	c := NewCollector(q, "test")
	a.NoError(q.Close())
	reg := prometheus.NewRegistry()
	a.NoError(reg.Register(c))
	_, err := reg.Gather()
	a.Error(err)
}
