// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type counters struct {
	msgsWritten   atomic.Uint64
	bytesWritten  atomic.Uint64
	msgsRead      atomic.Uint64
	bytesRead     atomic.Uint64
	skipped       atomic.Uint64
	resets        atomic.Uint64
	blockedWrites atomic.Uint64
}

// Counters are statistics of a queue handle.
type Counters struct {
	MessagesWritten uint64
	BytesWritten    uint64
	MessagesRead    uint64
	BytesRead       uint64
	// Skipped is the number of messages overwritten before this handle read them.
	Skipped uint64
	// Resets is the number of resets done by this handle.
	Resets uint64
	// BlockedWrites is the number of writes, which had to wait for the reader.
	BlockedWrites uint64
}

// Counters returns handle's statistics.
func (q *Queue) Counters() Counters {
	return Counters{
		MessagesWritten: q.counters.msgsWritten.Load(),
		BytesWritten:    q.counters.bytesWritten.Load(),
		MessagesRead:    q.counters.msgsRead.Load(),
		BytesRead:       q.counters.bytesRead.Load(),
		Skipped:         q.counters.skipped.Load(),
		Resets:          q.counters.resets.Load(),
		BlockedWrites:   q.counters.blockedWrites.Load(),
	}
}

// Collector exports queue state and handle statistics as prometheus metrics.
// The state is read from the queue files on every scrape.
type Collector struct {
	q *Queue

	slotsUsed     *prometheus.Desc
	slotsTotal    *prometheus.Desc
	bytesUsed     *prometheus.Desc
	bytesTotal    *prometheus.Desc
	youngestID    *prometheus.Desc
	lastIDRead    *prometheus.Desc
	unread        *prometheus.Desc
	appendMode    *prometheus.Desc
	blockedWriter *prometheus.Desc
	resetCount    *prometheus.Desc

	msgsWritten   *prometheus.Desc
	bytesWritten  *prometheus.Desc
	msgsRead      *prometheus.Desc
	bytesRead     *prometheus.Desc
	skipped       *prometheus.Desc
	blockedWrites *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for the queue. name is used as the value of the "queue" label.
func NewCollector(q *Queue, name string) *Collector {
	labels := prometheus.Labels{"queue": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("fmq", "", metric), help, nil, labels)
	}
	return &Collector{
		q:             q,
		slotsUsed:     desc("slots_used", "Number of slots holding messages."),
		slotsTotal:    desc("slots_total", "Number of slots in the queue."),
		bytesUsed:     desc("buffer_used_bytes", "Buffer bytes occupied by messages, including framing."),
		bytesTotal:    desc("buffer_size_bytes", "Size of the queue buffer."),
		youngestID:    desc("youngest_id", "Id of the last written message."),
		lastIDRead:    desc("last_id_read", "Id of the last read message."),
		unread:        desc("unread_messages", "Number of messages written after the last read one."),
		appendMode:    desc("append_mode", "1 if the writer appends to the buffer tail, 0 if it reuses space at the head."),
		blockedWriter: desc("writer_blocked", "1 if a writer waits for the reader."),
		resetCount:    desc("resets_total", "Number of times the queue was reset after corruption."),
		msgsWritten:   desc("handle_messages_written_total", "Messages written through this handle."),
		bytesWritten:  desc("handle_bytes_written_total", "Uncompressed bytes written through this handle."),
		msgsRead:      desc("handle_messages_read_total", "Messages read through this handle."),
		bytesRead:     desc("handle_bytes_read_total", "Uncompressed bytes read through this handle."),
		skipped:       desc("handle_messages_skipped_total", "Messages overwritten before this handle read them."),
		blockedWrites: desc("handle_blocked_writes_total", "Writes through this handle, which waited for the reader."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.slotsUsed, c.slotsTotal, c.bytesUsed, c.bytesTotal, c.youngestID, c.lastIDRead,
		c.unread, c.appendMode, c.blockedWriter, c.resetCount,
		c.msgsWritten, c.bytesWritten, c.msgsRead, c.bytesRead, c.skipped, c.blockedWrites,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	cnt := c.q.Counters()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.msgsWritten, cnt.MessagesWritten)
	counter(c.bytesWritten, cnt.BytesWritten)
	counter(c.msgsRead, cnt.MessagesRead)
	counter(c.bytesRead, cnt.BytesRead)
	counter(c.skipped, cnt.Skipped)
	counter(c.blockedWrites, cnt.BlockedWrites)

	st, err := c.q.Stat()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.slotsUsed, err)
		return
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.slotsUsed, float64(st.Live()))
	gauge(c.slotsTotal, float64(st.NSlots))
	gauge(c.bytesUsed, float64(st.Used()))
	gauge(c.bytesTotal, float64(st.BufSize))
	gauge(c.youngestID, float64(st.YoungestID))
	gauge(c.lastIDRead, float64(st.LastIDRead))
	gauge(c.unread, float64(st.Unread()))
	gauge(c.appendMode, boolToFloat(st.AppendMode))
	gauge(c.blockedWriter, boolToFloat(st.BlockingWrite))
	counter(c.resetCount, uint64(st.ResetCount))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
