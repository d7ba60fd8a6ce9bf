// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"os"
	"strings"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/codec"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultNSlots is the default number of slots.
	DefaultNSlots = 3600
	// DefaultBufSize is the default buffer size.
	DefaultBufSize = 1 << 20
	// DefaultPollInterval is the default sleep between checks of blocking calls.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultLockTimeout is the default time to wait for the queue lock.
	DefaultLockTimeout = 5 * time.Second
	// DefaultMinCompressSize is the default size, starting from which messages are compressed.
	DefaultMinCompressSize = 64

	// MaxNSlots is the largest allowed number of slots.
	MaxNSlots = 1 << 24
	// MinBufSize is the smallest allowed buffer size.
	MinBufSize = FramingOverhead + 4
)

// Position is a read position, which a new handle starts from.
type Position int

const (
	// PositionStart makes the reader start at the oldest message in the queue.
	PositionStart Position = iota
	// PositionEnd makes the reader start after the youngest message: only new messages are read.
	PositionEnd
	// PositionLast makes the reader start at the youngest message.
	PositionLast
	// PositionNext makes the reader continue after the last message read from the queue
	// by any read-write handle.
	PositionNext
)

// Recovery selects what happens, when the queue state is found to be corrupt.
type Recovery int

const (
	// RecoveryFail makes the operation fail with a KindCorrupt error. Files are left untouched.
	RecoveryFail Recovery = iota
	// RecoveryReset reinitializes the queue to the empty state, discarding all messages.
	RecoveryReset
)

// Options are queue parameters.
// NSlots and BufSize are used only when the queue is created. Existing queues keep their geometry.
type Options struct {
	NSlots  int   `yaml:"nslots"`
	BufSize int64 `yaml:"buf_size"`
	// Compression is applied by writers to messages not shorter, than MinCompressSize.
	Compression      codec.Method `yaml:"compression"`
	CompressionLevel codec.Level  `yaml:"compression_level"`
	MinCompressSize  int          `yaml:"min_compress_size"`
	// BlockingWrite makes writers wait instead of overwriting messages, not yet read by the reader.
	BlockingWrite bool `yaml:"blocking_write"`
	// Blocking makes Read and ReadMsg wait for new messages.
	Blocking     bool          `yaml:"blocking"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxRetries limits the number of polls of blocking calls. 0 means no limit.
	MaxRetries int `yaml:"max_retries"`
	// LockTimeout limits lock waits. Negative value means wait forever, 0 means do not wait.
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	OpenPosition Position      `yaml:"open_position"`
	Recovery     Recovery      `yaml:"recovery"`
	Perm         os.FileMode   `yaml:"perm"`

	// Heartbeat is called on every iteration of blocking waits.
	Heartbeat fmq.HeartbeatFunc `yaml:"-"`
	Log       LogConfig         `yaml:"-"`
}

// DefaultOptions returns default queue options.
func DefaultOptions() Options {
	return Options{
		NSlots:          DefaultNSlots,
		BufSize:         DefaultBufSize,
		Compression:     codec.None,
		MinCompressSize: DefaultMinCompressSize,
		PollInterval:    DefaultPollInterval,
		LockTimeout:     DefaultLockTimeout,
		OpenPosition:    PositionStart,
		Recovery:        RecoveryFail,
		Perm:            0666,
	}
}

// Validate checks options.
func (o *Options) Validate() error {
	if o.NSlots <= 0 || o.NSlots > MaxNSlots {
		return errors.Errorf("invalid nslots %d: must be in [1, %d]", o.NSlots, MaxNSlots)
	}
	if o.BufSize < MinBufSize {
		return errors.Errorf("invalid buf_size %d: must be at least %d", o.BufSize, MinBufSize)
	}
	return o.validateRuntime()
}

// validateRuntime checks options, which are not related to queue geometry.
func (o *Options) validateRuntime() error {
	if !o.Compression.Valid() {
		return errors.Errorf("invalid compression method %d", o.Compression)
	}
	if o.MinCompressSize < 0 {
		return errors.Errorf("invalid min_compress_size %d", o.MinCompressSize)
	}
	if o.PollInterval <= 0 {
		return errors.Errorf("invalid poll_interval %v: must be positive", o.PollInterval)
	}
	if o.MaxRetries < 0 {
		return errors.Errorf("invalid max_retries %d", o.MaxRetries)
	}
	if o.OpenPosition < PositionStart || o.OpenPosition > PositionNext {
		return errors.Errorf("invalid open position %d", o.OpenPosition)
	}
	if o.Recovery != RecoveryFail && o.Recovery != RecoveryReset {
		return errors.Errorf("invalid recovery policy %d", o.Recovery)
	}
	if !checkMqPerm(o.Perm) {
		return errors.Errorf("invalid queue permissions %v", o.Perm)
	}
	return nil
}

func (p Position) String() string {
	switch p {
	case PositionStart:
		return "start"
	case PositionEnd:
		return "end"
	case PositionLast:
		return "last"
	case PositionNext:
		return "next"
	default:
		return "unknown"
	}
}

// ParsePosition parses a position name.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "start":
		return PositionStart, nil
	case "end":
		return PositionEnd, nil
	case "last":
		return PositionLast, nil
	case "next":
		return PositionNext, nil
	default:
		return PositionStart, errors.Errorf("unknown open position: %s", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for Position.
func (p *Position) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePosition(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Position.
func (p Position) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

func (r Recovery) String() string {
	switch r {
	case RecoveryFail:
		return "fail"
	case RecoveryReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ParseRecovery parses a recovery policy name.
func ParseRecovery(s string) (Recovery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return RecoveryFail, nil
	case "reset":
		return RecoveryReset, nil
	default:
		return RecoveryFail, errors.Errorf("unknown recovery policy: %s", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for Recovery.
func (r *Recovery) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRecovery(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Recovery.
func (r Recovery) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}
