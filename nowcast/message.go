// Copyright 2016 Aleksandr Demakin. All rights reserved.

package nowcast

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind identifies a message kind. Its value is stored in the queue's type field
// and must not change.
type Kind int32

// KindBase is the first message code.
const KindBase = 76500

const (
	KindIdentifyRequest Kind = KindBase + 1 + iota
	KindIdentifyResponse
	KindTrigger
	KindForecastRequest
	KindForecastComplete
	KindForecastIncomplete
)

// wireVersion is stored in the queue's subtype field.
const wireVersion = 1

var kindNames = map[Kind]string{
	KindIdentifyRequest:    "identify-request",
	KindIdentifyResponse:   "identify-response",
	KindTrigger:            "trigger",
	KindForecastRequest:    "forecast-request",
	KindForecastComplete:   "forecast-complete",
	KindForecastIncomplete: "forecast-incomplete",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Valid returns true for known message kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Message is one of the protocol messages.
type Message interface {
	Kind() Kind
	encode(w *wireWriter)
	decode(r *wireReader)
}

// IdentifyRequest asks all processes serving the queue to identify themselves.
type IdentifyRequest struct {
	RequestID uuid.UUID
	Sender    string
	Time      time.Time
}

// IdentifyResponse is an answer to IdentifyRequest.
type IdentifyResponse struct {
	RequestID uuid.UUID
	Name      string
	Host      string
	PID       int32
	Time      time.Time
}

// Trigger tells processes, that new data is available for the given time.
type Trigger struct {
	Source string
	Time   time.Time
	// Count is the number of data items the trigger covers.
	Count int32
}

// ForecastRequest asks for a forecast starting at Time for lead times in seconds.
type ForecastRequest struct {
	RequestID uuid.UUID
	Source    string
	Time      time.Time
	LeadTimes []int32
}

// ForecastComplete reports, that the forecast for a request was produced.
type ForecastComplete struct {
	RequestID uuid.UUID
	Time      time.Time
}

// ForecastIncomplete reports, that the forecast for a request failed.
type ForecastIncomplete struct {
	RequestID uuid.UUID
	Time      time.Time
	Reason    string
}

func (*IdentifyRequest) Kind() Kind    { return KindIdentifyRequest }
func (*IdentifyResponse) Kind() Kind   { return KindIdentifyResponse }
func (*Trigger) Kind() Kind            { return KindTrigger }
func (*ForecastRequest) Kind() Kind    { return KindForecastRequest }
func (*ForecastComplete) Kind() Kind   { return KindForecastComplete }
func (*ForecastIncomplete) Kind() Kind { return KindForecastIncomplete }

func (m *IdentifyRequest) encode(w *wireWriter) {
	w.uuid(m.RequestID)
	w.string(m.Sender)
	w.time(m.Time)
}

func (m *IdentifyRequest) decode(r *wireReader) {
	m.RequestID = r.uuid()
	m.Sender = r.string()
	m.Time = r.time()
}

func (m *IdentifyResponse) encode(w *wireWriter) {
	w.uuid(m.RequestID)
	w.string(m.Name)
	w.string(m.Host)
	w.int32(m.PID)
	w.time(m.Time)
}

func (m *IdentifyResponse) decode(r *wireReader) {
	m.RequestID = r.uuid()
	m.Name = r.string()
	m.Host = r.string()
	m.PID = r.int32()
	m.Time = r.time()
}

func (m *Trigger) encode(w *wireWriter) {
	w.string(m.Source)
	w.time(m.Time)
	w.int32(m.Count)
}

func (m *Trigger) decode(r *wireReader) {
	m.Source = r.string()
	m.Time = r.time()
	m.Count = r.int32()
}

func (m *ForecastRequest) encode(w *wireWriter) {
	w.uuid(m.RequestID)
	w.string(m.Source)
	w.time(m.Time)
	w.int32s(m.LeadTimes)
}

func (m *ForecastRequest) decode(r *wireReader) {
	m.RequestID = r.uuid()
	m.Source = r.string()
	m.Time = r.time()
	m.LeadTimes = r.int32s()
}

func (m *ForecastComplete) encode(w *wireWriter) {
	w.uuid(m.RequestID)
	w.time(m.Time)
}

func (m *ForecastComplete) decode(r *wireReader) {
	m.RequestID = r.uuid()
	m.Time = r.time()
}

func (m *ForecastIncomplete) encode(w *wireWriter) {
	w.uuid(m.RequestID)
	w.time(m.Time)
	w.string(m.Reason)
}

func (m *ForecastIncomplete) decode(r *wireReader) {
	m.RequestID = r.uuid()
	m.Time = r.time()
	m.Reason = r.string()
}

func newMessage(kind Kind) Message {
	switch kind {
	case KindIdentifyRequest:
		return &IdentifyRequest{}
	case KindIdentifyResponse:
		return &IdentifyResponse{}
	case KindTrigger:
		return &Trigger{}
	case KindForecastRequest:
		return &ForecastRequest{}
	case KindForecastComplete:
		return &ForecastComplete{}
	case KindForecastIncomplete:
		return &ForecastIncomplete{}
	}
	return nil
}

// Marshal encodes the payload of m.
func Marshal(m Message) ([]byte, error) {
	w := &wireWriter{}
	m.encode(w)
	if w.err != nil {
		return nil, errors.Wrapf(w.err, "failed to encode %s", m.Kind())
	}
	return w.buf, nil
}

// Unmarshal decodes a payload of the given kind.
func Unmarshal(kind Kind, data []byte) (Message, error) {
	m := newMessage(kind)
	if m == nil {
		return nil, errors.Errorf("unknown message kind %d", int32(kind))
	}
	r := &wireReader{buf: data}
	m.decode(r)
	if err := r.done(); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", kind)
	}
	return m, nil
}
