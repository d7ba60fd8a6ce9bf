// Copyright 2016 Aleksandr Demakin. All rights reserved.

package nowcast

import (
	"context"
	"os"
	"time"

	"github.com/nxgtw/go-fmq/mq"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultIdentifyRetries is the default number of empty polls, after which Identify stops.
	DefaultIdentifyRetries = 5
	// DefaultIdentifySleep is the default pause between Identify polls.
	DefaultIdentifySleep = 100 * time.Millisecond
)

// Conn is the queue, messages are sent through. It is implemented by *mq.Queue.
type Conn interface {
	WriteCtx(ctx context.Context, req mq.WriteRequest) error
	ReadBlocking(ctx context.Context, typ int32) (*mq.Message, error)
}

var _ Conn = (*mq.Queue)(nil)

// Config holds Queue parameters.
type Config struct {
	// Name is reported in identify responses.
	Name            string
	IdentifyRetries int
	IdentifySleep   time.Duration
	Log             mq.Logger
}

// Handler processes messages received by Serve.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Queue sends and receives protocol messages.
type Queue struct {
	conn Conn
	cfg  Config
	host string
}

// New returns a protocol queue over conn.
func New(conn Conn, cfg Config) *Queue {
	if cfg.IdentifyRetries <= 0 {
		cfg.IdentifyRetries = DefaultIdentifyRetries
	}
	if cfg.IdentifySleep <= 0 {
		cfg.IdentifySleep = DefaultIdentifySleep
	}
	if cfg.Name == "" {
		cfg.Name = os.Args[0]
	}
	if cfg.Log == nil {
		cfg.Log = mq.NopLogger{}
	}
	host, _ := os.Hostname()
	return &Queue{conn: conn, cfg: cfg, host: host}
}

// Post writes a message to the queue.
func (q *Queue) Post(ctx context.Context, m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	req := mq.WriteRequest{Type: int32(m.Kind()), Subtype: wireVersion, Data: data}
	if err = q.conn.WriteCtx(ctx, req); err != nil {
		return errors.Wrapf(err, "failed to post %s", m.Kind())
	}
	return nil
}

// FireTrigger posts a trigger for data valid at t.
func (q *Queue) FireTrigger(ctx context.Context, t time.Time, count int32) error {
	return q.Post(ctx, &Trigger{Source: q.cfg.Name, Time: t, Count: count})
}

// RequestForecast posts a forecast request. If the request has no id, a new one is assigned.
// It returns the id of the request.
func (q *Queue) RequestForecast(ctx context.Context, req ForecastRequest) (uuid.UUID, error) {
	if req.RequestID == uuid.Nil {
		req.RequestID = uuid.New()
	}
	if req.Source == "" {
		req.Source = q.cfg.Name
	}
	return req.RequestID, q.Post(ctx, &req)
}

// ReportForecast posts the result of a forecast request.
// reason is used only for incomplete forecasts.
func (q *Queue) ReportForecast(ctx context.Context, id uuid.UUID, t time.Time, complete bool, reason string) error {
	if complete {
		return q.Post(ctx, &ForecastComplete{RequestID: id, Time: t})
	}
	return q.Post(ctx, &ForecastIncomplete{RequestID: id, Time: t, Reason: reason})
}

// Next waits for the next protocol message. Messages of other kinds are skipped.
func (q *Queue) Next(ctx context.Context) (Message, error) {
	for {
		msg, err := q.conn.ReadBlocking(ctx, mq.AnyType)
		if mq.IsKind(err, mq.KindPayload) {
			q.cfg.Log.Warn("skipping undecodable message", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
		if m, ok := q.decode(msg); ok {
			return m, nil
		}
	}
}

// decode returns the protocol message of a queue message. Foreign and malformed
// messages are logged and skipped, so that they cannot stop the bus.
func (q *Queue) decode(msg *mq.Message) (Message, bool) {
	kind := Kind(msg.Type)
	if !kind.Valid() {
		q.cfg.Log.Debug("skipping foreign message", "id", msg.ID, "type", msg.Type)
		return nil, false
	}
	if msg.Subtype != wireVersion {
		q.cfg.Log.Warn("skipping message of unsupported version", "id", msg.ID, "kind", kind, "version", msg.Subtype)
		return nil, false
	}
	m, err := Unmarshal(kind, msg.Data)
	if err != nil {
		q.cfg.Log.Warn("skipping malformed message", "id", msg.ID, "error", err)
		return nil, false
	}
	return m, true
}

// Identify asks processes serving the queue to identify themselves, and collects responses.
// It stops after IdentifyRetries polls in a row bring no messages.
func (q *Queue) Identify(ctx context.Context) ([]*IdentifyResponse, error) {
	id := uuid.New()
	if err := q.Post(ctx, &IdentifyRequest{RequestID: id, Sender: q.cfg.Name, Time: time.Now()}); err != nil {
		return nil, err
	}
	var result []*IdentifyResponse
	for empty := 0; empty < q.cfg.IdentifyRetries; {
		msg, err := q.poll(ctx)
		if err != nil {
			return result, err
		}
		if msg == nil {
			empty++
			continue
		}
		empty = 0
		if m, ok := q.decode(msg); ok {
			if resp, ok := m.(*IdentifyResponse); ok && resp.RequestID == id {
				result = append(result, resp)
			}
		}
	}
	return result, nil
}

// poll waits for a message for not longer, than IdentifySleep.
// It returns nil message, if there were no messages.
func (q *Queue) poll(ctx context.Context) (*mq.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, q.cfg.IdentifySleep)
	defer cancel()
	msg, err := q.conn.ReadBlocking(pollCtx, mq.AnyType)
	for mq.IsKind(err, mq.KindPayload) {
		q.cfg.Log.Warn("skipping undecodable message", "error", err)
		msg, err = q.conn.ReadBlocking(pollCtx, mq.AnyType)
	}
	if err != nil {
		if ctx.Err() == nil && mq.IsKind(err, mq.KindCanceled) {
			return nil, nil
		}
		return nil, err
	}
	if msg == nil {
		// nonblocking queues do not wait.
		if err = sleepCtx(ctx, q.cfg.IdentifySleep); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Serve reads messages until ctx is done or the handler fails.
// Identify requests are answered in the queue, all other messages are passed to h.
func (q *Queue) Serve(ctx context.Context, h Handler) error {
	for {
		m, err := q.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if m == nil {
			if err = sleepCtx(ctx, q.cfg.IdentifySleep); err != nil {
				return err
			}
			continue
		}
		if req, ok := m.(*IdentifyRequest); ok {
			q.cfg.Log.Debug("answering identify request", "request_id", req.RequestID, "sender", req.Sender)
			resp := &IdentifyResponse{
				RequestID: req.RequestID,
				Name:      q.cfg.Name,
				Host:      q.host,
				PID:       int32(os.Getpid()),
				Time:      time.Now(),
			}
			if err = q.Post(ctx, resp); err != nil {
				return err
			}
			continue
		}
		if err = h.Handle(ctx, m); err != nil {
			return errors.Wrapf(err, "%s handler failed", m.Kind())
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
