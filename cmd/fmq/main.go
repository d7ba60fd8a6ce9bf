// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Command fmq administers file message queues.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/mq"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `  fmq administers file message queues.
available commands:
  create              create a queue or reinitialize an existing one
  destroy             remove queue files
  write               write stdin as one message
  read                read one message to stdout
  tail                print headers of new messages until interrupted
  stat                print queue status
  check               validate queue files
  monitor             serve queue metrics for prometheus
`

var errNoMessages = errors.New("no messages")

// app holds parsed command line arguments.
type app struct {
	cfg     *Config
	cmd     string
	typ     int
	subtype int
	timeout time.Duration
	stdin   io.Reader
	stdout  io.Writer
}

func parseArgs(args []string, stdin io.Reader, stdout io.Writer) (*app, error) {
	fs := flag.NewFlagSet("fmq", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "path to a yaml config file")
	queue := fs.String("queue", "", "queue name, overrides the config")
	typ := fs.Int("type", -1, "message type. for read and tail -1 means any type")
	subtype := fs.Int("subtype", 0, "message subtype for write")
	timeout := fs.Duration("timeout", 0, "max wait time for read and write. 0 means do not wait for read")
	fs.Usage = func() {
		fmt.Fprint(stdout, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one command must be given")
	}
	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *queue != "" {
		cfg.Queue = *queue
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue name is not set")
	}
	return &app{
		cfg:     cfg,
		cmd:     fs.Arg(0),
		typ:     *typ,
		subtype: *subtype,
		timeout: *timeout,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

func (a *app) run(ctx context.Context) error {
	opts, err := a.cfg.Options()
	if err != nil {
		return err
	}
	switch a.cmd {
	case "create":
		return a.create(opts)
	case "destroy":
		return mq.Destroy(a.cfg.Queue)
	case "write":
		return a.withQueue(fmq.O_READWRITE, opts, func(q *mq.Queue) error { return a.write(ctx, q) })
	case "read":
		opts.OpenPosition = mq.PositionNext
		return a.withQueue(fmq.O_READWRITE, opts, func(q *mq.Queue) error { return a.read(ctx, q) })
	case "tail":
		opts.OpenPosition = mq.PositionEnd
		return a.withQueue(fmq.O_READ_ONLY, opts, func(q *mq.Queue) error { return a.tail(ctx, q) })
	case "stat":
		return a.withQueue(fmq.O_READ_ONLY, opts, a.stat)
	case "check":
		return a.withQueue(fmq.O_READ_ONLY, opts, a.check)
	case "monitor":
		return a.withQueue(fmq.O_READ_ONLY, opts, func(q *mq.Queue) error { return a.monitor(ctx, q) })
	default:
		return errors.Errorf("unknown command %q", a.cmd)
	}
}

func (a *app) withQueue(mode int, opts *mq.Options, f func(q *mq.Queue) error) error {
	q, err := mq.OpenExisting(a.cfg.Queue, mode, opts)
	if err != nil {
		return err
	}
	defer q.Close()
	return f(q)
}

func (a *app) create(opts *mq.Options) error {
	q, err := mq.Create(a.cfg.Queue, opts)
	if err != nil {
		return err
	}
	defer q.Close()
	fmt.Fprintf(a.stdout, "created %s: %d slots, %s buffer\n", q.Name(), q.NSlots(), humanize.IBytes(uint64(q.BufSize())))
	return nil
}

func (a *app) write(ctx context.Context, q *mq.Queue) error {
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return errors.Wrap(err, "failed to read stdin")
	}
	typ := a.typ
	if typ < 0 {
		typ = 0
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err = q.WriteCtx(ctx, mq.WriteRequest{Type: int32(typ), Subtype: int32(a.subtype), Data: data}); err != nil {
		return err
	}
	return q.Sync()
}

func (a *app) read(ctx context.Context, q *mq.Queue) error {
	var msg *mq.Message
	var err error
	if a.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		msg, err = q.ReadBlocking(ctx, int32(a.typ))
	} else {
		var got bool
		if got, err = q.ReadMsg(int32(a.typ)); got {
			msg = &mq.Message{Data: q.Msg()}
		}
	}
	if err != nil {
		return err
	}
	if msg == nil {
		return errNoMessages
	}
	_, err = a.stdout.Write(msg.Data)
	return err
}

func (a *app) tail(ctx context.Context, q *mq.Queue) error {
	for {
		msg, err := q.ReadBlocking(ctx, int32(a.typ))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg.Skipped > 0 {
			fmt.Fprintf(a.stdout, "skipped %d messages\n", msg.Skipped)
		}
		fmt.Fprintf(a.stdout, "id=%d type=%d subtype=%d len=%d compression=%s time=%s\n",
			msg.ID, msg.Type, msg.Subtype, len(msg.Data), msg.Compression, msg.Time.Format(time.RFC3339Nano))
	}
}

func (a *app) stat(q *mq.Queue) error {
	st, err := q.Stat()
	if err != nil {
		return err
	}
	mode := "append"
	if !st.AppendMode {
		mode = "insert"
	}
	w := a.stdout
	fmt.Fprintf(w, "queue:          %s\n", q.Name())
	fmt.Fprintf(w, "slots:          %d of %d used\n", st.Live(), st.NSlots)
	fmt.Fprintf(w, "buffer:         %s of %s used\n", humanize.IBytes(uint64(st.Used())), humanize.IBytes(uint64(st.BufSize)))
	fmt.Fprintf(w, "youngest id:    %s\n", humanize.Comma(st.YoungestID))
	fmt.Fprintf(w, "last id read:   %s\n", humanize.Comma(st.LastIDRead))
	fmt.Fprintf(w, "unread:         %d\n", st.Unread())
	fmt.Fprintf(w, "mode:           %s\n", mode)
	fmt.Fprintf(w, "insert region:  [%d, %d)\n", st.BeginInsert, st.EndInsert)
	fmt.Fprintf(w, "append offset:  %d\n", st.BeginAppend)
	fmt.Fprintf(w, "writer blocked: %v\n", st.BlockingWrite)
	fmt.Fprintf(w, "resets:         %d\n", st.ResetCount)
	fmt.Fprintf(w, "created:        %s\n", humanize.Time(st.TimeCreated))
	fmt.Fprintf(w, "written:        %s\n", humanize.Time(st.TimeWritten))
	return nil
}

func (a *app) check(q *mq.Queue) error {
	if err := q.Check(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "ok")
	return nil
}

func (a *app) monitor(ctx context.Context, q *mq.Queue) error {
	name := a.cfg.Monitor.Name
	if name == "" {
		name = q.Name()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		mq.NewCollector(q, name),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Monitor.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              a.cfg.Monitor.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	fmt.Fprintf(a.stdout, "serving metrics of %s on %s%s\n", q.Name(), a.cfg.Monitor.Listen, a.cfg.Monitor.Path)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "metrics server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	a, err := parseArgs(os.Args[1:], os.Stdin, os.Stdout)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err = a.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		if err == errNoMessages {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
