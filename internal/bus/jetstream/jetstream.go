// Package jetstream adapts internal/bus's ports onto NATS JetStream,
// exercising the pack's own message-bus dependency
// (github.com/nats-io/nats.go) and matching the spec's "JetStream-style
// retention model" glossary entry.
package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Options configures a new Conn.
type Options struct {
	// URL is the NATS server URL, e.g. "nats://host:4222".
	URL string
	// ConnectTimeout bounds the initial dial when Open is called with
	// required=false (default 2s); it is not used when required is true.
	ConnectTimeout time.Duration
}

// conn wraps a *nats.Conn plus its JetStream context. Streams are created
// lazily, one per subject family, the first time a subject under that
// family is published or read.
type conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Open dials url and wraps the connection in JetStream. required=true
// blocks until connected (nats.go's own reconnect/retry handles the wait);
// required=false applies opts.ConnectTimeout and returns an error quickly
// on failure so ProcessContext can fall back to "no bus" (spec §4.4 step 3).
func Open(ctx context.Context, opts Options, required bool) (bus.Conn, error) {
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}

	natsOpts := []nats.Option{nats.Name("tcsd")}
	if required {
		natsOpts = append(natsOpts, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	} else {
		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		natsOpts = append(natsOpts, nats.Timeout(timeout))
	}

	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect to %s: %w", url, err)
	}
	if required {
		// RetryOnFailedConnect lets Connect return before the first dial
		// succeeds; wait here until the connection is actually up.
		for !nc.IsConnected() {
			select {
			case <-ctx.Done():
				nc.Close()
				return nil, fmt.Errorf("jetstream: connect to %s: %w", url, ctx.Err())
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: init context: %w", err)
	}

	return &conn{nc: nc, js: js}, nil
}

// Publish JSON-encodes payload and publishes it on subject, creating the
// owning stream on first use with LimitsPolicy retention (spec §6.1:
// "readers are expected on retained/journaled streams").
func (c *conn) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jetstream: marshal payload for %s: %w", subject, err)
	}
	if _, err := c.ensureStream(ctx, subject); err != nil {
		return err
	}
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream: publish %s: %w", subject, err)
	}
	return nil
}

// NewReader builds a Reader over subject (which may carry a wildcard)
// using the given start policy, mapped onto JetStream's deliver policies:
// bus.StartAll -> DeliverAllPolicy, bus.StartByTime -> DeliverByStartTimePolicy,
// bus.StartLastPerSubject -> DeliverLastPerSubjectPolicy.
func (c *conn) NewReader(subject string, policy bus.StartPolicy) (bus.Reader, error) {
	return &reader{conn: c, subject: subject, policy: policy}, nil
}

// Close drains and closes the underlying NATS connection.
func (c *conn) Close() error {
	c.nc.Close()
	return nil
}

// streamName derives a stable stream name from a subject's first two
// tokens (prefix.family), e.g. "svc.registry.start.foo" -> "svc_registry",
// "svc.status.foo" -> "svc_status".
func streamName(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return subject
	}
	return parts[0] + "_" + parts[1]
}

// familyWildcard returns the subject filter covering every message in
// subject's stream family, e.g. "svc.registry.start.foo" -> "svc.registry.>".
func familyWildcard(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return subject
	}
	return parts[0] + "." + parts[1] + ".>"
}

func (c *conn) ensureStream(ctx context.Context, subject string) (jetstream.Stream, error) {
	name := streamName(subject)
	stream, err := c.js.Stream(ctx, name)
	if err == nil {
		return stream, nil
	}
	return c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{familyWildcard(subject)},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
}

type reader struct {
	conn     *conn
	subject  string
	policy   bus.StartPolicy
	consumer jetstream.Consumer
	consume  jetstream.ConsumeContext
}

func (r *reader) deliverPolicy() (jetstream.DeliverPolicy, *time.Time) {
	switch r.policy.Kind {
	case bus.StartByTime:
		at := r.policy.At
		return jetstream.DeliverByStartTimePolicy, &at
	case bus.StartLastPerSubject:
		return jetstream.DeliverLastPerSubjectPolicy, nil
	default:
		return jetstream.DeliverAllPolicy, nil
	}
}

func (r *reader) ensureConsumer(ctx context.Context) (jetstream.Consumer, error) {
	if r.consumer != nil {
		return r.consumer, nil
	}
	name := streamName(r.subject)
	stream, err := r.conn.js.Stream(ctx, name)
	if err != nil {
		stream, err = r.conn.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{familyWildcard(r.subject)},
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("jetstream: ensure stream for %s: %w", r.subject, err)
		}
	}

	deliver, startTime := r.deliverPolicy()
	cfg := jetstream.ConsumerConfig{
		FilterSubject: r.subject,
		DeliverPolicy: deliver,
		AckPolicy:     jetstream.AckNonePolicy,
	}
	if startTime != nil {
		cfg.OptStartTime = startTime
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("jetstream: create consumer for %s: %w", r.subject, err)
	}
	r.consumer = consumer
	return consumer, nil
}

// Drain reads exactly the backlog currently buffered and returns, per
// spec §4.10's nowait=true snapshot semantics.
func (r *reader) Drain(ctx context.Context) ([]bus.Message, error) {
	consumer, err := r.ensureConsumer(ctx)
	if err != nil {
		return nil, err
	}

	var out []bus.Message
	for {
		batch, err := consumer.Fetch(256, jetstream.FetchMaxWait(200*time.Millisecond))
		if err != nil {
			return nil, fmt.Errorf("jetstream: fetch %s: %w", r.subject, err)
		}
		n := 0
		for msg := range batch.Messages() {
			out = append(out, bus.Message{Subject: msg.Subject(), Data: msg.Data()})
			n++
		}
		if err := batch.Error(); err != nil {
			return out, fmt.Errorf("jetstream: batch %s: %w", r.subject, err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// Follow starts a continuous JetStream Consume loop, invoking handler for
// every delivered message until Stop is called or ctx is cancelled.
func (r *reader) Follow(ctx context.Context, handler func(bus.Message)) error {
	consumer, err := r.ensureConsumer(ctx)
	if err != nil {
		return err
	}

	consume, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(bus.Message{Subject: msg.Subject(), Data: msg.Data()})
	})
	if err != nil {
		return fmt.Errorf("jetstream: consume %s: %w", r.subject, err)
	}
	r.consume = consume

	go func() {
		<-ctx.Done()
		consume.Stop()
	}()
	return nil
}

// Stop cancels an in-progress Follow.
func (r *reader) Stop() error {
	if r.consume != nil {
		r.consume.Stop()
	}
	return nil
}
