// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/SpendPilot/internal/logger"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
)

const (
	streamName = "SPENDPILOT"

	headerRequestID  = "X-Request-ID"
	headerTenantID   = "X-Tenant-ID"
	headerRetryCount = "Retry-Count"
	headerDLQReason  = "DLQ-Reason"

	maxRetries = 3
	dlqSuffix  = ".dlq"
)

// streamSubjects are the subject trees captured by the stream, including
// their dead-letter copies.
var streamSubjects = []string{"decisions.>", "payments.>", "feedback.>"}

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("spendpilot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: streamSubjects,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish validates data against the subject schema and sends it. The
// request and tenant ids from ctx travel in headers.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if id := logger.TenantID(ctx); id != "" {
		msg.Header.Set(headerTenantID, id)
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a durable consumer for subject. Messages that fail
// schema validation go straight to "<subject>.dlq"; handler failures are
// retried up to maxRetries times before the same happens.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hdrs := msg.Headers()
	if id := hdrs.Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	if id := hdrs.Get(headerTenantID); id != "" {
		ctx = logger.WithTenantID(ctx, id)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		slog.Warn("invalid message moved to dlq", "subject", msg.Subject(), "error", err)
		q.moveToDLQ(ctx, msg, err)
		return
	}

	err := handler(ctx, msg.Subject(), msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
		return
	}

	retries := retryCount(hdrs)
	slog.Error("message handler failed", "subject", msg.Subject(), "retry", retries, "error", err)
	if retries >= maxRetries {
		q.moveToDLQ(ctx, msg, err)
		return
	}
	q.republish(ctx, msg, retries+1)
}

// republish re-queues msg with an incremented retry counter and acks the original.
func (q *Queue) republish(ctx context.Context, msg jetstream.Msg, retry int) {
	out := &nats.Msg{Subject: msg.Subject(), Data: msg.Data(), Header: copyHeader(msg.Headers())}
	out.Header.Set(headerRetryCount, strconv.Itoa(retry))
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.Error("nats retry publish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	_ = msg.Ack()
}

func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg, reason error) {
	out := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: copyHeader(msg.Headers())}
	out.Header.Set(headerDLQReason, reason.Error())
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.Error("nats dlq publish failed", "subject", out.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// KeyValue returns the KV bucket with the given name, creating it with ttl
// when it does not exist.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	kv, err = q.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, TTL: ttl})
	if err != nil {
		return nil, fmt.Errorf("nats kv create %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

func copyHeader(h nats.Header) nats.Header {
	out := nats.Header{}
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// durableName derives a consumer name from a subject; JetStream rejects
// dots and wildcards in durable names.
func durableName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return "spendpilot_" + r.Replace(subject)
}
