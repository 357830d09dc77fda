package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepaliveInterval = 10 * time.Second

// EventStream fans payment events from JetStream out to Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for reading the payment stream.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, js, err := natspkg.Connect(natsURL, "solpay-sse")
	if err != nil {
		return nil, err
	}

	logger.Info("event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (s *EventStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("event stream closed")
	}
	return nil
}

// streamFilter returns the subject and deliver policy for a stream request.
// Following a single payment replays its history so a late subscriber still
// sees the events already published; the firehose only delivers new ones.
func streamFilter(signature string) (string, jetstream.DeliverPolicy) {
	if signature == "" {
		return natspkg.StreamSubjects, jetstream.DeliverNewPolicy
	}
	return natspkg.Subject(signature), jetstream.DeliverAllPolicy
}

// writeSSE writes one Server-Sent Event frame.
func writeSSE(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleStreamPayments handles SSE streaming for payment events.
// If the signature path parameter is empty, streams every payment.
func handleStreamPayments(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		subject, deliver := streamFilter(signature)

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(r.Context(), "could not clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		rc.Flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer, removed once the connection goes away
		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     deliver,
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			writeSSE(w, "error", []byte(`{"error":"failed to subscribe"}`))
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"subject": subject})
		writeSSE(w, "connected", connected)
		rc.Flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				rc.Flush()

			case msg := <-msgChan:
				var event natspkg.PaymentEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				data, err := json.Marshal(event)
				if err != nil {
					msg.Ack()
					continue
				}

				writeSSE(w, "payment", data)
				rc.Flush()
				msg.Ack()

				logger.DebugContext(r.Context(), "sent payment event",
					"type", event.Type,
					"signature", event.Signature,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
