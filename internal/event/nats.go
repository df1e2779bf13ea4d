// Package event publishes upload lifecycle events to NATS JetStream.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	StreamName = "REELHUB_UPLOADS"

	SubjectUploadCompleted = "upload.completed"
	SubjectUploadCancelled = "upload.cancelled"
	SubjectUploadExpired   = "upload.expired"
)

// UploadCompleted is the payload of upload.completed
type UploadCompleted struct {
	UploadID string `json:"upload_id"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// UploadClosed is the payload of upload.cancelled and upload.expired
type UploadClosed struct {
	UploadID string `json:"upload_id"`
}

// Publisher emits upload lifecycle events. Publishing is best effort, callers
// log failures and carry on.
type Publisher interface {
	PublishUploadCompleted(ctx context.Context, evt UploadCompleted) error
	PublishUploadCancelled(ctx context.Context, uploadID string) error
	PublishUploadExpired(ctx context.Context, uploadID string) error
	Close() error
}

// Envelope wraps every published event
type Envelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurred_at"`
	CorrelationID string      `json:"correlation_id"`
	Payload       interface{} `json:"payload"`
}

// noop is used when NATS is not configured or unreachable
type noop struct{}

func NewNoop() Publisher { return &noop{} }

func (n *noop) PublishUploadCompleted(ctx context.Context, evt UploadCompleted) error { return nil }
func (n *noop) PublishUploadCancelled(ctx context.Context, uploadID string) error      { return nil }
func (n *noop) PublishUploadExpired(ctx context.Context, uploadID string) error        { return nil }
func (n *noop) Close() error                                                           { return nil }

type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to url. An empty url or a failed connection falls back
// to a publisher that drops every event.
func NewPublisher(url string) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url,
		nats.Name("reelhub-api"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		log.Warn().
			Err(err).
			Str("url", url).
			Msg("NATS connect failed, using noop publisher")
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Warn().
			Err(err).
			Msg("NATS JetStream context creation failed, using noop publisher")
		nc.Close()
		return &noop{}
	}

	if err := initStream(js); err != nil {
		log.Warn().
			Err(err).
			Msg("NATS stream initialization failed, using noop publisher")
		nc.Close()
		return &noop{}
	}

	log.Info().
		Str("url", url).
		Str("stream", StreamName).
		Msg("publishing upload events to NATS")

	return &natsPub{nc: nc, js: js}
}

func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"upload.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", StreamName, err)
	}
	return nil
}

func (p *natsPub) publish(ctx context.Context, subject string, payload interface{}) error {
	b, err := json.Marshal(Envelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", subject, err)
	}
	if _, err := p.js.Publish(subject, b, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing %s event: %w", subject, err)
	}
	return nil
}

func (p *natsPub) PublishUploadCompleted(ctx context.Context, evt UploadCompleted) error {
	return p.publish(ctx, SubjectUploadCompleted, evt)
}

func (p *natsPub) PublishUploadCancelled(ctx context.Context, uploadID string) error {
	return p.publish(ctx, SubjectUploadCancelled, UploadClosed{UploadID: uploadID})
}

func (p *natsPub) PublishUploadExpired(ctx context.Context, uploadID string) error {
	return p.publish(ctx, SubjectUploadExpired, UploadClosed{UploadID: uploadID})
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
