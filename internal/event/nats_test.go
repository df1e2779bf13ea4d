package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"Empty URL", ""},
		{"Unreachable server", "nats://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPublisher(tt.url)
			_, ok := p.(*noop)
			assert.True(t, ok)

			ctx := context.Background()
			assert.NoError(t, p.PublishUploadCompleted(ctx, UploadCompleted{UploadID: "x"}))
			assert.NoError(t, p.PublishUploadCancelled(ctx, "x"))
			assert.NoError(t, p.PublishUploadExpired(ctx, "x"))
			assert.NoError(t, p.Close())
		})
	}
}
