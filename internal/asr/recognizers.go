package asr

import (
	"context"
	"errors"

	"github.com/voicegate/gateway/internal/asrpool"
	"github.com/voicegate/gateway/internal/pipeline"
)

// RemoteRecognizer wraps the reference provider HTTP client for the
// "remote streaming" adapter variant named by §4.7. The provider
// protocol's own partial/final hypothesis streaming is the provider
// client's concern (pipeline.ASRClient); this adapter only needs the
// final transcript.
type RemoteRecognizer struct {
	client *pipeline.ASRClient
}

// NewRemoteRecognizer builds a Recognizer over an ASRClient.
func NewRemoteRecognizer(client *pipeline.ASRClient) *RemoteRecognizer {
	return &RemoteRecognizer{client: client}
}

// Recognize implements Recognizer.
func (r *RemoteRecognizer) Recognize(ctx context.Context, pcm []float32, sessionID, format string) (string, error) {
	res, err := r.client.Transcribe(ctx, pcm)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// LocalPoolRecognizer adapts the process-wide SharedASRPool to the
// per-session Recognizer interface, the "Local shared: delegates to
// §4.8" variant.
type LocalPoolRecognizer struct {
	pool *asrpool.Pool
}

// NewLocalPoolRecognizer builds a Recognizer over a shared pool.
func NewLocalPoolRecognizer(pool *asrpool.Pool) *LocalPoolRecognizer {
	return &LocalPoolRecognizer{pool: pool}
}

// Recognize implements Recognizer, translating asrpool.ErrBusy and
// asrpool.ErrShuttingDown into the adapter's own ErrBusy sentinel so
// recognize() triggers the busy notifier instead of a hard error.
func (r *LocalPoolRecognizer) Recognize(ctx context.Context, pcm []float32, sessionID, format string) (string, error) {
	res, err := r.pool.Submit(ctx, asrpool.Request{Audio: pcm, SessionID: sessionID, Format: format})
	if err != nil {
		if errors.Is(err, asrpool.ErrBusy) || errors.Is(err, asrpool.ErrShuttingDown) {
			return "", ErrBusy
		}
		return "", err
	}
	return res.Text, nil
}
