package chat

import (
	"context"
	"io"
	"sync"

	"github.com/memorahq/memora/internal/errors"
)

// MediaSource fetches reply media for confirmed chat records.
type MediaSource interface {
	MessageAudio(ctx context.Context, recordID string) (io.ReadCloser, error)
	MessageVideoURL(ctx context.Context, recordID string) (string, error)
}

// Playback enforces single-stream audio for a conversation: starting a new
// stream closes the previous one, and every exit path releases the current
// stream. Video URLs are fetched lazily and cached per record.
type Playback struct {
	source MediaSource

	mu        sync.Mutex
	current   io.ReadCloser
	currentID string
	videoURLs map[string]string
}

// NewPlayback creates a Playback over the given media source.
func NewPlayback(source MediaSource) *Playback {
	return &Playback{source: source, videoURLs: map[string]string{}}
}

// PlayAudio fetches the reply audio for a confirmed record and makes it the
// active stream, closing whatever was playing before. Pending entries have
// no record id and cannot be played.
func (p *Playback) PlayAudio(ctx context.Context, recordID string) (io.ReadCloser, error) {
	if recordID == "" {
		return nil, errors.NewInvalidRequest("no audio for a pending message")
	}

	stream, err := p.source.MessageAudio(ctx, recordID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	previous := p.current
	p.current = stream
	p.currentID = recordID
	p.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return stream, nil
}

// StopAudio closes the active stream, if any.
func (p *Playback) StopAudio() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.currentID = ""
	p.mu.Unlock()

	if current != nil {
		current.Close()
	}
}

// PlayingID returns the record id of the active stream, empty when idle.
func (p *Playback) PlayingID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentID
}

// VideoURL returns the reply video URL for a record, fetching it on first
// use and serving the cache afterwards.
func (p *Playback) VideoURL(ctx context.Context, recordID string) (string, error) {
	if recordID == "" {
		return "", errors.NewInvalidRequest("no video for a pending message")
	}

	p.mu.Lock()
	url, ok := p.videoURLs[recordID]
	p.mu.Unlock()
	if ok {
		return url, nil
	}

	url, err := p.source.MessageVideoURL(ctx, recordID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.videoURLs[recordID] = url
	p.mu.Unlock()
	return url, nil
}

// Close releases playback resources. Safe to call more than once.
func (p *Playback) Close() {
	p.StopAudio()
}
