package chat

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/memorahq/memora/internal/errors"
)

type fakeMedia struct {
	audioCalls atomic.Int64
	videoCalls atomic.Int64
}

type trackedStream struct {
	io.Reader
	closed atomic.Bool
}

func (s *trackedStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (m *fakeMedia) MessageAudio(ctx context.Context, recordID string) (io.ReadCloser, error) {
	m.audioCalls.Add(1)
	return &trackedStream{Reader: strings.NewReader("AUDIO:" + recordID)}, nil
}

func (m *fakeMedia) MessageVideoURL(ctx context.Context, recordID string) (string, error) {
	m.videoCalls.Add(1)
	return "https://cdn.example.test/videos/" + recordID + ".mp4", nil
}

func TestPlayAudio_ClosesPreviousStream(t *testing.T) {
	p := NewPlayback(&fakeMedia{})
	ctx := context.Background()

	first, err := p.PlayAudio(ctx, "msg-1")
	if err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}

	second, err := p.PlayAudio(ctx, "msg-2")
	if err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}

	if !first.(*trackedStream).closed.Load() {
		t.Error("previous stream left open after new playback started")
	}
	if second.(*trackedStream).closed.Load() {
		t.Error("active stream closed prematurely")
	}
	if p.PlayingID() != "msg-2" {
		t.Errorf("PlayingID() = %q", p.PlayingID())
	}
}

func TestStopAudio_ReleasesStream(t *testing.T) {
	p := NewPlayback(&fakeMedia{})

	stream, err := p.PlayAudio(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}

	p.StopAudio()
	if !stream.(*trackedStream).closed.Load() {
		t.Error("stream not closed by StopAudio")
	}
	if p.PlayingID() != "" {
		t.Errorf("PlayingID() = %q after stop", p.PlayingID())
	}

	p.StopAudio() // idempotent
}

func TestPlayAudio_RejectsPendingEntry(t *testing.T) {
	p := NewPlayback(&fakeMedia{})
	if _, err := p.PlayAudio(context.Background(), ""); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestVideoURL_CachedPerRecord(t *testing.T) {
	media := &fakeMedia{}
	p := NewPlayback(media)
	ctx := context.Background()

	first, err := p.VideoURL(ctx, "msg-1")
	if err != nil {
		t.Fatalf("VideoURL() error = %v", err)
	}
	second, err := p.VideoURL(ctx, "msg-1")
	if err != nil {
		t.Fatalf("VideoURL() error = %v", err)
	}
	if first != second || first != "https://cdn.example.test/videos/msg-1.mp4" {
		t.Errorf("urls = %q, %q", first, second)
	}
	if media.videoCalls.Load() != 1 {
		t.Errorf("video url fetched %d times, want 1", media.videoCalls.Load())
	}

	if _, err := p.VideoURL(ctx, "msg-2"); err != nil {
		t.Fatalf("VideoURL() error = %v", err)
	}
	if media.videoCalls.Load() != 2 {
		t.Errorf("video url fetched %d times, want 2", media.videoCalls.Load())
	}
}
