package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type memBlobs struct {
	objects map[string][]byte
	failPut bool
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.failPut {
		return errors.New("upload refused")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memEventSource struct {
	events []domain.Event
}

func (s *memEventSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s.events {
		if e.Timestamp.Before(before) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEventSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.Event
	var n int64
	for _, e := range s.events {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func events(n int, step time.Duration) []domain.Event {
	out := make([]domain.Event, n)
	for i := range out {
		out[i] = domain.Event{ID: string(rune('a' + i)), Type: domain.EventBetPlaced, Timestamp: t0.Add(time.Duration(i) * step)}
	}
	return out
}

func TestArchiver_ArchiveEvents(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	src := &memEventSource{events: events(5, time.Hour)}
	a := NewArchiver(blobs, blobs, src, nil)

	n, err := a.ArchiveEvents(context.Background(), t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, src.events, 2)

	path := archivePath("events", t0.Add(3*time.Hour))
	require.Contains(t, blobs.objects, path)
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
	lines := 0
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestArchiver_NothingToArchive(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewArchiver(blobs, blobs, &memEventSource{}, nil)
	n, err := a.ArchiveEvents(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestArchiver_UploadFailureKeepsEvents(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}, failPut: true}
	src := &memEventSource{events: events(3, time.Hour)}
	a := NewArchiver(blobs, blobs, src, nil)
	_, err := a.ArchiveEvents(context.Background(), t0.Add(24*time.Hour))
	require.Error(t, err)
	assert.Len(t, src.events, 3)
}

func TestArchiver_FullBatchMovesCutoff(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	src := &memEventSource{events: events(4, time.Hour)}
	a := NewArchiver(blobs, blobs, src, nil)
	a.batch = 3

	n, err := a.ArchiveEvents(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, src.events, 2)
	assert.Equal(t, t0.Add(2*time.Hour), src.events[0].Timestamp)
}

func TestTrimToCutoff(t *testing.T) {
	same := []domain.Event{{Timestamp: t0}, {Timestamp: t0}}
	_, _, err := trimToCutoff(same, t0.Add(time.Hour), true)
	require.Error(t, err)

	evs := events(3, time.Minute)
	got, cutoff, err := trimToCutoff(evs, t0.Add(time.Hour), false)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, t0.Add(time.Hour), cutoff)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}
