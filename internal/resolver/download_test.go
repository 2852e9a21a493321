package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

type directClient struct {
	baseClient
	directFn func(ctx context.Context, magnet models.Magnet, fileID string) (*models.DownloadResult, error)
}

func (c *directClient) DirectLink(ctx context.Context, magnet models.Magnet, fileID string) (*models.DownloadResult, error) {
	return c.directFn(ctx, magnet, fileID)
}

type recordedDownload struct {
	title, source, url string
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []recordedDownload
	done    chan struct{}
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{done: make(chan struct{}, 1)}
}

func (h *fakeHistory) Record(ctx context.Context, title, source, url string) error {
	h.mu.Lock()
	h.entries = append(h.entries, recordedDownload{title, source, url})
	h.mu.Unlock()
	h.done <- struct{}{}
	return nil
}

func (h *fakeHistory) wait(t *testing.T) recordedDownload {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("history record never arrived")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

// seedAvailability plants a record for the hash through a one-shot bulk pass.
func seedAvailability(t *testing.T, r *AvailabilityResolver, record *models.AvailabilityRecord) {
	t.Helper()
	client := &bulkClient{
		baseClient: baseClient{name: "seed"},
		checkFn: func(ctx context.Context, hashes []string) (map[string]*models.AvailabilityRecord, error) {
			return map[string]*models.AvailabilityRecord{record.Hash: record}, nil
		},
	}
	_, err := r.Resolve(context.Background(), client, magnets(record.Hash))
	require.NoError(t, err)
}

func newTestDownloadResolver(history HistoryRecorder) (*DownloadResolver, *AvailabilityResolver) {
	availability := NewAvailabilityResolver(0, nil)
	d := NewDownloadResolver(availability, history, nil)
	d.pollInterval = time.Millisecond
	return d, availability
}

func TestResolveFullFlow(t *testing.T) {
	history := newFakeHistory()
	d, availability := newTestDownloadResolver(history)
	seedAvailability(t, availability, fullRecord("aaa", time.Time{}))

	polls := 0
	client := &baseClient{
		name: "provider",
		addFn: func(ctx context.Context, magnetLink string) (string, error) {
			assert.Contains(t, magnetLink, "aaa")
			return "TOR1", nil
		},
		selectFn: func(ctx context.Context, torrentID string, fileIDs []string) error {
			assert.Equal(t, "TOR1", torrentID)
			assert.Nil(t, fileIDs, "no explicit choice selects everything")
			return nil
		},
		pollFn: func(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
			polls++
			if polls < 3 {
				return &debrid.Torrent{ID: torrentID, Status: "downloading"}, nil
			}
			return &debrid.Torrent{ID: torrentID, Status: "downloaded", Ready: true, Links: []string{"internal://link"}}, nil
		},
		resolveFn: func(ctx context.Context, link string) (*models.DownloadResult, error) {
			assert.Equal(t, "internal://link", link)
			return &models.DownloadResult{URL: "https://cdn/movie.mkv", Filename: "movie.mkv"}, nil
		},
	}

	result, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/movie.mkv", result.URL)
	assert.Equal(t, 3, polls, "not ready is polled again, never trusted")
	assert.Equal(t, StateResolved, d.State())

	entry := history.wait(t)
	assert.Equal(t, recordedDownload{"movie.mkv", "provider", "https://cdn/movie.mkv"}, entry)
}

func TestResolvePartialWithoutFileStopsForSelection(t *testing.T) {
	d, availability := newTestDownloadResolver(nil)
	record := fullRecord("aaa", time.Time{})
	record.Files = append(record.Files, models.File{ID: "2", Name: "e02.mkv"})
	record.Batches = []models.Batch{{ID: "0", Files: record.Files}}
	seedAvailability(t, availability, record)

	// Every client method would fail the test if reached.
	client := &baseClient{name: "provider"}

	_, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	var selErr *FileSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Len(t, selErr.Record.Files, 2)
	assert.Equal(t, StateFileSelection, d.State())
}

func TestResolvePartialWithFileSelectsBatch(t *testing.T) {
	d, availability := newTestDownloadResolver(nil)
	record := &models.AvailabilityRecord{
		Hash: "aaa",
		Files: []models.File{
			{ID: "1", Name: "e01.mkv"},
			{ID: "2", Name: "e02.mkv"},
			{ID: "3", Name: "e03.mkv"},
		},
		Batches: []models.Batch{
			{ID: "0", Files: []models.File{{ID: "1", Name: "e01.mkv"}, {ID: "2", Name: "e02.mkv"}}},
			{ID: "1", Files: []models.File{{ID: "3", Name: "e03.mkv"}}},
		},
	}
	seedAvailability(t, availability, record)

	var selected []string
	client := &baseClient{
		name:  "provider",
		addFn: func(ctx context.Context, magnetLink string) (string, error) { return "TOR1", nil },
		selectFn: func(ctx context.Context, torrentID string, fileIDs []string) error {
			selected = fileIDs
			return nil
		},
		pollFn: func(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
			return &debrid.Torrent{ID: torrentID, Ready: true, Links: []string{"link-1", "link-2"}}, nil
		},
		resolveFn: func(ctx context.Context, link string) (*models.DownloadResult, error) {
			return &models.DownloadResult{URL: link}, nil
		},
	}

	result, err := d.Resolve(context.Background(), client, models.DownloadRequest{
		Magnet: models.Magnet{Hash: "aaa"},
		FileID: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, selected, "the whole cached batch containing the file")
	assert.Equal(t, "link-2", result.URL, "links align with the selected files")
}

func TestResolveSecondRequestWhileInFlight(t *testing.T) {
	d, availability := newTestDownloadResolver(nil)
	seedAvailability(t, availability, fullRecord("aaa", time.Time{}))

	entered := make(chan struct{})
	release := make(chan struct{})
	var adds atomic.Int32
	client := &baseClient{
		name: "provider",
		addFn: func(ctx context.Context, magnetLink string) (string, error) {
			adds.Add(1)
			close(entered)
			<-release
			return "TOR1", nil
		},
		selectFn: func(ctx context.Context, torrentID string, fileIDs []string) error { return nil },
		pollFn: func(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
			return &debrid.Torrent{ID: torrentID, Ready: true, Links: []string{"link"}}, nil
		},
		resolveFn: func(ctx context.Context, link string) (*models.DownloadResult, error) {
			return &models.DownloadResult{URL: link}, nil
		},
	}

	first := make(chan error, 1)
	go func() {
		_, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
		first <- err
	}()
	<-entered

	_, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	require.ErrorIs(t, err, ErrResolutionInFlight)
	assert.EqualValues(t, 1, adds.Load(), "the ignored request touches no provider state")

	close(release)
	require.NoError(t, <-first)

	// The guard releases: a later request proceeds normally.
	client.addFn = func(ctx context.Context, magnetLink string) (string, error) {
		adds.Add(1)
		return "TOR2", nil
	}
	_, err = d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, adds.Load())
}

func TestResolveDirectDownloaderSkipsSubmission(t *testing.T) {
	history := newFakeHistory()
	d, availability := newTestDownloadResolver(history)
	seedAvailability(t, availability, fullRecord("aaa", time.Time{}))

	client := &directClient{
		// nil baseClient funcs fail the flow if the submit cycle is entered.
		baseClient: baseClient{name: "direct"},
		directFn: func(ctx context.Context, magnet models.Magnet, fileID string) (*models.DownloadResult, error) {
			assert.Equal(t, "aaa", magnet.Hash)
			return &models.DownloadResult{URL: "https://cdn/movie.mkv", Filename: "movie.mkv"}, nil
		},
	}

	result, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/movie.mkv", result.URL)
	history.wait(t)
}

func TestResolvePollBudgetExhaustedCleansUp(t *testing.T) {
	d, availability := newTestDownloadResolver(nil)
	seedAvailability(t, availability, fullRecord("aaa", time.Time{}))
	d.pollAttempts = 3

	deleted := make(chan string, 1)
	polls := 0
	client := &baseClient{
		name:     "provider",
		addFn:    func(ctx context.Context, magnetLink string) (string, error) { return "TOR1", nil },
		selectFn: func(ctx context.Context, torrentID string, fileIDs []string) error { return nil },
		pollFn: func(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
			polls++
			return &debrid.Torrent{ID: torrentID, Status: "downloading"}, nil
		},
		deleteFn: func(ctx context.Context, torrentID string) error {
			deleted <- torrentID
			return nil
		},
	}

	_, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "aaa"}})
	require.Error(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, StateFailed, d.State())
	assert.Equal(t, "TOR1", <-deleted)
}

func TestResolveUnknownHashSubmitsEverything(t *testing.T) {
	d, _ := newTestDownloadResolver(nil)

	var selected []string
	selectedSet := false
	client := &baseClient{
		name:  "provider",
		addFn: func(ctx context.Context, magnetLink string) (string, error) { return "TOR1", nil },
		selectFn: func(ctx context.Context, torrentID string, fileIDs []string) error {
			selected, selectedSet = fileIDs, true
			return nil
		},
		pollFn: func(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
			return &debrid.Torrent{ID: torrentID, Ready: true, Links: []string{"link"}}, nil
		},
		resolveFn: func(ctx context.Context, link string) (*models.DownloadResult, error) {
			return &models.DownloadResult{URL: link}, nil
		},
	}

	// No availability record for this hash at all.
	_, err := d.Resolve(context.Background(), client, models.DownloadRequest{Magnet: models.Magnet{Hash: "zzz"}})
	require.NoError(t, err)
	require.True(t, selectedSet)
	assert.Nil(t, selected)
}
