package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

// ErrResolutionInFlight is returned when a resolution is started while
// another is active. The new request is a no-op.
var ErrResolutionInFlight = errors.New("a download resolution is already in flight")

// FileSelectionError reports that the availability record holds multiple
// candidate files and the caller must re-submit with a FileID.
type FileSelectionError struct {
	Record *models.AvailabilityRecord
}

func (e *FileSelectionError) Error() string {
	return fmt.Sprintf("magnet %s requires file selection", e.Record.Hash)
}

// State is the download resolver's observable position in its flow.
type State string

const (
	StateIdle                 State = "idle"
	StateSubmitting           State = "submitting"
	StateFileSelection        State = "file_selection_pending"
	StateAwaitingFinalization State = "awaiting_finalization"
	StateResolved             State = "resolved"
	StateFailed               State = "failed"
)

// HistoryRecorder receives a fire-and-forget record of every completed
// download. Implemented by the database history store.
type HistoryRecorder interface {
	Record(ctx context.Context, title, source, url string) error
}

// DownloadResolver drives the provider-specific multi-step flow from a
// selected magnet to a final streamable URL. At most one resolution runs at
// a time; further selections while one is active are ignored.
type DownloadResolver struct {
	availability *AvailabilityResolver
	history      HistoryRecorder
	logger       *slog.Logger

	inFlight atomic.Bool
	mu       sync.Mutex
	state    State

	pollInterval time.Duration
	pollAttempts int
	now          func() time.Time
}

// NewDownloadResolver creates the download resolver. history may be nil.
func NewDownloadResolver(availability *AvailabilityResolver, history HistoryRecorder, logger *slog.Logger) *DownloadResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadResolver{
		availability: availability,
		history:      history,
		logger:       logger.With("component", "download"),
		state:        StateIdle,
		pollInterval: 2 * time.Second,
		pollAttempts: 15,
		now:          time.Now,
	}
}

// State returns the resolver's current position in the flow.
func (d *DownloadResolver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DownloadResolver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Resolve turns the request into a final URL. A partial availability record
// without a FileID stops at file selection and returns FileSelectionError;
// the caller re-submits with the chosen file. The in-flight guard is
// released on every exit, including cancellation, so a later attempt is
// never permanently blocked.
func (d *DownloadResolver) Resolve(ctx context.Context, client debrid.Client, req models.DownloadRequest) (*models.DownloadResult, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return nil, ErrResolutionInFlight
	}
	defer d.inFlight.Store(false)

	d.setState(StateSubmitting)

	record := d.availability.Record(req.Magnet.Hash)
	if record.StatusAt(d.now()) == models.StatusPartial && req.FileID == "" {
		d.setState(StateFileSelection)
		return nil, &FileSelectionError{Record: record}
	}

	result, err := d.resolve(ctx, client, req, record)
	if err != nil {
		d.setState(StateFailed)
		d.logger.Warn("download resolution failed", "provider", client.Name(), "hash", req.Magnet.Hash, "error", err)
		return nil, err
	}

	d.setState(StateResolved)
	d.logger.Info("download resolved", "provider", client.Name(), "hash", req.Magnet.Hash)
	d.recordHistory(ctx, client.Name(), req, result)
	return result, nil
}

func (d *DownloadResolver) resolve(ctx context.Context, client debrid.Client, req models.DownloadRequest, record *models.AvailabilityRecord) (*models.DownloadResult, error) {
	// Providers with direct per-magnet downloads skip the whole
	// submit/select/poll cycle.
	if direct, ok := client.(debrid.DirectDownloader); ok {
		d.setState(StateAwaitingFinalization)
		return direct.DirectLink(ctx, req.Magnet, req.FileID)
	}

	torrentID, err := client.AddMagnet(ctx, req.Magnet.MagnetLink())
	if err != nil {
		return nil, err
	}

	selected := d.selection(record, req.FileID)
	if err := client.SelectFiles(ctx, torrentID, selected); err != nil {
		d.cleanup(ctx, client, torrentID)
		return nil, err
	}

	d.setState(StateAwaitingFinalization)
	torrent, err := d.pollUntilReady(ctx, client, torrentID)
	if err != nil {
		d.cleanup(ctx, client, torrentID)
		return nil, err
	}

	link, err := pickLink(torrent, selected, req.FileID)
	if err != nil {
		d.cleanup(ctx, client, torrentID)
		return nil, err
	}
	return client.ResolveLink(ctx, link)
}

// selection maps the chosen file to the provider file ids to materialize:
// the batch containing the file when the record has batches, the file alone
// otherwise, and nil ("all") when nothing was chosen.
func (d *DownloadResolver) selection(record *models.AvailabilityRecord, fileID string) []string {
	if record == nil || fileID == "" {
		return nil
	}
	for _, batch := range record.Batches {
		for _, f := range batch.Files {
			if f.ID == fileID {
				ids := make([]string, len(batch.Files))
				for i, bf := range batch.Files {
					ids[i] = bf.ID
				}
				return ids
			}
		}
	}
	return []string{fileID}
}

// cleanup removes a submitted torrent after a failed resolution so the
// provider account is not left with a stale entry.
func (d *DownloadResolver) cleanup(ctx context.Context, client debrid.Client, torrentID string) {
	if err := client.DeleteMagnet(ctx, torrentID); err != nil {
		d.logger.Warn("torrent cleanup failed", "id", torrentID, "error", err)
	}
}

// pollUntilReady polls the torrent status until the provider marks it ready.
// Cached torrents normally finish on the first poll; the loop guards against
// treating "processing" as "ready".
func (d *DownloadResolver) pollUntilReady(ctx context.Context, client debrid.Client, torrentID string) (*debrid.Torrent, error) {
	for attempt := 0; attempt < d.pollAttempts; attempt++ {
		torrent, err := client.PollStatus(ctx, torrentID)
		if err != nil {
			return nil, err
		}
		if torrent.Ready {
			return torrent, nil
		}
		d.logger.Debug("torrent not ready", "id", torrentID, "status", torrent.Status, "attempt", attempt+1)

		timer := time.NewTimer(d.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("torrent %s not ready after %d polls", torrentID, d.pollAttempts)
}

// pickLink chooses the provider-internal link for the requested file. Links
// align with the selected files in order; with no selection the single link
// is taken, or the first of many.
func pickLink(torrent *debrid.Torrent, selected []string, fileID string) (string, error) {
	if len(torrent.Links) == 0 {
		return "", fmt.Errorf("%w: torrent has no links", debrid.ErrEmptyData)
	}
	if fileID == "" {
		return torrent.Links[0], nil
	}

	// Providers carrying per-file links resolve directly.
	for _, f := range torrent.Files {
		if f.ID == fileID && f.Link != "" {
			return f.Link, nil
		}
	}
	for i, id := range selected {
		if id == fileID && i < len(torrent.Links) {
			return torrent.Links[i], nil
		}
	}
	return torrent.Links[0], nil
}

// recordHistory emits the completed download to the history collaborator
// without blocking or failing the resolution.
func (d *DownloadResolver) recordHistory(ctx context.Context, provider string, req models.DownloadRequest, result *models.DownloadResult) {
	if d.history == nil {
		return
	}
	title := result.Filename
	if title == "" {
		title = req.Magnet.Hash
	}
	go func(ctx context.Context) {
		if err := d.history.Record(ctx, title, provider, result.URL); err != nil {
			d.logger.Warn("history record failed", "error", err)
		}
	}(context.WithoutCancel(ctx))
}
