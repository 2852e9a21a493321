package debrid

import (
	"context"

	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

// Client is the capability contract every debrid provider adapts to.
// Orchestration (availability and download resolvers) depends only on this
// interface, never on a concrete provider.
type Client interface {
	// Name returns the provider identifier (e.g. "realdebrid").
	Name() string

	// AddMagnet submits a magnet link and returns the provider-internal
	// torrent id.
	AddMagnet(ctx context.Context, magnetLink string) (string, error)

	// SelectFiles marks which files of a submitted torrent should be
	// materialized. An empty slice means "all".
	SelectFiles(ctx context.Context, torrentID string, fileIDs []string) error

	// PollStatus returns the current state of a submitted torrent.
	PollStatus(ctx context.Context, torrentID string) (*Torrent, error)

	// ResolveLink turns a provider-internal link into the final streamable
	// URL. Providers whose status links are already direct return the link
	// unchanged.
	ResolveLink(ctx context.Context, link string) (*models.DownloadResult, error)

	// DeleteMagnet removes a submitted torrent from the provider.
	DeleteMagnet(ctx context.Context, torrentID string) error
}

// BulkChecker is implemented by providers with a bulk cache-check endpoint
// accepting many hashes in one call.
type BulkChecker interface {
	// CheckHashes issues exactly one request for all hashes and maps every
	// response entry back to its hash. Request failure yields an error and
	// no partial results.
	CheckHashes(ctx context.Context, hashes []string) (map[string]*models.AvailabilityRecord, error)
}

// ItemChecker is implemented by providers without a bulk endpoint; the
// availability resolver fans out one call per magnet with bounded
// concurrency.
type ItemChecker interface {
	CheckMagnet(ctx context.Context, magnet models.Magnet) (*models.AvailabilityRecord, error)
}

// DirectDownloader is implemented by providers that skip the submit/select
// cycle and return direct links from a single per-magnet call.
type DirectDownloader interface {
	// DirectLink returns the streamable URL for a magnet, picking the entry
	// matching fileID, or the largest entry when fileID is empty.
	DirectLink(ctx context.Context, magnet models.Magnet, fileID string) (*models.DownloadResult, error)
}

// Torrent is the provider-reported state of a submitted magnet.
type Torrent struct {
	ID       string
	Hash     string
	Status   string
	Progress float64
	Ready    bool
	Links    []string
	Files    []models.File
}
