package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

const pmBaseURL = "https://www.premiumize.me/api"

// Premiumize adapts the Premiumize API to the Client contract. There is no
// submission step: a single per-magnet direct-download call returns the full
// file list with streamable links, so the add/select/poll operations have no
// equivalent.
type Premiumize struct {
	api     *apiClient
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

// NewPremiumize creates the Premiumize client bound to its auth controller.
func NewPremiumize(auth TokenSource, logger *slog.Logger) *Premiumize {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "debrid", "provider", "premiumize")
	return &Premiumize{
		api:     newAPIClient(auth, logger),
		logger:  logger,
		baseURL: pmBaseURL,
		now:     time.Now,
	}
}

func (c *Premiumize) Name() string { return "premiumize" }

type pmDirectDL struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Content []struct {
		Path       string `json:"path"`
		Size       int64  `json:"size"`
		Link       string `json:"link"`
		StreamLink string `json:"stream_link"`
	} `json:"content"`
}

func (c *Premiumize) directDL(ctx context.Context, magnet models.Magnet) (*pmDirectDL, error) {
	params := url.Values{}
	params.Set("src", magnet.MagnetLink())

	data, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/transfer/directdl", params)
	if err != nil {
		return nil, fmt.Errorf("direct download: %w", err)
	}
	var result pmDirectDL
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: directdl payload", ErrInvalidResponse)
	}
	if result.Status != "success" {
		return nil, &RequestError{Status: http.StatusOK, Description: result.Message}
	}
	return &result, nil
}

// CheckMagnet probes one magnet through the direct-download endpoint. The
// returned record already carries per-file links, so later selection needs
// no further provider calls.
func (c *Premiumize) CheckMagnet(ctx context.Context, magnet models.Magnet) (*models.AvailabilityRecord, error) {
	result, err := c.directDL(ctx, magnet)
	if err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("%w: no cached content", ErrEmptyData)
	}

	record := &models.AvailabilityRecord{
		Hash:      magnet.Hash,
		ExpiresAt: c.now().Add(models.AvailabilityTTL),
	}
	for _, entry := range result.Content {
		link := entry.StreamLink
		if link == "" {
			link = entry.Link
		}
		record.Files = append(record.Files, models.File{
			ID:   entry.Path,
			Name: entry.Path,
			Size: entry.Size,
			Link: link,
		})
	}
	if len(record.Files) > 1 {
		record.Batches = []models.Batch{{ID: "0", Files: record.Files}}
	}
	return record, nil
}

// DirectLink returns the streamable URL for a magnet, picking the entry
// whose path matches fileID, or the largest entry when fileID is empty.
func (c *Premiumize) DirectLink(ctx context.Context, magnet models.Magnet, fileID string) (*models.DownloadResult, error) {
	result, err := c.directDL(ctx, magnet)
	if err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("%w: no cached content", ErrEmptyData)
	}

	best := -1
	for i, entry := range result.Content {
		if fileID != "" {
			if entry.Path == fileID {
				best = i
				break
			}
			continue
		}
		if best < 0 || entry.Size > result.Content[best].Size {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no entry matches file %q", ErrEmptyData, fileID)
	}

	entry := result.Content[best]
	link := entry.StreamLink
	if link == "" {
		link = entry.Link
	}
	return &models.DownloadResult{URL: link, Filename: entry.Path, Filesize: entry.Size}, nil
}

// AddMagnet has no equivalent; Premiumize downloads are direct.
func (c *Premiumize) AddMagnet(ctx context.Context, magnetLink string) (string, error) {
	return "", ErrNotSupported
}

// SelectFiles has no equivalent; selection picks among entries the
// availability check already returned.
func (c *Premiumize) SelectFiles(ctx context.Context, torrentID string, fileIDs []string) error {
	return ErrNotSupported
}

// PollStatus has no equivalent; there is nothing submitted to poll.
func (c *Premiumize) PollStatus(ctx context.Context, torrentID string) (*Torrent, error) {
	return nil, ErrNotSupported
}

// ResolveLink returns the link unchanged; directdl links are already final.
func (c *Premiumize) ResolveLink(ctx context.Context, link string) (*models.DownloadResult, error) {
	if link == "" {
		return nil, fmt.Errorf("%w: empty link", ErrInvalidURL)
	}
	return &models.DownloadResult{URL: link}, nil
}

// DeleteMagnet has no equivalent; nothing is submitted.
func (c *Premiumize) DeleteMagnet(ctx context.Context, torrentID string) error {
	return ErrNotSupported
}
