package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

const rdBaseURL = "https://api.real-debrid.com/rest/1.0"

// RealDebrid adapts the Real-Debrid REST API to the Client contract.
// Downloads follow the add → select → poll → unrestrict cycle.
type RealDebrid struct {
	api     *apiClient
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

// NewRealDebrid creates the Real-Debrid client bound to its auth controller.
func NewRealDebrid(auth TokenSource, logger *slog.Logger) *RealDebrid {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "debrid", "provider", "realdebrid")
	return &RealDebrid{
		api:     newAPIClient(auth, logger),
		logger:  logger,
		baseURL: rdBaseURL,
		now:     time.Now,
	}
}

func (c *RealDebrid) Name() string { return "realdebrid" }

type rdTorrentInfo struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Hash     string  `json:"hash"`
	Bytes    int64   `json:"bytes"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Files    []struct {
		ID       int    `json:"id"`
		Path     string `json:"path"`
		Bytes    int64  `json:"bytes"`
		Selected int    `json:"selected"`
	} `json:"files"`
	Links []string `json:"links"`
}

type rdUnrestrictedLink struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Download string `json:"download"`
}

// CheckHashes issues one instant-availability request for all hashes.
// Response entries are keyed by lowercase hash; each cached variant becomes
// one batch, and a single-file single-variant torrent reads as full.
func (c *RealDebrid) CheckHashes(ctx context.Context, hashes []string) (map[string]*models.AvailabilityRecord, error) {
	if len(hashes) == 0 {
		return map[string]*models.AvailabilityRecord{}, nil
	}

	endpoint := fmt.Sprintf("%s/torrents/instantAvailability/%s", c.baseURL, strings.Join(hashes, "/"))
	data, err := c.api.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	// Format: { "<hash>": { "rd": [ { "<fileID>": {filename, filesize} } ] } }
	var availability map[string]map[string][]map[string]struct {
		Filename string `json:"filename"`
		Filesize int64  `json:"filesize"`
	}
	if err := json.Unmarshal(data, &availability); err != nil {
		return nil, fmt.Errorf("%w: instant availability payload", ErrInvalidResponse)
	}

	expires := c.now().Add(models.AvailabilityTTL)
	records := make(map[string]*models.AvailabilityRecord)
	for _, hash := range hashes {
		variants := availability[strings.ToLower(hash)]["rd"]
		if len(variants) == 0 {
			continue
		}
		record := &models.AvailabilityRecord{Hash: hash, ExpiresAt: expires}
		seen := make(map[string]bool)
		for i, variant := range variants {
			batch := models.Batch{ID: strconv.Itoa(i)}
			for fileID, meta := range variant {
				file := models.File{ID: fileID, Name: meta.Filename, Size: meta.Filesize}
				batch.Files = append(batch.Files, file)
				if !seen[fileID] {
					seen[fileID] = true
					record.Files = append(record.Files, file)
				}
			}
			sort.Slice(batch.Files, func(a, b int) bool { return batch.Files[a].ID < batch.Files[b].ID })
			record.Batches = append(record.Batches, batch)
		}
		sort.Slice(record.Files, func(a, b int) bool { return record.Files[a].ID < record.Files[b].ID })
		if len(record.Batches) == 1 && len(record.Files) == 1 {
			record.Batches = nil
		}
		records[hash] = record
	}

	c.logger.Info("checked instant availability", "total", len(hashes), "cached", len(records))
	return records, nil
}

// AddMagnet submits a magnet link and returns the torrent id.
func (c *RealDebrid) AddMagnet(ctx context.Context, magnetLink string) (string, error) {
	params := url.Values{}
	params.Set("magnet", magnetLink)

	data, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/torrents/addMagnet", params)
	if err != nil {
		return "", fmt.Errorf("add magnet: %w", err)
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("%w: add magnet payload", ErrInvalidResponse)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: add magnet returned no id", ErrEmptyData)
	}
	return result.ID, nil
}

// SelectFiles selects the given file ids, or everything when none are given.
func (c *RealDebrid) SelectFiles(ctx context.Context, torrentID string, fileIDs []string) error {
	files := "all"
	if len(fileIDs) > 0 {
		files = strings.Join(fileIDs, ",")
	}
	params := url.Values{}
	params.Set("files", files)

	if _, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/torrents/selectFiles/"+torrentID, params); err != nil {
		return fmt.Errorf("select files: %w", err)
	}
	return nil
}

// PollStatus fetches the torrent state once.
func (c *RealDebrid) PollStatus(ctx context.Context, torrentID string) (*Torrent, error) {
	data, err := c.api.request(ctx, http.MethodGet, c.baseURL+"/torrents/info/"+torrentID, nil)
	if err != nil {
		return nil, fmt.Errorf("poll status: %w", err)
	}
	var info rdTorrentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: torrent info payload", ErrInvalidResponse)
	}

	torrent := &Torrent{
		ID:       info.ID,
		Hash:     info.Hash,
		Status:   info.Status,
		Progress: info.Progress,
		Ready:    info.Status == "downloaded",
		Links:    info.Links,
	}
	for _, f := range info.Files {
		torrent.Files = append(torrent.Files, models.File{
			ID:   strconv.Itoa(f.ID),
			Name: f.Path,
			Size: f.Bytes,
		})
	}
	return torrent, nil
}

// ResolveLink unrestricts a provider-internal link into the final URL.
func (c *RealDebrid) ResolveLink(ctx context.Context, link string) (*models.DownloadResult, error) {
	params := url.Values{}
	params.Set("link", link)

	data, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/unrestrict/link", params)
	if err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	var result rdUnrestrictedLink
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: unrestrict payload", ErrInvalidResponse)
	}

	download := result.Download
	if download == "" {
		download = result.Link
	}
	if download == "" {
		return nil, fmt.Errorf("%w: unrestrict returned no link", ErrEmptyData)
	}
	return &models.DownloadResult{URL: download, Filename: result.Filename, Filesize: result.Filesize}, nil
}

// DeleteMagnet removes a torrent.
func (c *RealDebrid) DeleteMagnet(ctx context.Context, torrentID string) error {
	if _, err := c.api.request(ctx, http.MethodDelete, c.baseURL+"/torrents/delete/"+torrentID, nil); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	return nil
}
