package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/models"
)

const adBaseURL = "https://api.alldebrid.com/v4"

// AllDebrid adapts the AllDebrid v4 API to the Client contract. Status calls
// return download links directly, so ResolveLink is the identity and file
// selection happens by matching the chosen file against the link list.
type AllDebrid struct {
	api     *apiClient
	logger  *slog.Logger
	baseURL string
	agent   string
	now     func() time.Time
}

// NewAllDebrid creates the AllDebrid client bound to its auth controller.
func NewAllDebrid(auth TokenSource, logger *slog.Logger) *AllDebrid {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "debrid", "provider", "alldebrid")
	return &AllDebrid{
		api:     newAPIClient(auth, logger),
		logger:  logger,
		baseURL: adBaseURL,
		agent:   "DebridArr",
		now:     time.Now,
	}
}

func (c *AllDebrid) Name() string { return "alldebrid" }

// Every AllDebrid payload is wrapped in a status/data envelope.
type adEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type adMagnetStatus struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Hash       string `json:"hash"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Size       int64  `json:"size"`
	Links      []struct {
		Link     string `json:"link"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"links"`
}

func (c *AllDebrid) decode(data []byte, out interface{}) error {
	var envelope adEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: alldebrid envelope", ErrInvalidResponse)
	}
	if envelope.Status != "success" {
		msg := "alldebrid error"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return &RequestError{Status: http.StatusOK, Description: msg}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: alldebrid data", ErrInvalidResponse)
	}
	return nil
}

// CheckHashes issues one bulk instant-availability request. The response
// array is ordered like the request, so entries map back to their hashes by
// index; that alignment is correctness-critical.
func (c *AllDebrid) CheckHashes(ctx context.Context, hashes []string) (map[string]*models.AvailabilityRecord, error) {
	if len(hashes) == 0 {
		return map[string]*models.AvailabilityRecord{}, nil
	}

	params := url.Values{}
	params.Set("agent", c.agent)
	for _, hash := range hashes {
		params.Add("magnets[]", hash)
	}

	data, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/magnet/instant", params)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	var result struct {
		Magnets []struct {
			Magnet  string `json:"magnet"`
			Hash    string `json:"hash"`
			Instant bool   `json:"instant"`
			Files   []struct {
				Name string `json:"n"`
				Size int64  `json:"s"`
			} `json:"files"`
		} `json:"magnets"`
	}
	if err := c.decode(data, &result); err != nil {
		return nil, err
	}
	if len(result.Magnets) != len(hashes) {
		return nil, fmt.Errorf("%w: got %d entries for %d hashes", ErrInvalidResponse, len(result.Magnets), len(hashes))
	}

	expires := c.now().Add(models.AvailabilityTTL)
	records := make(map[string]*models.AvailabilityRecord)
	for i, entry := range result.Magnets {
		if !entry.Instant {
			continue
		}
		hash := hashes[i]
		record := &models.AvailabilityRecord{Hash: hash, ExpiresAt: expires}
		for _, f := range entry.Files {
			record.Files = append(record.Files, models.File{ID: f.Name, Name: f.Name, Size: f.Size})
		}
		if len(record.Files) > 1 {
			record.Batches = []models.Batch{{ID: "0", Files: record.Files}}
		}
		records[hash] = record
	}

	c.logger.Info("checked instant availability", "total", len(hashes), "cached", len(records))
	return records, nil
}

// AddMagnet uploads a magnet link and returns the magnet id.
func (c *AllDebrid) AddMagnet(ctx context.Context, magnetLink string) (string, error) {
	params := url.Values{}
	params.Set("agent", c.agent)
	params.Add("magnets[]", magnetLink)

	data, err := c.api.request(ctx, http.MethodPost, c.baseURL+"/magnet/upload", params)
	if err != nil {
		return "", fmt.Errorf("add magnet: %w", err)
	}
	var result struct {
		Magnets []struct {
			ID    int64  `json:"id"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"magnets"`
	}
	if err := c.decode(data, &result); err != nil {
		return "", err
	}
	if len(result.Magnets) == 0 {
		return "", fmt.Errorf("%w: upload returned no magnets", ErrEmptyData)
	}
	if e := result.Magnets[0].Error; e != nil {
		return "", &RequestError{Status: http.StatusOK, Description: e.Message}
	}
	return strconv.FormatInt(result.Magnets[0].ID, 10), nil
}

// SelectFiles is a no-op: AllDebrid materializes every file and the caller
// disambiguates against the link list returned by PollStatus.
func (c *AllDebrid) SelectFiles(ctx context.Context, torrentID string, fileIDs []string) error {
	return nil
}

// PollStatus fetches the magnet state once. Links double as the file list,
// keyed by filename.
func (c *AllDebrid) PollStatus(ctx context.Context, torrentID string) (*Torrent, error) {
	params := url.Values{}
	params.Set("agent", c.agent)
	params.Set("id", torrentID)

	data, err := c.api.request(ctx, http.MethodGet, c.baseURL+"/magnet/status", params)
	if err != nil {
		return nil, fmt.Errorf("poll status: %w", err)
	}
	var result struct {
		Magnets adMagnetStatus `json:"magnets"`
	}
	if err := c.decode(data, &result); err != nil {
		return nil, err
	}

	status := result.Magnets
	torrent := &Torrent{
		ID:       torrentID,
		Hash:     status.Hash,
		Status:   status.Status,
		Ready:    status.StatusCode == 4,
		Progress: 0,
	}
	if torrent.Ready {
		torrent.Progress = 100
	}
	for _, l := range status.Links {
		torrent.Links = append(torrent.Links, l.Link)
		torrent.Files = append(torrent.Files, models.File{
			ID:   l.Filename,
			Name: l.Filename,
			Size: l.Size,
			Link: l.Link,
		})
	}
	return torrent, nil
}

// ResolveLink returns the link unchanged; AllDebrid status links are already
// direct downloads.
func (c *AllDebrid) ResolveLink(ctx context.Context, link string) (*models.DownloadResult, error) {
	if link == "" {
		return nil, fmt.Errorf("%w: empty link", ErrInvalidURL)
	}
	return &models.DownloadResult{URL: link}, nil
}

// DeleteMagnet removes a magnet.
func (c *AllDebrid) DeleteMagnet(ctx context.Context, torrentID string) error {
	params := url.Values{}
	params.Set("agent", c.agent)
	params.Set("id", torrentID)

	data, err := c.api.request(ctx, http.MethodGet, c.baseURL+"/magnet/delete", params)
	if err != nil {
		return fmt.Errorf("delete magnet: %w", err)
	}
	var result struct {
		Message string `json:"message"`
	}
	return c.decode(data, &result)
}
