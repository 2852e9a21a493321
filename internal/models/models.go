package models

import "time"

// AvailabilityTTL is how long a cache-check result stays valid before the
// hash is treated as never checked.
const AvailabilityTTL = 300 * time.Second

// Magnet identifies torrent content by its info-hash. Link may be empty when
// the magnet was derived from a bare hash (e.g. a cloud listing).
type Magnet struct {
	Hash string `json:"hash"`
	Link string `json:"link,omitempty"`
}

// MagnetLink returns the magnet URI for the hash, preferring an explicit link
// when one was supplied by the source.
func (m Magnet) MagnetLink() string {
	if m.Link != "" {
		return m.Link
	}
	return "magnet:?xt=urn:btih:" + m.Hash
}

// File is a single downloadable file within a cached torrent.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Link string `json:"link,omitempty"`
}

// Batch is a provider-specific grouping of candidate files under one magnet.
// A record with batches needs user disambiguation before a single link can be
// produced.
type Batch struct {
	ID    string `json:"id"`
	Files []File `json:"files"`
}

// AvailabilityRecord is the result of one cache check for one hash. Records
// are immutable once created and stale once ExpiresAt has passed.
type AvailabilityRecord struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Files     []File    `json:"files,omitempty"`
	Batches   []Batch   `json:"batches,omitempty"`
}

// Status classifies a hash for display purposes.
type Status string

const (
	// StatusNone means the hash was never checked, or the check expired.
	StatusNone Status = "none"
	// StatusFull means the torrent is cached and resolves to a single item.
	StatusFull Status = "full"
	// StatusPartial means the torrent is cached but holds multiple candidate
	// files that the user must pick between.
	StatusPartial Status = "partial"
)

// StatusAt computes the display status of a record at the given time.
// Expired records classify the same as absent ones.
func (r *AvailabilityRecord) StatusAt(now time.Time) Status {
	if r == nil || now.After(r.ExpiresAt) {
		return StatusNone
	}
	if len(r.Batches) > 0 {
		return StatusPartial
	}
	return StatusFull
}

// DownloadRequest is created when the user picks a search result. FileID is
// only set when the availability record required disambiguation.
type DownloadRequest struct {
	Magnet Magnet `json:"magnet"`
	FileID string `json:"file_id,omitempty"`
}

// DownloadResult carries the final streamable URL for a resolved request.
type DownloadResult struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
}
