package gphotos

import "time"

// MediaItem is one photo or video in the remote library.
type MediaItem struct {
	ID            string        `json:"id"`
	Description   string        `json:"description,omitempty"`
	ProductURL    string        `json:"productUrl,omitempty"`
	BaseURL       string        `json:"baseUrl,omitempty"`
	MimeType      string        `json:"mimeType,omitempty"`
	Filename      string        `json:"filename"`
	MediaMetadata MediaMetadata `json:"mediaMetadata,omitempty"`
}

// MediaMetadata carries the capture-time attributes of a media item.
// Width and height arrive as strings on the wire.
type MediaMetadata struct {
	CreationTime time.Time      `json:"creationTime,omitempty"`
	Width        string         `json:"width,omitempty"`
	Height       string         `json:"height,omitempty"`
	Photo        *PhotoMetadata `json:"photo,omitempty"`
	Video        *VideoMetadata `json:"video,omitempty"`
}

type PhotoMetadata struct {
	CameraMake  string `json:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty"`
}

type VideoMetadata struct {
	CameraMake  string `json:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty"`
	FPS         string `json:"fps,omitempty"`
	Status      string `json:"status,omitempty"`
}

// IsVideo reports whether the item carries video metadata.
func (m MediaItem) IsVideo() bool {
	return m.MediaMetadata.Video != nil
}

// Album is one album in the remote library.
type Album struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	ProductURL            string `json:"productUrl,omitempty"`
	MediaItemsCount       string `json:"mediaItemsCount,omitempty"`
	CoverPhotoBaseURL     string `json:"coverPhotoBaseUrl,omitempty"`
	CoverPhotoMediaItemID string `json:"coverPhotoMediaItemId,omitempty"`
}

// wire types for mediaItems:search

type searchRequest struct {
	AlbumID   string         `json:"albumId,omitempty"`
	PageSize  int            `json:"pageSize,omitempty"`
	PageToken string         `json:"pageToken,omitempty"`
	Filters   *searchFilters `json:"filters,omitempty"`
}

type searchFilters struct {
	DateFilter      *dateFilter      `json:"dateFilter,omitempty"`
	MediaTypeFilter *mediaTypeFilter `json:"mediaTypeFilter,omitempty"`
}

type dateFilter struct {
	Ranges []dateRange `json:"ranges,omitempty"`
}

type dateRange struct {
	StartDate apiDate `json:"startDate"`
	EndDate   apiDate `json:"endDate"`
}

type apiDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func toAPIDate(t time.Time) apiDate {
	return apiDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

type mediaTypeFilter struct {
	MediaTypes []string `json:"mediaTypes"`
}

type searchResponse struct {
	MediaItems    []MediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

type albumsResponse struct {
	Albums        []Album `json:"albums"`
	NextPageToken string  `json:"nextPageToken"`
}
