// Package server provides the HTTP transport for the downloads channel.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// InvokeRequest is the HTTP request body for a channel call.
type InvokeRequest struct {
	// Bytes is the base64-encoded payload. Absent or null means missing.
	Bytes []byte `json:"bytes"`
	// Name is the optional display name of the saved file.
	Name *string `json:"name" validate:"omitempty,max=255,excludesall=/\\"`
}

// InvokeResponse is the HTTP response of a successful save.
type InvokeResponse struct {
	// Locator is the content handle or absolute path of the saved file.
	Locator string `json:"locator"`
}

// EntryResponse describes one index entry.
type EntryResponse struct {
	Handle           string    `json:"handle"`
	Collection       string    `json:"collection"`
	DisplayName      string    `json:"display_name"`
	MimeType         string    `json:"mime_type"`
	DetectedMimeType string    `json:"detected_mime_type,omitempty"`
	RelativePath     string    `json:"relative_path,omitempty"`
	DataPath         string    `json:"data_path,omitempty"`
	ContentPath      string    `json:"content_path,omitempty"`
	State            string    `json:"state"`
	Size             int64     `json:"size"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListEntriesResponse is the HTTP response for listing index entries.
type ListEntriesResponse struct {
	Entries []EntryResponse `json:"entries"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Mode is the storage strategy in use.
	Mode string `json:"mode,omitempty"`
}
