// Package duration holds the named time constants used across examcrawl.
//
// Browser waits and pauses mirror the pacing the admin console needs: its
// UI animates panels in and out, so every interaction is followed by a short
// pause before the next lookup.
package duration

import "time"

// Browser waits.
const (
	// WaitPrimary bounds every primary element wait and the login redirect (20s).
	WaitPrimary = 20 * time.Second

	// WaitOverlay bounds the check for the optional second overlay (2s).
	WaitOverlay = 2 * time.Second

	// PollInterval is how often location polling re-reads the URL.
	PollInterval = 250 * time.Millisecond
)

// Pauses between browser interactions.
const (
	// StepPause follows panel opens and closes (500ms).
	StepPause = 500 * time.Millisecond

	// PagePause follows navigation and pagination (1s).
	PagePause = 1 * time.Second

	// TabPause follows opening a tab or changing the site selector (200ms).
	TabPause = 200 * time.Millisecond
)

// Teardown and shutdown bounds.
const (
	// BrowserTeardown bounds a graceful browser cancel before force-kill (5s).
	BrowserTeardown = 5 * time.Second

	// ServerShutdown bounds graceful HTTP shutdown (10s).
	ServerShutdown = 10 * time.Second

	// SocketWrite bounds one WebSocket frame write to an observer (10s).
	SocketWrite = 10 * time.Second

	// ExporterConnect bounds the OTLP exporter connection (10s).
	ExporterConnect = 10 * time.Second

	// HistoryWrite bounds storing one run history entry (5s).
	HistoryWrite = 5 * time.Second

	// ClientTimeout bounds API client requests from the CLI (15s).
	ClientTimeout = 15 * time.Second
)
