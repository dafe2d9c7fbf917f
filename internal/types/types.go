package types

import (
	"errors"
	"fmt"
	"strings"
)

// Record is one extracted submission
type Record struct {
	StudentName string `json:"student_name"`
	BlogLink    string `json:"blog_link"`
}

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// Formats lists every supported export format
var Formats = []Format{FormatCSV, FormatXLSX, FormatJSON, FormatXML}

// ErrInvalidFormat is returned for formats outside Formats
var ErrInvalidFormat = errors.New("unsupported file format")

// ParseFormat normalizes a requested format. An empty value means csv.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatCSV, nil
	}
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Ext returns the file extension without the dot
func (f Format) Ext() string {
	return string(f)
}

// EventType tags a message on the progress channel
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventInfo     EventType = "info"
)

// Event is a message broadcast to observers. Only the fields relevant to
// Type are set.
type Event struct {
	Type        EventType `json:"type"`
	Message     string    `json:"message"`
	Progress    *float64  `json:"progress,omitempty"`
	Description string    `json:"description,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Count       *int      `json:"count,omitempty"`
	Details     string    `json:"details,omitempty"`
}

// Kind classifies a fault
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindAuthentication
	KindExtractionItem
	KindNavigation
	KindExport
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindExtractionItem:
		return "extraction_item"
	case KindNavigation:
		return "navigation"
	case KindExport:
		return "export"
	default:
		return "internal"
	}
}

// Fault is an error tagged with its Kind. Configuration, authentication and
// internal faults end a run; the others are recovered where they happen and
// travel alongside the partial result.
type Fault struct {
	Kind Kind
	Err  error
}

// NewFault wraps err with a kind
func NewFault(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Fatal reports whether the fault ends the run
func (f *Fault) Fatal() bool {
	switch f.Kind {
	case KindConfiguration, KindAuthentication, KindInternal:
		return true
	}
	return false
}

// KindOf returns the kind of the first Fault in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}
