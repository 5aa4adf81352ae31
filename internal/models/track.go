// Package models defines the data structures shared by the inspection,
// engine and UI layers.
package models

import (
	"fmt"
	"strings"
)

// TrackType represents the type of media track.
type TrackType int

const (
	TrackUnknown TrackType = iota
	TrackVideo
	TrackAudio
	TrackSubtitle
)

func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// TrackTypeFromHandler maps an hdlr handler type to a TrackType.
func TrackTypeFromHandler(handler string) TrackType {
	switch handler {
	case "vide":
		return TrackVideo
	case "soun":
		return TrackAudio
	case "subt", "text", "sbtl", "clcp":
		return TrackSubtitle
	default:
		return TrackUnknown
	}
}

// Track describes one track of a box-structured file and its protection.
type Track struct {
	ID      uint32
	Type    TrackType
	Handler string

	// Format is the sample entry type as declared, e.g. "encv" or "avc1".
	Format string

	// Protection scheme, empty for clear tracks.
	OriginalFormat string
	Scheme         string
	KID            string
	IVSize         uint8
}

// Protected reports whether the sample entry still declares a protected
// format.
func (t *Track) Protected() bool {
	return strings.HasPrefix(t.Format, "enc")
}

// Codec returns the clear codec of the track.
func (t *Track) Codec() string {
	if t.OriginalFormat != "" {
		return t.OriginalFormat
	}
	return t.Format
}

func (t *Track) String() string {
	s := fmt.Sprintf("track %d %s %s", t.ID, t.Type, t.Format)
	if t.OriginalFormat != "" {
		s += fmt.Sprintf(" (%s, %s", t.OriginalFormat, t.Scheme)
		if t.KID != "" {
			s += ", KID " + t.KID
		}
		s += ")"
	}
	return s
}
