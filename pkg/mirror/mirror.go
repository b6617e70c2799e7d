// Package mirror contains the core domain types for the Instagram mirroring service.
package mirror

import (
	"fmt"
	"time"
)

const permalinkBase = "https://www.instagram.com/p/"

// Source is a monitored account and the marker of the last mirrored post.
type Source struct {
	LastPost *int64 // Unix seconds of the newest mirrored post; nil before the first run
	Name     string // Platform handle, unique within the list
}

// IsNewer reports whether a post taken at t has not been mirrored yet.
// A source without a marker considers every post newer.
func (s Source) IsNewer(t time.Time) bool {
	return s.LastPost == nil || t.Unix() > *s.LastPost
}

// Advance moves the marker forward to t if t is newer. It never moves it back.
func (s *Source) Advance(t time.Time) {
	ts := t.Unix()
	if s.LastPost == nil || ts > *s.LastPost {
		s.LastPost = &ts
	}
}

// Marker returns the marker value, or 0 when absent. Intended for logging.
func (s Source) Marker() int64 {
	if s.LastPost == nil {
		return 0
	}
	return *s.LastPost
}

// MediaKind is the kind of a single downloadable media file.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
)

// Ext returns the scratch file extension used for the kind.
func (k MediaKind) Ext() string {
	if k == KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

// Media is the shape of a post: Photo, Video, Album or Unsupported.
// The set is closed; only this package can add variants.
type Media interface {
	isMedia()
}

// Item is one element of an album: Photo or Video.
type Item interface {
	Media
	Kind() MediaKind
	MediaURL() string
}

// Photo is a single image.
type Photo struct {
	URL string
}

// Video is a single video.
type Video struct {
	URL string
}

// Album is an ordered collection of photos and videos.
type Album struct {
	Items []Item
}

// Unsupported is a post the platform listed but that cannot be mirrored,
// such as an unknown media type or a photo without image URLs.
type Unsupported struct {
	Reason string
}

func (Photo) isMedia()       {}
func (Video) isMedia()       {}
func (Album) isMedia()       {}
func (Unsupported) isMedia() {}

func (Photo) Kind() MediaKind { return KindPhoto }
func (Video) Kind() MediaKind { return KindVideo }

func (p Photo) MediaURL() string { return p.URL }
func (v Video) MediaURL() string { return v.URL }

// Post is one unit of published content fetched from a source.
type Post struct {
	TakenAt time.Time
	Media   Media
	ID      string
	Code    string // Shortcode used in the permalink
	Caption string
}

// Permalink returns the public URL of the post.
func (p *Post) Permalink() string {
	return permalinkBase + p.Code
}

// Describe returns a short human-readable label for the post's shape.
func (p *Post) Describe() string {
	switch m := p.Media.(type) {
	case Photo:
		return "photo"
	case Video:
		return "video"
	case Album:
		return fmt.Sprintf("collection of %d medias", len(m.Items))
	case Unsupported:
		return "unsupported media"
	default:
		return "unknown"
	}
}

// LocalMediaFile is a scratch copy of one downloaded media item.
type LocalMediaFile struct {
	Path string
	Kind MediaKind
}
