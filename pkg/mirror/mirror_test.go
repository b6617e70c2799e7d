package mirror

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func marker(v int64) *int64 { return &v }

func TestSourceIsNewer(t *testing.T) {
	tests := []struct {
		name    string
		last    *int64
		takenAt int64
		want    bool
	}{
		{"no marker", nil, 1, true},
		{"older", marker(1000), 999, false},
		{"equal", marker(1000), 1000, false},
		{"newer", marker(1000), 1001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Source{Name: "acme", LastPost: tt.last}
			if got := s.IsNewer(time.Unix(tt.takenAt, 0)); got != tt.want {
				t.Errorf("IsNewer(%d) = %v, want %v", tt.takenAt, got, tt.want)
			}
		})
	}
}

func TestSourceAdvanceIsMonotonic(t *testing.T) {
	s := Source{Name: "acme"}
	for _, ts := range []int64{1500, 1200, 2000, 1999, 2000} {
		before := s.Marker()
		s.Advance(time.Unix(ts, 0))
		if s.Marker() < before {
			t.Fatalf("Advance(%d) moved marker back from %d to %d", ts, before, s.Marker())
		}
	}
	if s.Marker() != 2000 {
		t.Errorf("Marker() = %d, want 2000", s.Marker())
	}
}

func TestAdvanceDoesNotAliasCopies(t *testing.T) {
	orig := Source{Name: "acme", LastPost: marker(1000)}
	cp := orig
	cp.Advance(time.Unix(2000, 0))
	if *orig.LastPost != 1000 {
		t.Errorf("copied source changed the marker to %d", *orig.LastPost)
	}
}

func TestPostDescribe(t *testing.T) {
	tests := []struct {
		media Media
		want  string
	}{
		{Photo{URL: "p"}, "photo"},
		{Video{URL: "v"}, "video"},
		{Album{Items: []Item{Photo{}, Video{}, Photo{}}}, "collection of 3 medias"},
		{Unsupported{Reason: "media_type 5"}, "unsupported media"},
		{nil, "unknown"},
	}
	for _, tt := range tests {
		p := &Post{Media: tt.media}
		if got := p.Describe(); got != tt.want {
			t.Errorf("Describe(%T) = %q, want %q", tt.media, got, tt.want)
		}
	}
}

func TestPermalink(t *testing.T) {
	p := &Post{Code: "Cx1Y2z"}
	if got := p.Permalink(); got != "https://www.instagram.com/p/Cx1Y2z" {
		t.Errorf("Permalink() = %q", got)
	}
}

func TestMediaKindExt(t *testing.T) {
	if KindPhoto.Ext() != ".jpg" || KindVideo.Ext() != ".mp4" {
		t.Errorf("Ext() = %q/%q", KindPhoto.Ext(), KindVideo.Ext())
	}
	if (Photo{}).Kind() != KindPhoto || (Video{}).Kind() != KindVideo {
		t.Error("item kinds mismatched")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{NewError(TransferError, "acme", "fetch media", errors.New("HTTP 404")), "transfer error: acme: fetch media: HTTP 404"},
		{NewError(ConfigError, "", "load sources", errors.New("no such file")), "config error: load sources: no such file"},
		{NewError(AuthError, "", "", nil), "auth error"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsKind(t *testing.T) {
	cause := errors.New("boom")
	transfer := NewError(TransferError, "acme", "fetch media", cause)
	cleanup := NewError(CleanupError, "acme", "remove scratch", cause)

	tests := []struct {
		name string
		err  error
		kind ErrorKind
		want bool
	}{
		{"nil", nil, TransferError, false},
		{"plain error", cause, TransferError, false},
		{"direct", transfer, TransferError, true},
		{"other kind", transfer, PublishError, false},
		{"wrapped", fmt.Errorf("dispatch: %w", transfer), TransferError, true},
		{"joined first", errors.Join(transfer, cleanup), TransferError, true},
		{"joined second", errors.Join(transfer, cleanup), CleanupError, true},
		{"nested kinds", NewError(PublishError, "acme", "publish", transfer), TransferError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind(%v, %s) = %v, want %v", tt.err, tt.kind, got, tt.want)
			}
		})
	}
	if !errors.Is(transfer, cause) {
		t.Error("errors.Is does not see through *Error")
	}
}
