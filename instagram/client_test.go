package instagram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"insta-mirror/pkg/mirror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

// fakeInstagram serves the subset of endpoints the client uses.
type fakeInstagram struct {
	mu         sync.Mutex
	requests   []recorded
	loginFail  bool
	publishErr bool
	feed       string
}

func (f *fakeInstagram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone(), body: body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/v1/accounts/login/":
		if f.loginFail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":"fail","message":"The password you entered is incorrect."}`)
			return
		}
		w.Header().Set("ig-set-authorization", "Bearer IGT:2:token")
		_, _ = io.WriteString(w, `{"status":"ok","logged_in_user":{"pk":42,"username":"mirror"}}`)
	case r.URL.Path == "/acme/":
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><meta property="instapp:owner_user_id" content="1701"><title>acme</title></head><body></body></html>`)
	case r.URL.Path == "/blank/":
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title>Login</title></head></html>`)
	case strings.HasPrefix(r.URL.Path, "/api/v1/feed/user/1701/"):
		_, _ = io.WriteString(w, f.feed)
	case strings.HasPrefix(r.URL.Path, "/rupload_igphoto/"), strings.HasPrefix(r.URL.Path, "/rupload_igvideo/"):
		var params map[string]string
		_ = json.Unmarshal([]byte(r.Header.Get("X-Instagram-Rupload-Params")), &params)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "upload_id": params["upload_id"]})
	case strings.HasPrefix(r.URL.Path, "/api/v1/media/configure"):
		if f.publishErr {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":"fail","message":"feedback_required"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInstagram) find(prefix string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, r := range f.requests {
		if strings.HasPrefix(r.path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, fake *fakeInstagram) *Client {
	t.Helper()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	c, err := New(&Config{
		HTTPClient: ts.Client(),
		Logger:     testLogger(),
		APIURL:     ts.URL,
		WebURL:     ts.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestLogin(t *testing.T) {
	fake := &fakeInstagram{feed: `{"status":"ok","items":[]}`}
	c := newTestClient(t, fake)
	ctx := context.Background()

	if err := c.Login(ctx, "mirror", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	logins := fake.find("/api/v1/accounts/login/")
	if len(logins) != 1 {
		t.Fatalf("login requests = %d", len(logins))
	}
	form := string(logins[0].body)
	if !strings.Contains(form, "username=mirror") || !strings.Contains(form, "secret") {
		t.Errorf("login form = %s", form)
	}

	// The session token is sent on later API calls.
	if _, err := c.RecentPosts(ctx, "1701", 5); err != nil {
		t.Fatalf("RecentPosts: %v", err)
	}
	feeds := fake.find("/api/v1/feed/user/")
	if got := feeds[0].header.Get("Authorization"); got != "Bearer IGT:2:token" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestLoginFailure(t *testing.T) {
	c := newTestClient(t, &fakeInstagram{loginFail: true})

	err := c.Login(context.Background(), "mirror", "wrong")
	if !mirror.IsKind(err, mirror.AuthError) {
		t.Fatalf("error = %v, want auth error", err)
	}
	if !strings.Contains(err.Error(), "password you entered is incorrect") {
		t.Errorf("error %q should carry Instagram's message", err)
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	fake := &fakeInstagram{}
	c := newTestClient(t, fake)

	if err := c.Login(context.Background(), "", ""); !mirror.IsKind(err, mirror.AuthError) {
		t.Fatalf("error = %v, want auth error", err)
	}
	if len(fake.find("/")) != 0 {
		t.Error("no request should be sent without credentials")
	}
}

func TestResolveAccount(t *testing.T) {
	c := newTestClient(t, &fakeInstagram{})
	ctx := context.Background()

	id, err := c.ResolveAccount(ctx, "acme")
	if err != nil {
		t.Fatalf("ResolveAccount: %v", err)
	}
	if id != "1701" {
		t.Errorf("id = %q, want 1701", id)
	}

	tests := []struct {
		name     string
		username string
		notFound bool
	}{
		{"unknown account", "ghost", true},
		{"page without id", "blank", false},
		{"invalid username", "a/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ResolveAccount(ctx, tt.username)
			if !mirror.IsKind(err, mirror.ResolutionError) {
				t.Fatalf("error = %v, want resolution error", err)
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(err), tt.notFound)
			}
		})
	}
}

const sampleFeed = `{
  "status": "ok",
  "items": [
    {
      "id": "3_1701", "code": "CAR", "taken_at": 3000, "media_type": 8,
      "caption": {"text": "album #tag"},
      "carousel_media": [
        {"media_type": 1, "image_versions2": {"candidates": [{"url": "https://cdn/a.jpg", "width": 1080, "height": 1080}, {"url": "https://cdn/a-small.jpg"}]}},
        {"media_type": 2, "video_versions": [{"url": "https://cdn/b.mp4"}], "image_versions2": {"candidates": [{"url": "https://cdn/b-thumb.jpg"}]}}
      ]
    },
    {
      "id": "2_1701", "code": "VID", "taken_at": 2000, "media_type": 2,
      "caption": null,
      "video_versions": [{"url": "https://cdn/v.mp4"}]
    },
    {
      "id": "x_1701", "code": "ODD", "taken_at": 1800, "media_type": 99
    },
    {
      "id": "1_1701", "code": "PIC", "taken_at": 1000, "media_type": 1,
      "caption": {"text": "hello @friend"},
      "image_versions2": {"candidates": [{"url": "https://cdn/p.jpg"}]}
    },
    {
      "id": "0_1701", "code": "OLD", "taken_at": 500, "media_type": 1,
      "image_versions2": {"candidates": [{"url": "https://cdn/old.jpg"}]}
    }
  ]
}`

func TestRecentPosts(t *testing.T) {
	fake := &fakeInstagram{feed: sampleFeed}
	c := newTestClient(t, fake)

	posts, err := c.RecentPosts(context.Background(), "1701", 4)
	if err != nil {
		t.Fatalf("RecentPosts: %v", err)
	}
	if q := fake.find("/api/v1/feed/user/1701/")[0].query; q != "count=4" {
		t.Errorf("query = %q, want count=4", q)
	}
	if len(posts) != 4 {
		t.Fatalf("got %d posts, want 4 (limit)", len(posts))
	}

	album, ok := posts[0].Media.(mirror.Album)
	if !ok {
		t.Fatalf("post 0 media = %T, want Album", posts[0].Media)
	}
	if len(album.Items) != 2 || album.Items[0] != (mirror.Photo{URL: "https://cdn/a.jpg"}) || album.Items[1] != (mirror.Video{URL: "https://cdn/b.mp4"}) {
		t.Errorf("album items = %+v", album.Items)
	}
	if posts[0].Caption != "album #tag" || posts[0].TakenAt.Unix() != 3000 || posts[0].Code != "CAR" {
		t.Errorf("post 0 = %+v", posts[0])
	}

	if posts[1].Media != (mirror.Video{URL: "https://cdn/v.mp4"}) {
		t.Errorf("post 1 media = %+v", posts[1].Media)
	}
	if posts[1].Caption != "" {
		t.Errorf("null caption should be empty, got %q", posts[1].Caption)
	}

	odd, ok := posts[2].Media.(mirror.Unsupported)
	if !ok || !strings.Contains(odd.Reason, "media_type 99") {
		t.Errorf("post 2 media = %#v, want Unsupported naming the media type", posts[2].Media)
	}
	if posts[2].Code != "ODD" || posts[2].TakenAt.Unix() != 1800 {
		t.Errorf("unsupported post lost its identity: %+v", posts[2])
	}

	if posts[3].Media != (mirror.Photo{URL: "https://cdn/p.jpg"}) {
		t.Errorf("post 3 media = %+v", posts[3].Media)
	}
	if posts[3].Permalink() != "https://www.instagram.com/p/PIC" {
		t.Errorf("permalink = %s", posts[3].Permalink())
	}
}

func TestRecentPostsHTTPError(t *testing.T) {
	c := newTestClient(t, &fakeInstagram{})

	if _, err := c.RecentPosts(context.Background(), "9999", 5); !IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublishPhoto(t *testing.T) {
	fake := &fakeInstagram{}
	c := newTestClient(t, fake)
	path := writeFile(t, t.TempDir(), "item-1.jpg", "jpeg-data")

	if err := c.PublishPhoto(context.Background(), path, "hello friend "); err != nil {
		t.Fatalf("PublishPhoto: %v", err)
	}

	uploads := fake.find("/rupload_igphoto/")
	if len(uploads) != 1 {
		t.Fatalf("photo uploads = %d", len(uploads))
	}
	up := uploads[0]
	if string(up.body) != "jpeg-data" {
		t.Errorf("upload body = %q", up.body)
	}
	if up.header.Get("X-Entity-Length") != "9" || up.header.Get("X-Entity-Type") != "image/jpeg" {
		t.Errorf("upload headers = %v", up.header)
	}

	configs := fake.find("/api/v1/media/configure/")
	if len(configs) != 1 {
		t.Fatalf("configure calls = %d", len(configs))
	}
	if configs[0].query != "" {
		t.Errorf("photo configure query = %q", configs[0].query)
	}
	if !strings.Contains(string(configs[0].body), "caption=hello+friend+") {
		t.Errorf("configure body = %s", configs[0].body)
	}
}

func TestPublishVideo(t *testing.T) {
	fake := &fakeInstagram{}
	c := newTestClient(t, fake)
	path := writeFile(t, t.TempDir(), "item-1.mp4", "mp4-data")

	if err := c.PublishVideo(context.Background(), path, ""); err != nil {
		t.Fatalf("PublishVideo: %v", err)
	}
	if len(fake.find("/rupload_igvideo/")) != 1 {
		t.Error("expected one video upload")
	}
	configs := fake.find("/api/v1/media/configure/")
	if len(configs) != 1 || configs[0].query != "video=1" {
		t.Errorf("configure calls = %+v", configs)
	}
}

func TestPublishAlbum(t *testing.T) {
	fake := &fakeInstagram{}
	c := newTestClient(t, fake)
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "item-1.jpg", "one"),
		writeFile(t, dir, "item-2.mp4", "two"),
		writeFile(t, dir, "item-3.jpg", "three"),
	}

	if err := c.PublishAlbum(context.Background(), paths, "caption "); err != nil {
		t.Fatalf("PublishAlbum: %v", err)
	}

	var uploadIDs []string
	for _, r := range fake.find("/rupload_ig") {
		var params map[string]string
		if err := json.Unmarshal([]byte(r.header.Get("X-Instagram-Rupload-Params")), &params); err != nil {
			t.Fatal(err)
		}
		if params["is_sidecar"] != "1" {
			t.Errorf("upload %s not marked as sidecar", r.path)
		}
		uploadIDs = append(uploadIDs, params["upload_id"])
	}
	if len(uploadIDs) != 3 {
		t.Fatalf("uploads = %d, want 3", len(uploadIDs))
	}
	if len(fake.find("/rupload_igvideo/")) != 1 {
		t.Error("second item should be uploaded as video")
	}

	sidecars := fake.find("/api/v1/media/configure_sidecar/")
	if len(sidecars) != 1 {
		t.Fatalf("sidecar calls = %d", len(sidecars))
	}
	var req sidecarRequest
	if err := json.Unmarshal(sidecars[0].body, &req); err != nil {
		t.Fatalf("decode sidecar body: %v", err)
	}
	if req.Caption != "caption " || len(req.Children) != 3 {
		t.Fatalf("sidecar request = %+v", req)
	}
	seen := make(map[string]bool)
	for i, child := range req.Children {
		if child.UploadID != uploadIDs[i] {
			t.Errorf("child %d upload id = %s, want %s", i, child.UploadID, uploadIDs[i])
		}
		if seen[child.UploadID] {
			t.Errorf("duplicate upload id %s", child.UploadID)
		}
		seen[child.UploadID] = true
	}
}

func TestPublishFailure(t *testing.T) {
	c := newTestClient(t, &fakeInstagram{publishErr: true})
	path := writeFile(t, t.TempDir(), "item-1.jpg", "x")

	err := c.PublishPhoto(context.Background(), path, "")
	if !mirror.IsKind(err, mirror.PublishError) {
		t.Fatalf("error = %v, want publish error", err)
	}
	if !strings.Contains(err.Error(), "feedback_required") {
		t.Errorf("error %q should carry Instagram's message", err)
	}

	if err := c.PublishPhoto(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), ""); !mirror.IsKind(err, mirror.PublishError) {
		t.Errorf("missing file error = %v, want publish error", err)
	}
}
