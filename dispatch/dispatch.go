// Package dispatch downloads, transforms and republishes a single post.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"insta-mirror/caption"
	"insta-mirror/pkg/mirror"
)

// Fetcher downloads remote media to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (string, error)
}

// Compositor stamps the overlay onto a photo file in place.
type Compositor interface {
	Apply(photoPath string) error
}

// Publisher posts media to the destination account.
type Publisher interface {
	PublishPhoto(ctx context.Context, path, caption string) error
	PublishVideo(ctx context.Context, path, caption string) error
	PublishAlbum(ctx context.Context, paths []string, caption string) error
}

// Config holds dispatcher dependencies.
type Config struct {
	Fetcher    Fetcher
	Compositor Compositor
	Publisher  Publisher
	Logger     *slog.Logger
	ScratchDir string // Parent of the per-dispatch directories; os.TempDir() if empty
	Dry        bool   // Do everything except publish
}

// Dispatcher mirrors posts one at a time.
type Dispatcher struct {
	fetcher    Fetcher
	compositor Compositor
	publisher  Publisher
	logger     *slog.Logger
	removeAll  func(path string) error
	scratchDir string
	dry        bool
}

// New creates a dispatcher.
func New(cfg *Config) *Dispatcher {
	scratch := cfg.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Dispatcher{
		fetcher:    cfg.Fetcher,
		compositor: cfg.Compositor,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		removeAll:  os.RemoveAll,
		scratchDir: scratch,
		dry:        cfg.Dry,
	}
}

// Dispatch mirrors one post from source: fetch every item, overlay the photos,
// publish them as a single post, then remove every scratch file.
//
// Any fetch or overlay failure aborts the whole post before publishing. The
// returned files are the scratch files that were created; none of them exist
// once Dispatch returns. A cleanup failure is reported as a CleanupError joined
// with whatever else went wrong.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, post *mirror.Post) (files []mirror.LocalMediaFile, err error) {
	items, err := classify(post)
	if err != nil {
		return nil, mirror.NewError(mirror.PublishError, source, "classify post", err)
	}

	dir := filepath.Join(d.scratchDir, "insta-mirror-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, mirror.NewError(mirror.TransferError, source, "create scratch dir", err)
	}
	defer func() {
		if rmErr := d.removeAll(dir); rmErr != nil {
			d.logger.Error("Failed to remove scratch files", "source", source, "dir", dir, "error", rmErr)
			err = errors.Join(err, mirror.NewError(mirror.CleanupError, source, "remove scratch files", rmErr))
		}
	}()

	for i, item := range items {
		dest := filepath.Join(dir, fmt.Sprintf("item-%d%s", i+1, item.Kind().Ext()))
		path, fetchErr := d.fetcher.Fetch(ctx, item.MediaURL(), dest)
		if fetchErr != nil {
			// A truncated file may still be on disk.
			files = append(files, mirror.LocalMediaFile{Path: dest, Kind: item.Kind()})
			return files, tag(fetchErr, mirror.TransferError, source, fmt.Sprintf("item %d", i+1))
		}
		files = append(files, mirror.LocalMediaFile{Path: path, Kind: item.Kind()})
	}

	for i, f := range files {
		if f.Kind != mirror.KindPhoto {
			continue
		}
		if applyErr := d.compositor.Apply(f.Path); applyErr != nil {
			return files, tag(applyErr, mirror.ImageError, source, fmt.Sprintf("item %d", i+1))
		}
	}

	text := caption.Sanitize(post.Caption)

	d.logger.Info("New post detected",
		"source", source,
		"kind", post.Describe(),
		"taken_at", post.TakenAt.Unix(),
		"link", post.Permalink())

	if d.dry {
		d.logger.Info("Dry run, publish skipped", "source", source, "link", post.Permalink(), "files", len(files))
		return files, nil
	}

	if pubErr := d.publish(ctx, post, files, text); pubErr != nil {
		return files, mirror.NewError(mirror.PublishError, source, "publish "+post.Describe(), pubErr)
	}

	d.logger.Info("Post mirrored", "source", source, "link", post.Permalink(), "files", len(files))
	return files, nil
}

func (d *Dispatcher) publish(ctx context.Context, post *mirror.Post, files []mirror.LocalMediaFile, text string) error {
	switch post.Media.(type) {
	case mirror.Photo:
		return d.publisher.PublishPhoto(ctx, files[0].Path, text)
	case mirror.Video:
		return d.publisher.PublishVideo(ctx, files[0].Path, text)
	case mirror.Album:
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		return d.publisher.PublishAlbum(ctx, paths, text)
	default:
		return fmt.Errorf("unsupported media %T", post.Media)
	}
}

// classify flattens a post into the ordered list of items to download.
func classify(post *mirror.Post) ([]mirror.Item, error) {
	switch m := post.Media.(type) {
	case mirror.Photo:
		return []mirror.Item{m}, nil
	case mirror.Video:
		return []mirror.Item{m}, nil
	case mirror.Album:
		if len(m.Items) == 0 {
			return nil, errors.New("album has no items")
		}
		return m.Items, nil
	case mirror.Unsupported:
		return nil, errors.New(m.Reason)
	default:
		return nil, fmt.Errorf("unsupported media %T", post.Media)
	}
}

// tag fills in the source and operation of err, giving it kind if it has none.
func tag(err error, kind mirror.ErrorKind, source, op string) error {
	var me *mirror.Error
	if !errors.As(err, &me) {
		return mirror.NewError(kind, source, op, err)
	}
	if me.Source == "" {
		me.Source = source
	}
	if me.Op == "" {
		me.Op = op
	} else {
		me.Op = op + ": " + me.Op
	}
	return err
}
