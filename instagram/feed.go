package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"insta-mirror/pkg/mirror"
)

// Feed media types.
const (
	mediaTypePhoto    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8
)

// ResolveAccount returns the numeric account id for a username by reading
// the owner id meta tag of the public profile page.
func (c *Client) ResolveAccount(ctx context.Context, name string) (string, error) {
	id, err := c.resolveAccount(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			c.logger.Warn("Account does not exist or is private", "source", name)
		}
		return "", mirror.NewError(mirror.ResolutionError, name, "resolve account", err)
	}
	c.logger.Info("Account resolved", "source", name, "account_id", id)
	return id, nil
}

func (c *Client) resolveAccount(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/?#") {
		return "", fmt.Errorf("invalid username %q", name)
	}
	pageURL := c.webURL + "/" + url.PathEscape(name) + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: pageURL, Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse profile: %w", err)
	}

	id, _ := doc.Find(`meta[property="instapp:owner_user_id"]`).First().Attr("content")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("account id not found on profile page")
	}
	return id, nil
}

type feedResponse struct {
	Status string     `json:"status"`
	Items  []feedItem `json:"items"`
}

type feedItem struct {
	Caption        *feedCaption     `json:"caption"`
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	ImageVersions2 imageVersions    `json:"image_versions2"`
	VideoVersions  []mediaCandidate `json:"video_versions"`
	CarouselMedia  []feedItem       `json:"carousel_media"`
	TakenAt        int64            `json:"taken_at"`
	MediaType      int              `json:"media_type"`
}

type feedCaption struct {
	Text string `json:"text"`
}

type imageVersions struct {
	Candidates []mediaCandidate `json:"candidates"`
}

type mediaCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RecentPosts returns up to limit of the account's latest posts in the order
// Instagram lists them (newest first). Items that cannot be mirrored are
// returned with mirror.Unsupported media so the caller can report them.
func (c *Client) RecentPosts(ctx context.Context, accountID string, limit int) ([]*mirror.Post, error) {
	path := fmt.Sprintf("/api/v1/feed/user/%s/?count=%d", url.PathEscape(accountID), limit)
	req, err := c.newRequest(ctx, http.MethodGet, path, http.NoBody)
	if err != nil {
		return nil, err
	}

	var feed feedResponse
	if _, err := c.doJSON(req, &feed); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	var posts []*mirror.Post
	for _, item := range feed.Items {
		if len(posts) == limit {
			break
		}
		post, err := toPost(item)
		if err != nil {
			c.logger.Debug("Unsupported post in feed", "account_id", accountID, "code", item.Code, "error", err)
			post = &mirror.Post{
				ID:      item.ID,
				Code:    item.Code,
				TakenAt: time.Unix(item.TakenAt, 0),
				Media:   mirror.Unsupported{Reason: err.Error()},
			}
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func toPost(item feedItem) (*mirror.Post, error) {
	post := &mirror.Post{
		ID:      item.ID,
		Code:    item.Code,
		TakenAt: time.Unix(item.TakenAt, 0),
	}
	if item.Caption != nil {
		post.Caption = item.Caption.Text
	}

	if item.MediaType == mediaTypeCarousel {
		if len(item.CarouselMedia) == 0 {
			return nil, errors.New("carousel without media")
		}
		album := mirror.Album{Items: make([]mirror.Item, 0, len(item.CarouselMedia))}
		for i, child := range item.CarouselMedia {
			media, err := toItem(child)
			if err != nil {
				return nil, fmt.Errorf("carousel item %d: %w", i+1, err)
			}
			album.Items = append(album.Items, media)
		}
		post.Media = album
		return post, nil
	}

	media, err := toItem(item)
	if err != nil {
		return nil, err
	}
	post.Media = media
	return post, nil
}

func toItem(item feedItem) (mirror.Item, error) {
	switch item.MediaType {
	case mediaTypePhoto:
		if len(item.ImageVersions2.Candidates) == 0 {
			return nil, errors.New("photo without image candidates")
		}
		return mirror.Photo{URL: item.ImageVersions2.Candidates[0].URL}, nil
	case mediaTypeVideo:
		if len(item.VideoVersions) == 0 {
			return nil, errors.New("video without video versions")
		}
		return mirror.Video{URL: item.VideoVersions[0].URL}, nil
	default:
		return nil, fmt.Errorf("unsupported media_type %d", item.MediaType)
	}
}
