package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

const (
	DefaultGraphDomain  = "https://graph.facebook.com"
	DefaultGraphVersion = "v21.0"

	publishRetries     = 3
	publishInitialWait = 30 * time.Second
)

// Options configures the Graph API client.
type Options struct {
	AccessToken string
	AccountID   string
	GraphDomain string
	APIVersion  string
	Log         logger.Logger
}

// Client publishes single-image posts through the Instagram Graph API using
// the two-step container flow: create a media container, then publish it.
type Client struct {
	http        httpclient.Client
	accessToken string
	accountID   string
	base        string
	log         logger.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client httpclient.Client, opts Options) *Client {
	if client == nil {
		client = httpclient.NewRestyClient(60 * time.Second)
	}
	domain := strings.TrimRight(opts.GraphDomain, "/")
	if domain == "" {
		domain = DefaultGraphDomain
	}
	version := strings.Trim(opts.APIVersion, "/")
	if version == "" {
		version = DefaultGraphVersion
	}
	log := opts.Log
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Client{
		http:        client,
		accessToken: opts.AccessToken,
		accountID:   opts.AccountID,
		base:        domain + "/" + version,
		log:         log,
		sleep:       sleepContext,
	}
}

// CreateContainer registers the image with Instagram and returns the media
// container id. A failure here usually means the image URL is bad, so callers
// should not retry with the same URL.
func (c *Client) CreateContainer(ctx context.Context, imageURL, caption string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", c.base, c.accountID)
	id, err := c.postForID(ctx, endpoint, map[string]string{
		"image_url": imageURL,
		"caption":   caption,
	})
	if err != nil {
		return "", fmt.Errorf("create media container: %w", err)
	}
	c.log.InfoObj("media container created", "instagram", map[string]any{"container": id})
	return id, nil
}

// PublishContainer publishes a previously created container and returns the
// remote post id.
func (c *Client) PublishContainer(ctx context.Context, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", c.base, c.accountID)
	id, err := c.postForID(ctx, endpoint, map[string]string{
		"creation_id": containerID,
	})
	if err != nil {
		return "", fmt.Errorf("publish media container: %w", err)
	}
	c.log.InfoObj("post published", "instagram", map[string]any{"post": id})
	return id, nil
}

// sleepContext waits for the given duration unless the context is cancelled
// first. The publish backoff can reach minutes, so it must stay interruptible.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// PostPhoto runs the full container flow. The container is created exactly
// once; only the publish step is retried with exponential backoff, because
// freshly created containers can take a while to finish processing.
func (c *Client) PostPhoto(ctx context.Context, imageURL, caption string) (string, error) {
	containerID, err := c.CreateContainer(ctx, imageURL, caption)
	if err != nil {
		return "", err
	}

	wait := publishInitialWait
	var lastErr error
	for attempt := 1; attempt <= publishRetries; attempt++ {
		if attempt > 1 {
			c.log.InfoObj("waiting before publish retry", "instagram", map[string]any{
				"attempt": attempt,
				"wait":    wait.String(),
			})
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
			wait *= 2
		}

		postID, err := c.PublishContainer(ctx, containerID)
		if err == nil {
			return postID, nil
		}
		lastErr = err
		if errors.Is(err, ErrAuthExpired) {
			return "", err
		}
		c.log.WarnObj("publish attempt failed", "instagram", map[string]any{
			"attempt":   attempt,
			"container": containerID,
			"error":     err.Error(),
		})
	}
	return "", fmt.Errorf("container %s not published after %d attempts: %w", containerID, publishRetries, lastErr)
}

// ValidateImageURL checks that the image is publicly reachable and actually
// an image before Instagram is asked to fetch it.
func (c *Client) ValidateImageURL(ctx context.Context, imageURL string) error {
	resp, err := c.http.Head(ctx, imageURL, nil)
	if err != nil {
		return fmt.Errorf("validate image url: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("image url returned status %d", resp.StatusCode())
	}
	contentType := resp.Header("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("url does not point to an image (content-type %q)", contentType)
	}
	return nil
}

// AccountInfo fetches the account's id and username, doubling as a cheap
// credential check before a run starts publishing.
func (c *Client) AccountInfo(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=id,username&access_token=%s", c.base, c.accountID, c.accessToken)
	resp, err := c.http.Get(ctx, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("account info: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", graphError(resp)
	}
	var out struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode account info: %w", err)
	}
	return out.Username, nil
}

func (c *Client) postForID(ctx context.Context, endpoint string, form map[string]string) (string, error) {
	form["access_token"] = c.accessToken
	resp, err := c.http.PostForm(ctx, endpoint, form, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", graphError(resp)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("response carried no id: %s", string(resp.Body()))
	}
	return out.ID, nil
}

func graphError(resp httpclient.Response) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil || envelope.Error.Message == "" {
		return &APIError{HTTPStatus: resp.StatusCode(), Message: string(resp.Body())}
	}
	return &APIError{
		HTTPStatus: resp.StatusCode(),
		Code:       envelope.Error.Code,
		Subcode:    envelope.Error.Subcode,
		Message:    envelope.Error.Message,
	}
}
