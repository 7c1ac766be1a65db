package flickr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

const (
	DefaultAPIURL = "https://api.flickr.com/services/rest/"

	// listPageSize is Flickr's documented per_page maximum.
	listPageSize = 500
)

// ErrCatalogUnavailable marks listing failures that must abort the run
// without recording any failed position: a half-fetched catalog would assign
// wrong positions.
var ErrCatalogUnavailable = errors.New("photo catalog unavailable")

// Options configures the Flickr REST client.
type Options struct {
	APIKey string
	UserID string
	APIURL string
	Log    logger.Logger
}

// Client talks to the Flickr REST API. It implements the catalog listing the
// progression engine consumes plus per-photo metadata enrichment.
type Client struct {
	http   httpclient.Client
	apiKey string
	userID string
	apiURL string
	log    logger.Logger
}

func New(client httpclient.Client, opts Options) *Client {
	if client == nil {
		client = httpclient.NewRestyClient(30 * time.Second)
	}
	apiURL := strings.TrimSpace(opts.APIURL)
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	log := opts.Log
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Client{
		http:   client,
		apiKey: opts.APIKey,
		userID: opts.UserID,
		apiURL: apiURL,
		log:    log,
	}
}

// Photos lists the complete album catalog, walking every page. Only the cheap
// listing fields are populated; call Enrich for the selected photo.
func (c *Client) Photos(ctx context.Context, albumID string) ([]domain.Photo, error) {
	var photos []domain.Photo
	for page := 1; ; page++ {
		body, err := c.call(ctx, "flickr.photosets.getPhotos", map[string]string{
			"photoset_id": albumID,
			"user_id":     c.userID,
			"extras":      "date_taken",
			"per_page":    fmt.Sprint(listPageSize),
			"page":        fmt.Sprint(page),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}

		var env photosetEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: decode listing page %d: %v", ErrCatalogUnavailable, page, err)
		}

		for _, p := range env.Photoset.Photo {
			photos = append(photos, domain.Photo{
				ID:        p.ID,
				Title:     p.Title,
				DateTaken: p.DateTaken,
				Server:    p.Server,
				Secret:    p.Secret,
				SourceURL: ImageURL(p.Server, p.ID, p.Secret),
			})
		}

		if page >= env.Photoset.Pages || len(env.Photoset.Photo) == 0 {
			break
		}
	}

	c.log.InfoObj("album catalog listed", "flickr_listing", map[string]any{
		"album":  albumID,
		"photos": len(photos),
	})
	return photos, nil
}

// Enrich fills in the expensive per-photo metadata: description, page URL,
// hashtags, geo location, camera info, and URLs embedded in free-text fields.
// Location and EXIF lookups are best-effort; many photos carry neither.
func (c *Client) Enrich(ctx context.Context, photo *domain.Photo) error {
	body, err := c.call(ctx, "flickr.photos.getInfo", map[string]string{"photo_id": photo.ID})
	if err != nil {
		return fmt.Errorf("photo info for %s: %w", photo.ID, err)
	}
	var info photoInfoEnvelope
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode photo info for %s: %w", photo.ID, err)
	}

	photo.Description = info.Photo.Description.Content
	for _, u := range info.Photo.URLs.URL {
		if u.Type == "photopage" {
			photo.PageURL = u.Content
			break
		}
	}
	if photo.Title == "" {
		photo.Title = info.Photo.Title.Content
	}

	geo := c.location(ctx, photo.ID)
	photo.Geo = geo
	photo.Hashtags = buildHashtags(info.Photo.Tags.Tag, geo)

	exifURLs := c.exif(ctx, photo)
	photo.EmbeddedURLs = dedupeURLs(append(exifURLs, ExtractURLs(photo.Description)...))
	return nil
}

func (c *Client) location(ctx context.Context, photoID string) *domain.GeoLocation {
	body, err := c.call(ctx, "flickr.photos.geo.getLocation", map[string]string{"photo_id": photoID})
	if err != nil {
		c.log.DebugObj("no location data", "flickr_geo", map[string]any{"photo": photoID})
		return nil
	}
	var env geoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	loc := env.Photo.Location
	geo := &domain.GeoLocation{
		Locality: loc.Locality.Content,
		Region:   loc.Region.Content,
		Country:  loc.Country.Content,
	}
	if geo.Locality == "" && geo.Region == "" && geo.Country == "" {
		return nil
	}
	return geo
}

// exif pulls camera make/model onto the photo and returns any URLs found in
// EXIF text fields, such as the usage-terms pointer photographers leave to
// their blog post.
func (c *Client) exif(ctx context.Context, photo *domain.Photo) []string {
	body, err := c.call(ctx, "flickr.photos.getExif", map[string]string{"photo_id": photo.ID})
	if err != nil {
		c.log.DebugObj("no exif data", "flickr_exif", map[string]any{"photo": photo.ID})
		return nil
	}
	var env exifEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	camera := domain.CameraInfo{}
	var urls []string
	for _, tag := range env.Photo.Exif {
		value := tag.Raw.Content
		switch tag.Tag {
		case "Make":
			camera.Make = value
		case "Model":
			camera.Model = value
		}
		if strings.Contains(value, "http") {
			urls = append(urls, ExtractURLs(value)...)
		}
	}
	if camera.Make != "" || camera.Model != "" {
		photo.Camera = &camera
	}
	return urls
}

// call performs one REST method invocation and unwraps Flickr's stat envelope.
func (c *Client) call(ctx context.Context, method string, params map[string]string) ([]byte, error) {
	q := url.Values{}
	q.Set("method", method)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	for k, v := range params {
		q.Set(k, v)
	}

	resp, err := c.http.Get(ctx, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode())
	}

	var stat struct {
		Stat    string `json:"stat"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &stat); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if stat.Stat != "ok" {
		return nil, fmt.Errorf("%s: api error: %s", method, stat.Message)
	}
	return resp.Body(), nil
}

// ImageURL builds the publishable static image URL at large size.
func ImageURL(server, id, secret string) string {
	return fmt.Sprintf("https://live.staticflickr.com/%s/%s_%s_b.jpg", server, id, secret)
}
