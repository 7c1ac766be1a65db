package flickr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Query().Get("method")
		h, ok := handlers[method]
		if !ok {
			t.Fatalf("unexpected flickr method %q", method)
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return New(httpclient.NewRestyClient(5*time.Second), Options{
		APIKey: "key",
		UserID: "user",
		APIURL: srv.URL + "/",
	})
}

func TestPhotosWalksEveryPage(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"flickr.photosets.getPhotos": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("photoset_id"); got != "7215" {
				t.Fatalf("photoset_id = %q", got)
			}
			page := r.URL.Query().Get("page")
			switch page {
			case "1":
				fmt.Fprint(w, `{"stat":"ok","photoset":{"page":1,"pages":2,"photo":[
					{"id":"11","title":"first","datetaken":"2024-05-01 10:00:00","server":"65535","secret":"abc"},
					{"id":"12","title":"second","datetaken":"2024-05-01 11:00:00","server":"65535","secret":"def"}]}}`)
			case "2":
				fmt.Fprint(w, `{"stat":"ok","photoset":{"page":2,"pages":2,"photo":[
					{"id":"13","title":"third","datetaken":"2024-05-01 12:00:00","server":"65535","secret":"ghi"}]}}`)
			default:
				t.Fatalf("unexpected page %q", page)
			}
		},
	})

	photos, err := newTestClient(srv).Photos(context.Background(), "7215")
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(photos) != 3 {
		t.Fatalf("got %d photos, want 3", len(photos))
	}
	if photos[2].ID != "13" || photos[2].DateTaken != "2024-05-01 12:00:00" {
		t.Fatalf("last photo wrong: %+v", photos[2])
	}
	if photos[0].SourceURL != "https://live.staticflickr.com/65535/11_abc_b.jpg" {
		t.Fatalf("image URL wrong: %q", photos[0].SourceURL)
	}
}

func TestPhotosAPIFailureIsCatalogUnavailable(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"flickr.photosets.getPhotos": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"fail","code":1,"message":"Photoset not found"}`)
		},
	})

	_, err := newTestClient(srv).Photos(context.Background(), "missing")
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("got %v, want ErrCatalogUnavailable", err)
	}
}

func TestEnrichFillsMetadata(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"flickr.photos.getInfo": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"ok","photo":{
				"title":{"_content":"Matterhorn at dawn"},
				"description":{"_content":"Story at https://travelmemo.com/swiss/zermatt. Worth the hike."},
				"tags":{"tag":[{"_content":"zermatt"},{"_content":"alps"}]},
				"urls":{"url":[{"type":"photopage","_content":"https://www.flickr.com/photos/u/11"}]}}}`)
		},
		"flickr.photos.geo.getLocation": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"ok","photo":{"location":{
				"locality":{"_content":"Zermatt"},"region":{"_content":"Valais"},"country":{"_content":"Switzerland"}}}}`)
		},
		"flickr.photos.getExif": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"ok","photo":{"exif":[
				{"tag":"Make","raw":{"_content":"SONY"}},
				{"tag":"Model","raw":{"_content":"ILCE-7M3"}},
				{"tag":"UsageTerms","raw":{"_content":"See https://travelmemo.com/swiss/zermatt"}}]}}`)
		},
	})

	p := domain.Photo{ID: "11"}
	if err := newTestClient(srv).Enrich(context.Background(), &p); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if p.Description == "" || p.PageURL != "https://www.flickr.com/photos/u/11" {
		t.Fatalf("info fields missing: %+v", p)
	}
	if p.Geo == nil || p.Geo.Locality != "Zermatt" {
		t.Fatalf("geo missing: %+v", p.Geo)
	}
	if p.Camera == nil || p.Camera.Make != "SONY" || p.Camera.Model != "ILCE-7M3" {
		t.Fatalf("camera missing: %+v", p.Camera)
	}
	// Geo "Zermatt" duplicates the photo tag and is folded away.
	want := "#zermatt #alps #Valais #Switzerland"
	if p.Hashtags != want {
		t.Fatalf("hashtags = %q, want %q", p.Hashtags, want)
	}
	// The same blog URL appears in both EXIF and description; kept once.
	if len(p.EmbeddedURLs) != 1 || p.EmbeddedURLs[0] != "https://travelmemo.com/swiss/zermatt" {
		t.Fatalf("embedded URLs = %v", p.EmbeddedURLs)
	}
}

func TestEnrichSurvivesMissingGeoAndExif(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"flickr.photos.getInfo": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"ok","photo":{"title":{"_content":"t"},"description":{"_content":""},"tags":{"tag":[]},"urls":{"url":[]}}}`)
		},
		"flickr.photos.geo.getLocation": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"fail","code":2,"message":"Photo has no location information"}`)
		},
		"flickr.photos.getExif": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"stat":"fail","code":2,"message":"Photo has no EXIF information"}`)
		},
	})

	p := domain.Photo{ID: "11"}
	if err := newTestClient(srv).Enrich(context.Background(), &p); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if p.Geo != nil || p.Camera != nil || p.Hashtags != "" {
		t.Fatalf("expected bare enrichment, got %+v", p)
	}
}

func TestExtractURLsTrimsTrailingPunctuation(t *testing.T) {
	urls := ExtractURLs("read https://travelmemo.com/a-post. also http://example.com/b, done")
	if len(urls) != 2 || urls[0] != "https://travelmemo.com/a-post" || urls[1] != "http://example.com/b" {
		t.Fatalf("got %v", urls)
	}
}
