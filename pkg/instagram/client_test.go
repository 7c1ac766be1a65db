package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(httpclient.NewRestyClient(5*time.Second), Options{
		AccessToken: "token",
		AccountID:   "17841400000000000",
		GraphDomain: srv.URL,
		APIVersion:  "v21.0",
	})
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestPostPhotoCreatesContainerOnceAndPublishes(t *testing.T) {
	var containerCalls, publishCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/17841400000000000/media", func(w http.ResponseWriter, r *http.Request) {
		containerCalls++
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("image_url") == "" || r.PostForm.Get("access_token") != "token" {
			t.Fatalf("container form incomplete: %v", r.PostForm)
		}
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/v21.0/17841400000000000/media_publish", func(w http.ResponseWriter, r *http.Request) {
		publishCalls++
		if r.FormValue("creation_id") != "container-1" {
			t.Fatalf("creation_id = %q", r.FormValue("creation_id"))
		}
		if publishCalls < 3 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Media not ready","code":9007}}`)
			return
		}
		fmt.Fprint(w, `{"id":"post-42"}`)
	})

	c, waits := newTestClient(t, mux)
	postID, err := c.PostPhoto(context.Background(), "https://live.staticflickr.com/1/2_3_b.jpg", "caption")
	if err != nil {
		t.Fatalf("PostPhoto: %v", err)
	}
	if postID != "post-42" {
		t.Fatalf("post id = %q", postID)
	}
	if containerCalls != 1 {
		t.Fatalf("container created %d times, want once", containerCalls)
	}
	// Backoff doubles between publish attempts.
	if len(*waits) != 2 || (*waits)[0] != 30*time.Second || (*waits)[1] != 60*time.Second {
		t.Fatalf("waits = %v", *waits)
	}
}

func TestPostPhotoAbortsOnExpiredToken(t *testing.T) {
	var publishCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/17841400000000000/media", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/v21.0/17841400000000000/media_publish", func(w http.ResponseWriter, r *http.Request) {
		publishCalls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Error validating access token","code":190}}`)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.PostPhoto(context.Background(), "https://img.example/a.jpg", "caption")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("got %v, want ErrAuthExpired", err)
	}
	if publishCalls != 1 {
		t.Fatalf("expired token retried %d times", publishCalls)
	}
}

func TestPostPhotoStopsWaitingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var publishCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/17841400000000000/media", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"container-1"}`)
	})
	mux.HandleFunc("/v21.0/17841400000000000/media_publish", func(w http.ResponseWriter, r *http.Request) {
		publishCalls++
		cancel()
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Media not ready","code":9007}}`)
	})

	c, _ := newTestClient(t, mux)
	// Real waiter: cancellation must interrupt the backoff, not ride it out.
	c.sleep = sleepContext

	start := time.Now()
	_, err := c.PostPhoto(ctx, "https://img.example/a.jpg", "caption")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if publishCalls != 1 {
		t.Fatalf("publish attempted %d times after cancellation", publishCalls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation rode out the backoff (%v)", elapsed)
	}
}

func TestCreateContainerSurfacesRateLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/17841400000000000/media", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Application request limit reached","code":4}}`)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.CreateContainer(context.Background(), "https://img.example/a.jpg", "caption")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 4 {
		t.Fatalf("structured error missing: %v", err)
	}
}

func TestValidateImageURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/good.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(httpclient.NewRestyClient(5*time.Second), Options{AccessToken: "t", AccountID: "1"})

	if err := c.ValidateImageURL(context.Background(), srv.URL+"/good.jpg"); err != nil {
		t.Fatalf("valid image rejected: %v", err)
	}
	if err := c.ValidateImageURL(context.Background(), srv.URL+"/page.html"); err == nil {
		t.Fatal("html page accepted as image")
	}
	if err := c.ValidateImageURL(context.Background(), srv.URL+"/missing.jpg"); err == nil {
		t.Fatal("missing image accepted")
	}
}

func TestAccountInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/17841400000000000", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "token" {
			t.Fatalf("missing access token")
		}
		fmt.Fprint(w, `{"id":"17841400000000000","username":"travelmemo"}`)
	})

	c, _ := newTestClient(t, mux)
	username, err := c.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if username != "travelmemo" {
		t.Fatalf("username = %q", username)
	}
}
