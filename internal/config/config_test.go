package config

import (
	"testing"

	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/flickr"
)

func TestLoadDefaultsMatchCatalogClient(t *testing.T) {
	t.Setenv("FLICKR_API_KEY", "key")
	t.Setenv("FLICKR_USER_ID", "user")
	t.Setenv("FLICKR_ALBUM_ID", "72177720300001")
	t.Setenv("STORAGE_TYPE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlickrAPIURL != flickr.DefaultAPIURL {
		t.Fatalf("flickr_api_url default = %q, want %q", cfg.FlickrAPIURL, flickr.DefaultAPIURL)
	}
}
