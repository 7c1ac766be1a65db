package flickr

import (
	"regexp"
	"strings"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
)

// content is Flickr's ubiquitous {"_content": "..."} wrapper.
type content struct {
	Content string `json:"_content"`
}

type photosetEnvelope struct {
	Photoset struct {
		Photo []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			DateTaken string `json:"datetaken"`
			Server    string `json:"server"`
			Secret    string `json:"secret"`
		} `json:"photo"`
		Page  int `json:"page"`
		Pages int `json:"pages"`
		Total any `json:"total"` // Flickr returns this as string or number
	} `json:"photoset"`
}

type photoInfoEnvelope struct {
	Photo struct {
		Title       content `json:"title"`
		Description content `json:"description"`
		Tags        struct {
			Tag []content `json:"tag"`
		} `json:"tags"`
		URLs struct {
			URL []struct {
				Type    string `json:"type"`
				Content string `json:"_content"`
			} `json:"url"`
		} `json:"urls"`
	} `json:"photo"`
}


type geoEnvelope struct {
	Photo struct {
		Location struct {
			Locality content `json:"locality"`
			Region   content `json:"region"`
			Country  content `json:"country"`
		} `json:"location"`
	} `json:"photo"`
}

type exifEnvelope struct {
	Photo struct {
		Exif []struct {
			Tag string  `json:"tag"`
			Raw content `json:"raw"`
		} `json:"exif"`
	} `json:"photo"`
}

// urlPattern matches http(s) URLs in free text, trimming trailing punctuation.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+[^\s<>"{}|\\^` + "`" + `\[\],.]`)

// ExtractURLs pulls every URL out of a free-text field.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}

func dedupeURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		key := strings.TrimRight(strings.ToLower(u), "/")
		if !seen[key] {
			seen[key] = true
			out = append(out, u)
		}
	}
	return out
}

// buildHashtags turns photo tags and geo fields into a space-joined hashtag
// string ready for caption assembly.
func buildHashtags(tags []content, geo *domain.GeoLocation) string {
	var hashtags []string
	seen := make(map[string]bool)
	add := func(raw string) {
		tag := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
		if tag == "" {
			return
		}
		key := strings.ToLower(tag)
		if seen[key] {
			return
		}
		seen[key] = true
		hashtags = append(hashtags, "#"+tag)
	}

	for _, t := range tags {
		add(t.Content)
	}
	if geo != nil {
		add(geo.Locality)
		add(geo.Region)
		add(geo.Country)
	}
	return strings.Join(hashtags, " ")
}
