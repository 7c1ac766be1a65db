package caption

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/blog"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/config"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
)

const (
	// instagramCaptionLimit is the hard cap the Graph API enforces.
	instagramCaptionLimit = 2200

	promptEN = "You are an Instagram influencer who publishes travel photos. Create an Instagram caption " +
		"in five short sentences. Add a new paragraph for each sentence. " +
		"Make it factual, authentic and personal. " +
		"Do not use the terms 'I can't wait to share more...' or 'Stay tuned for more...'. " +
		"Use emojis sparingly and appropriately.\n\n" +
		"CRITICAL: Use the provided blog post context to include SPECIFIC details:\n" +
		"- Reference specific places, names, events, or facts from the blog post\n" +
		"- Tell a brief story or anecdote that's described in the blog content\n" +
		"- Avoid generic travel descriptions, be specific and concrete\n" +
		"- If the photo shows a particular landmark, restaurant, or activity, use the exact name from the blog\n" +
		"- Reference concrete experiences or impressions mentioned in the blog post"

	promptDE = "Du bist eine Schweizer Instagram Influencerin, die Reisefotos veroeffentlicht. Erstelle eine Instagram Caption " +
		"in fuenf kurzen Saetzen auf Deutsch. Verwende fuer jeden Satz einen neuen Absatz. " +
		"Schreibe sachlich, authentisch, persoenlich und duze deine Follower. " +
		"Verwende kein scharfes 'ß', sondern 'ss' wie in der Schweiz. " +
		"Nutze Emojis nur sparsam und passend.\n\n" +
		"WICHTIG: Nutze die bereitgestellten Blog-Inhalte, um KONKRETE Details zu erwaehnen:\n" +
		"- Zitiere spezifische Orte, Namen, Ereignisse oder Fakten aus dem Blog-Post\n" +
		"- Erzaehle eine kurze Geschichte oder Anekdote, die im Blog beschrieben wird\n" +
		"- Vermeide generische Reisebeschreibungen und sei spezifisch\n" +
		"- Wenn das Foto eine bestimmte Sehenswuerdigkeit, ein Restaurant oder eine Aktivitaet zeigt, verwende den exakten Namen aus dem Blog"

	basicPromptEN = "You are an Instagram influencer. Describe this image in two very short paragraphs " +
		"with two sentences each. They serve as Instagram captions. Do not number the paragraphs nor the sentences. " +
		"Do not use quotation marks. Keep it personal and authentic. " +
		"Use emojis sparingly and appropriately."

	basicPromptDE = "Du bist eine Schweizer Instagram Influencerin, die Reisefotos veroeffentlicht. Beschreibe dieses Bild in zwei sehr kurzen Absaetzen " +
		"mit jeweils zwei Saetzen auf Deutsch. Sie dienen als Instagram Captions. Nummeriere weder die Absaetze noch die Saetze. " +
		"Verwende keine Anfuehrungszeichen. Halte es persoenlich und authentisch. " +
		"Verwende kein scharfes 'ß', sondern 'ss' wie in der Schweiz. " +
		"Nutze Emojis nur sparsam und passend."
)

// BuildPrompt assembles the model prompt from the photo metadata and the
// optional blog context, in the account's language. Without any context the
// basic describe-the-image prompt is used.
func BuildPrompt(acct config.Account, photo domain.Photo, match *blog.ContextMatch) string {
	var context []string
	if photo.Title != "" {
		context = append(context, "Photo title: "+photo.Title)
	}
	if photo.Description != "" {
		context = append(context, "Photo description: "+photo.Description)
	}
	if photo.Geo != nil {
		var loc []string
		for _, part := range []string{photo.Geo.Locality, photo.Geo.Region, photo.Geo.Country} {
			if part != "" {
				loc = append(loc, part)
			}
		}
		if len(loc) > 0 {
			context = append(context, "Location: "+strings.Join(loc, ", "))
		}
	}
	if photo.Camera != nil {
		context = append(context, strings.TrimSpace("Camera: "+photo.Camera.Make+" "+photo.Camera.Model))
	}
	if match != nil {
		context = append(context,
			"This photo appears in a blog post at: "+match.URL,
			"Blog post excerpt:\n"+match.Context)
	}

	if len(context) == 0 {
		if acct.Language == "de" {
			return basicPromptDE
		}
		return basicPromptEN
	}

	base := promptEN
	if acct.Language == "de" {
		base = promptDE
	}
	return base + "\n\nContext about this photo:\n" + strings.Join(context, "\n")
}

// FallbackCaption is used when the model is unavailable; the post still goes
// out with the photo's own words.
func FallbackCaption(photo domain.Photo) string {
	switch {
	case photo.Title != "" && photo.Description != "":
		return photo.Title + "\n\n" + photo.Description
	case photo.Title != "":
		return photo.Title
	default:
		return photo.Description
	}
}

// BuildFullCaption assembles the final Instagram caption: title line,
// generated body, account attribution, blog pointer, hashtags. The result is
// clipped to Instagram's caption limit.
func BuildFullCaption(acct config.Account, photo domain.Photo, generated, blogURL string) string {
	var parts []string

	if photo.Title != "" {
		title := photo.Title
		if photo.Description != "" && !strings.Contains(generated, photo.Description) {
			title += ": " + photo.Description
		}
		parts = append(parts, title)
	}
	if generated != "" {
		parts = append(parts, generated)
	}

	if acct.Attribution != "" {
		parts = append(parts, acct.Attribution)
	} else if acct.Language == "de" {
		parts = append(parts, fmt.Sprintf("%s vom Schweizer Reiseblog ueber Erlebnisreisen.", acct.Name))
	} else {
		parts = append(parts, fmt.Sprintf("%s from a one-of-a-kind travel experience.", acct.Name))
	}

	if blogURL == "" && acct.PrimaryDomain() != "" {
		blogURL = "https://" + acct.PrimaryDomain()
	}
	if blogURL != "" {
		if acct.Language == "de" {
			parts = append(parts, "Lies den Reisetipp unter")
		} else {
			parts = append(parts, "Read the travel tip at")
		}
		parts = append(parts, blogURL)
	}

	hashtags := photo.Hashtags
	if extra := strings.Join(acct.Hashtags, " "); extra != "" {
		hashtags = strings.TrimSpace(hashtags + " " + extra)
	}
	if hashtags != "" {
		parts = append(parts, hashtags)
	}

	caption := strings.Join(parts, "\n\n")
	if len(caption) > instagramCaptionLimit {
		caption = truncateOnRune(caption, instagramCaptionLimit-3)
	}
	return caption
}

// truncateOnRune cuts s at or before max bytes and appends an ellipsis. The
// cut backs up to a rune start so multibyte text (umlauts, emojis) is never
// split into invalid UTF-8.
func truncateOnRune(s string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Preview returns the short caption excerpt stored in post records.
func Preview(caption string) string {
	const max = 100
	caption = strings.ReplaceAll(caption, "\n", " ")
	if len(caption) <= max {
		return caption
	}
	return truncateOnRune(caption, max)
}
