package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/blog"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/config"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/state"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/storage"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/caption"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/flickr"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/instagram"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/notify"
)

// finalizeInitialWait is the first pause before redoing a finalize cycle that
// lost an optimistic-concurrency race. Doubles on each further conflict.
const finalizeInitialWait = 500 * time.Millisecond

// Catalog lists an album and fills in per-photo metadata.
type Catalog interface {
	state.CatalogSource
	Enrich(ctx context.Context, photo *domain.Photo) error
}

// Publisher pushes a single image post to the destination platform.
type Publisher interface {
	ValidateImageURL(ctx context.Context, imageURL string) error
	PostPhoto(ctx context.Context, imageURL, caption string) (string, error)
}

// Captioner produces the generated part of a caption, falling back to photo
// metadata when generation is unavailable.
type Captioner interface {
	GenerateWithFallback(ctx context.Context, acct config.Account, photo domain.Photo, match *blog.ContextMatch) string
}

// fallbackCaptioner is used when no generation API key is configured.
type fallbackCaptioner struct{}

func (fallbackCaptioner) GenerateWithFallback(_ context.Context, _ config.Account, photo domain.Photo, _ *blog.ContextMatch) string {
	return caption.FallbackCaption(photo)
}

// Automation runs one unit of work per invocation: select the next album
// position, build its caption, publish it (or simulate in dry-run mode) and
// record the outcome. It coordinates the catalog, the progression engine, the
// publisher and the notification fanout.
type Automation struct {
	cfg       *config.Config
	acct      config.Account
	store     storage.StateStore
	engine    *state.Engine
	catalog   Catalog
	publisher Publisher
	captioner Captioner
	extractor *blog.Extractor
	fanout    *notify.Fanout
	dryRun    bool
	log       logger.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAutomation builds the automation runtime from config files. Publishing
// credentials are only demanded when a live run will actually publish, so
// dry runs and stats queries work without them.
func NewAutomation(ctx context.Context, cfg *config.Config, dryRun bool, log logger.Logger) (*Automation, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.RunID == "" {
		// Outside CI there is no workflow run id, so mint one: failure
		// records and notifications stay traceable to a single run.
		cfg.RunID = uuid.NewString()
	}

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("load accounts registry: %w", err)
	}
	acct, ok := accounts.ByID(cfg.Account)
	if !ok {
		return nil, fmt.Errorf("account %q not found in %s", cfg.Account, cfg.AccountsFile)
	}
	log.InfoObj("account selected", "account_meta", map[string]any{
		"id":       acct.ID,
		"language": acct.Language,
		"domains":  acct.BlogDomains,
	})

	store, err := storage.NewStore(cfg.StorageType, storage.Options{
		BBoltPath: cfg.BBoltPath,
		GitHub: storage.GitHubOptions{
			Repo:    cfg.GitHubRepo,
			Token:   cfg.GitHubToken,
			Branch:  cfg.StateBranch,
			Timeout: cfg.HTTPTimeout,
			Log:     log,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":   cfg.StorageType,
		"branch": cfg.StateBranch,
	})

	httpc := httpclient.NewRestyClient(cfg.HTTPTimeout)

	catalog := flickr.New(httpc, flickr.Options{
		APIKey: cfg.FlickrAPIKey,
		UserID: cfg.FlickrUserID,
		APIURL: cfg.FlickrAPIURL,
		Log:    log,
	})

	var publisher Publisher
	if !dryRun {
		if cfg.InstagramAccessToken == "" || cfg.InstagramAccountID == "" {
			store.Close()
			return nil, fmt.Errorf("live runs require instagram_access_token and instagram_account_id")
		}
		publisher = instagram.New(httpc, instagram.Options{
			AccessToken: cfg.InstagramAccessToken,
			AccountID:   cfg.InstagramAccountID,
			GraphDomain: cfg.GraphAPIDomain,
			APIVersion:  cfg.GraphAPIVersion,
			Log:         log,
		})
	}

	var captioner Captioner = fallbackCaptioner{}
	if cfg.GeminiAPIKey != "" {
		gen, err := caption.NewGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, httpc, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init caption generator: %w", err)
		}
		captioner = gen
	} else {
		log.WarnObj("no generation API key; captions fall back to photo metadata", "account", acct.ID)
	}

	var fanout *notify.Fanout
	if cfg.NotifyChannelsFile != "" {
		channels, err := notify.LoadChannels(cfg.NotifyChannelsFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load notification channels: %w", err)
		}
		senders, err := notify.BuildAll(ctx, channels.Enabled(), log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("build notification channels: %w", err)
		}
		fanout = notify.NewFanout(senders)
		log.InfoObj("notification channels loaded", "channel_count", fanout.Size())
	}

	opts := state.Options{
		MaxAutoRetries:       cfg.MaxAutoRetries,
		AllowMismatchedRetry: cfg.AllowMismatchedRetry,
	}
	engine := state.NewEngine(store, catalog, acct.ID, cfg.FlickrAlbumID, cfg.RunID, opts, log)

	return &Automation{
		cfg:       cfg,
		acct:      acct,
		store:     store,
		engine:    engine,
		catalog:   catalog,
		publisher: publisher,
		captioner: captioner,
		extractor: blog.NewExtractor(httpc, log),
		fanout:    fanout,
		dryRun:    dryRun,
		log:       log,
		sleep:     sleepContext,
	}, nil
}

// RunOnce executes a single automation cycle. A failure that concerns only
// the selected photo is recorded as a failed position and reported, but does
// not return an error: the next scheduled run retries it. Errors are reserved
// for conditions that invalidate the whole run, such as an unavailable
// catalog, a broken state store or an expired access token.
func (a *Automation) RunOnce(ctx context.Context) error {
	start := time.Now()
	plan, err := a.engine.PlanRun(ctx)
	if err != nil {
		if errors.Is(err, flickr.ErrCatalogUnavailable) {
			a.log.ErrorObj("catalog unavailable; aborting without recording state", "error", err.Error())
		}
		return fmt.Errorf("plan run: %w", err)
	}

	if plan.Complete {
		a.log.InfoObj("album complete; nothing to post", "album_meta", map[string]any{
			"account":     a.acct.ID,
			"album_id":    a.cfg.FlickrAlbumID,
			"total_items": plan.TotalItems,
		})
		a.notifyComplete(ctx, plan.TotalItems)
		return nil
	}

	photo := plan.Photo
	if err := a.catalog.Enrich(ctx, &photo); err != nil {
		a.log.WarnObj("photo enrichment failed; continuing with listing data", "error", err.Error())
	}
	a.log.InfoObj("photo selected", "selection", map[string]any{
		"position":    plan.Position,
		"photo_id":    photo.ID,
		"title":       photo.Title,
		"is_retry":    plan.IsRetry,
		"retry_count": plan.RetryCount,
	})

	if !a.dryRun {
		if err := a.publisher.ValidateImageURL(ctx, photo.SourceURL); err != nil {
			return a.concludeFailure(ctx, plan, photo, fmt.Errorf("image url rejected: %w", err))
		}
	}

	blogURL := blog.Resolve(a.acct, photo)
	var match *blog.ContextMatch
	if blogURL != "" {
		content, err := a.extractor.Extract(ctx, blogURL)
		if err != nil {
			a.log.WarnObj("blog context unavailable", "blog_context", map[string]any{
				"url":   blogURL,
				"error": err.Error(),
			})
		} else {
			match = blog.FindRelevantContext(content, photo)
		}
	}

	generated := a.captioner.GenerateWithFallback(ctx, a.acct, photo, match)
	full := caption.BuildFullCaption(a.acct, photo, generated, blogURL)

	var out domain.Outcome
	var postID string
	if a.dryRun {
		a.log.InfoObj("dry run; skipping publish", "caption_preview", caption.Preview(full))
		out = domain.DryRunSuccess(caption.Preview(full))
	} else {
		postID, err = a.publisher.PostPhoto(ctx, photo.SourceURL, full)
		if err != nil {
			return a.concludeFailure(ctx, plan, photo, fmt.Errorf("publish: %w", err))
		}
		out = domain.Success(postID, caption.Preview(full))
	}

	if err := a.finalize(ctx, plan, photo, out); err != nil {
		return err
	}

	status := notify.StatusPosted
	if a.dryRun {
		status = notify.StatusDryRun
	}
	a.notifyOutcome(ctx, plan, photo, status, postID, "")

	a.log.InfoObj("run completed", "run_meta", map[string]any{
		"position":   plan.Position,
		"photo_id":   photo.ID,
		"post_id":    postID,
		"dry_run":    a.dryRun,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// concludeFailure records a failed position, notifies the channels and
// decides whether the failure ends only this item or the whole run.
func (a *Automation) concludeFailure(ctx context.Context, plan state.RunPlan, photo domain.Photo, cause error) error {
	a.log.ErrorObj("posting failed", "failure", map[string]any{
		"position": plan.Position,
		"photo_id": photo.ID,
		"error":    cause.Error(),
	})

	if err := a.finalize(ctx, plan, photo, domain.Failure(cause.Error())); err != nil {
		return err
	}
	a.notifyOutcome(ctx, plan, photo, notify.StatusFailed, "", cause.Error())

	// An expired token fails every subsequent run the same way, so surface
	// it as a run error and let the scheduler alert.
	if errors.Is(cause, instagram.ErrAuthExpired) {
		return fmt.Errorf("access token expired: %w", cause)
	}
	return nil
}

// finalize records the outcome, redoing the whole read-modify-write cycle
// when another run modified the state documents concurrently.
func (a *Automation) finalize(ctx context.Context, plan state.RunPlan, photo domain.Photo, out domain.Outcome) error {
	wait := finalizeInitialWait
	attempts := a.cfg.FinalizeRetries + 1
	for attempt := 1; ; attempt++ {
		err := a.engine.RecordOutcome(ctx, plan.Position, photo, plan.TotalItems, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConcurrentModification) || attempt >= attempts {
			return fmt.Errorf("record outcome for position %d: %w", plan.Position, err)
		}
		a.log.WarnObj("state moved underneath this run; redoing record cycle", "finalize_retry", map[string]any{
			"attempt": attempt,
			"wait":    wait.String(),
		})
		if err := a.sleep(ctx, wait); err != nil {
			return fmt.Errorf("record outcome for position %d: %w", plan.Position, err)
		}
		wait *= 2
	}
}

// sleepContext waits for the given duration unless the context is cancelled
// first, so an interrupted run does not ride out the conflict backoff.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (a *Automation) notifyOutcome(ctx context.Context, plan state.RunPlan, photo domain.Photo, status, postID, errMsg string) {
	if a.fanout == nil || a.fanout.Size() == 0 {
		return
	}
	report := notify.NewRunReport(a.acct.ID, a.cfg.FlickrAlbumID, a.cfg.RunID, status)
	report.Position = plan.Position
	report.PhotoID = photo.ID
	report.PhotoTitle = photo.Title
	report.PostID = postID
	report.Error = errMsg
	report.TotalItems = plan.TotalItems
	if meta, err := a.engine.Statistics(ctx); err == nil {
		report.PostedCount = meta.PostedCount
	}
	a.send(ctx, report)
}

func (a *Automation) notifyComplete(ctx context.Context, totalItems int) {
	if a.fanout == nil || a.fanout.Size() == 0 {
		return
	}
	report := notify.NewRunReport(a.acct.ID, a.cfg.FlickrAlbumID, a.cfg.RunID, notify.StatusComplete)
	report.TotalItems = totalItems
	if meta, err := a.engine.Statistics(ctx); err == nil {
		report.PostedCount = meta.PostedCount
	}
	a.send(ctx, report)
}

func (a *Automation) send(ctx context.Context, report notify.RunReport) {
	sent, err := a.fanout.Send(ctx, report)
	if err != nil {
		a.log.WarnObj("some notification channels failed", "notify_result", map[string]any{
			"sent":   sent,
			"total":  a.fanout.Size(),
			"errors": err.Error(),
		})
		return
	}
	a.log.DebugObj("notifications sent", "sent", sent)
}

// Stats returns the album progression summary without touching the catalog
// or the publisher.
func (a *Automation) Stats(ctx context.Context) (domain.AlbumMetadata, error) {
	meta, err := a.engine.Statistics(ctx)
	if err != nil {
		return domain.AlbumMetadata{}, err
	}
	a.log.InfoObj("album statistics", "album_stats", map[string]any{
		"account":            meta.Account,
		"album_id":           meta.AlbumID,
		"total_items":        meta.TotalItems,
		"posted_count":       meta.PostedCount,
		"dry_run_count":      meta.DryRunCount,
		"failed_count":       meta.FailedCount,
		"completion_percent": meta.CompletionPercentage,
		"is_complete":        meta.IsComplete,
		"last_run_id":        meta.LastRunID,
	})
	return meta, nil
}

// Close releases the storage backend.
func (a *Automation) Close() {
	if a == nil || a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.ErrorObj("storage close failed", "error", err.Error())
	}
}
