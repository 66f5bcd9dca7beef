// Package ingest drives one ingestion pass: for every municipality it reads
// the playlist, extracts each video's metadata and reconciles it against the
// meeting catalog.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/meeting-ingest/internal/extract"
	"github.com/sells-group/meeting-ingest/internal/fetcher"
	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/reconcile"
	"github.com/sells-group/meeting-ingest/internal/store"
)

// Options configures an Orchestrator.
type Options struct {
	// MaxConcurrentMunicipalities bounds how many playlists are processed at
	// once. Default 1.
	MaxConcurrentMunicipalities int
	// VideoInterval is the minimum spacing between video page fetches across
	// all workers. Zero disables the politeness delay.
	VideoInterval time.Duration
	// WatchURLPrefix is where video pages are fetched from. Stored meetings
	// always carry the canonical watch URL.
	WatchURLPrefix string
}

// Orchestrator wires the fetcher, extractor, reconciler and store together.
type Orchestrator struct {
	store      store.Store
	pages      fetcher.PageFetcher
	extractor  *extract.Extractor
	reconciler *reconcile.Reconciler
	queue      jobs.Queue
	limiter    *rate.Limiter
	opts       Options
}

// New creates an Orchestrator. A nil queue disables downstream jobs.
func New(st store.Store, pages fetcher.PageFetcher, extractor *extract.Extractor, reconciler *reconcile.Reconciler, queue jobs.Queue, opts Options) *Orchestrator {
	if opts.MaxConcurrentMunicipalities <= 0 {
		opts.MaxConcurrentMunicipalities = 1
	}
	if opts.WatchURLPrefix == "" {
		opts.WatchURLPrefix = model.WatchURLPrefix
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.VideoInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.VideoInterval), 1)
	}
	return &Orchestrator{
		store:      st,
		pages:      pages,
		extractor:  extractor,
		reconciler: reconciler,
		queue:      queue,
		limiter:    limiter,
		opts:       opts,
	}
}

// Run ingests every municipality. Only a failure to list municipalities is
// returned; playlist and video failures are logged and counted.
func (o *Orchestrator) Run(ctx context.Context) (model.IngestStats, error) {
	var total model.IngestStats

	munis, err := o.store.ListMunicipalities(ctx)
	if err != nil {
		return total, eris.Wrap(err, "ingest: list municipalities")
	}

	start := time.Now()
	zap.L().Info("ingest: starting run",
		zap.Int("municipalities", len(munis)),
		zap.Int("concurrency", o.opts.MaxConcurrentMunicipalities),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrentMunicipalities)
	for i := range munis {
		muni := munis[i]
		g.Go(func() error {
			stats := o.IngestMunicipality(gctx, &muni)
			mu.Lock()
			total.Add(stats)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("ingest: run complete",
		zap.Int("municipalities", total.Municipalities),
		zap.Int("videos", total.Videos),
		zap.Int("created", total.Created),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
		zap.Int("playlist_errors", total.PlaylistErrors),
		zap.Duration("elapsed", time.Since(start)),
	)
	return total, ctx.Err()
}

// IngestMunicipality processes one playlist.
func (o *Orchestrator) IngestMunicipality(ctx context.Context, muni *model.Municipality) model.IngestStats {
	stats := model.IngestStats{Municipalities: 1}
	log := zap.L().With(zap.String("municipality", muni.Slug))

	html, err := o.pages.Fetch(ctx, muni.PlaylistURL, nil)
	if err != nil {
		log.Error("ingest: playlist fetch failed", zap.String("url", muni.PlaylistURL), zap.Error(err))
		stats.PlaylistErrors++
		return stats
	}

	ids := extract.VideoIDs(html)
	if len(ids) == 0 {
		log.Warn("ingest: playlist has no videos", zap.String("url", muni.PlaylistURL))
		return stats
	}
	log.Info("ingest: playlist fetched", zap.Int("videos", len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		stats.Videos++
		action, err := o.IngestVideo(ctx, muni, id)
		if err != nil {
			log.Warn("ingest: video failed", zap.String("video_id", id), zap.Error(err))
			stats.Failed++
			continue
		}
		switch action {
		case reconcile.ActionCreate:
			stats.Created++
		case reconcile.ActionUpdate:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}
	return stats
}

// IngestVideo fetches, extracts and reconciles a single video.
func (o *Orchestrator) IngestVideo(ctx context.Context, muni *model.Municipality, videoID string) (reconcile.Action, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "ingest: politeness wait")
	}

	html, err := o.pages.Fetch(ctx, o.opts.WatchURLPrefix+videoID, nil)
	if err != nil {
		return "", eris.Wrap(err, "ingest: fetch video page")
	}

	md := o.extractor.Extract(ctx, html, model.WatchURL(videoID))
	md.VideoID = videoID
	if strings.TrimSpace(md.Title) == "" {
		md.Title = model.FallbackTitle(videoID)
	}

	existing, err := o.lookup(ctx, videoID)
	if err != nil {
		return "", err
	}

	d := o.reconciler.Reconcile(muni, md, existing)
	var m *model.Meeting
	switch d.Action {
	case reconcile.ActionCreate:
		err = o.store.CreateMeeting(ctx, d.Meeting)
		if errors.Is(err, store.ErrDuplicate) {
			// Another writer created it first; reconcile against that row.
			if existing, err = o.lookup(ctx, videoID); err != nil {
				return "", err
			}
			if existing == nil {
				return "", eris.Errorf("ingest: meeting %s vanished after duplicate insert", videoID)
			}
			d = o.reconciler.Reconcile(muni, md, existing)
			m, err = o.applyExisting(ctx, d, existing)
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "ingest: create meeting")
		}
		m = d.Meeting
	default:
		m, err = o.applyExisting(ctx, d, existing)
	}
	if err != nil {
		return "", err
	}

	zap.L().Debug("ingest: reconciled",
		zap.String("municipality", muni.Slug),
		zap.String("video_id", videoID),
		zap.String("action", string(d.Action)),
		zap.String("source", md.Source),
		zap.String("date_source", string(d.DateSource)),
		zap.Strings("fields", d.Patch.Fields()),
	)

	if d.Action != reconcile.ActionSkip {
		o.enqueueFollowUp(ctx, m)
	}
	return d.Action, nil
}

func (o *Orchestrator) applyExisting(ctx context.Context, d reconcile.Decision, existing *model.Meeting) (*model.Meeting, error) {
	if d.Action != reconcile.ActionUpdate {
		return existing, nil
	}
	if err := o.store.UpdateMeeting(ctx, existing.ID, d.Patch); err != nil {
		return nil, eris.Wrap(err, "ingest: update meeting")
	}
	d.Patch.Apply(existing)
	return existing, nil
}

func (o *Orchestrator) lookup(ctx context.Context, videoID string) (*model.Meeting, error) {
	m, err := o.store.GetMeetingByVideoID(ctx, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: look up meeting")
	}
	return m, nil
}

// enqueueFollowUp queues the transcript for a meeting that lacks one, or the
// summary for one that has a transcript but no summary. Failures are logged.
func (o *Orchestrator) enqueueFollowUp(ctx context.Context, m *model.Meeting) {
	if o.queue == nil || m == nil {
		return
	}
	var job model.Job
	switch {
	case !m.HasTranscript():
		job = jobs.TranscriptJob(m.VideoID)
	case !m.HasSummary():
		job = jobs.SummaryJob(m.VideoID)
	default:
		return
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		zap.L().Warn("ingest: enqueue failed",
			zap.String("video_id", m.VideoID),
			zap.String("kind", string(job.Kind)),
			zap.Error(err),
		)
	}
}
