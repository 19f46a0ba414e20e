// Package pipeline implements the five-stage orchestrator (C5) and its
// source loop (C6): Enqueuer -> fetch pool -> parser -> materializer ->
// sender (+ dead-letter consumer), wired over bounded channels with the
// dedup store and outbox as the two durable hand-off points.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.feedmesh.dev/internal/config"
	"go.feedmesh.dev/internal/dedup"
	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
	"go.feedmesh.dev/internal/metrics"
	"go.feedmesh.dev/internal/outbox"
	"go.feedmesh.dev/internal/post"
	"go.feedmesh.dev/internal/ratelimit"
)

// DefaultFetchWorkers is the number of concurrent fetch-pool goroutines.
const DefaultFetchWorkers = 9

// DefaultEnqueueInterval is how often the Enqueuer re-pushes every source.
const DefaultEnqueueInterval = 30 * time.Minute

const fetchTimeout = 30 * time.Second

// Config controls the pipeline's channel sizing and scheduling.
type Config struct {
	FetchWorkers    int
	EnqueueInterval time.Duration
	ChannelBuffer   int
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{
		FetchWorkers:    DefaultFetchWorkers,
		EnqueueInterval: DefaultEnqueueInterval,
		ChannelBuffer:   64,
	}
}

type fetchJob struct {
	source config.Source
}

type fetchedText struct {
	text   string
	source config.Source
}

type parsedBatch struct {
	posts  []*post.Post
	source config.Source
	stream config.Stream
}

// Pipeline wires the five stages together over bounded channels, following
// the same Start/Stop/WaitGroup shape the teacher's scheduler package uses
// for its poll and stale-recovery loops.
type Pipeline struct {
	cfg     Config
	sources []config.Source
	bound   *handler.Bound
	limiter *ratelimit.Limiter
	dedup   dedup.Store
	outbox  *outbox.Outbox

	sourceCh chan fetchJob
	textCh   chan fetchedText
	postCh   chan parsedBatch

	errTracker metrics.ErrorTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pipeline. Sources is a snapshot of cfg.Sources taken once at
// construction, matching the immutable-after-boot lifecycle the
// configuration loader guarantees. errTracker may be nil, in which case
// unexpected errors are only logged, never forwarded anywhere else.
func New(cfg Config, sources []config.Source, bound *handler.Bound, limiter *ratelimit.Limiter, dedupStore dedup.Store, ob *outbox.Outbox, errTracker metrics.ErrorTracker) *Pipeline {
	if errTracker == nil {
		errTracker = metrics.NoopErrorTracker{}
	}
	return &Pipeline{
		cfg:        cfg,
		sources:    sources,
		bound:      bound,
		limiter:    limiter,
		dedup:      dedupStore,
		outbox:     ob,
		errTracker: errTracker,
		sourceCh:   make(chan fetchJob, cfg.ChannelBuffer),
		textCh:     make(chan fetchedText, cfg.ChannelBuffer),
		postCh:     make(chan parsedBatch, cfg.ChannelBuffer),
	}
}

// Start launches every goroutine: the enqueuer, the fetch pool, the parser,
// the materializer, the sender, and the dead-letter consumer. Start returns
// immediately; call Stop to shut down.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.enqueueLoop()

	for i := 0; i < p.cfg.FetchWorkers; i++ {
		p.wg.Add(1)
		go p.fetchWorker()
	}

	p.wg.Add(1)
	go p.parseLoop()

	p.wg.Add(1)
	go p.materializeLoop()

	p.wg.Add(1)
	go p.senderLoop(p.outbox.Get)

	p.wg.Add(1)
	go p.senderLoop(p.outbox.GetDeadLetter)

	slog.Info("pipeline started", "sources", len(p.sources), "fetch_workers", p.cfg.FetchWorkers)
}

// Stop cancels every goroutine and waits for them to exit.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	slog.Info("pipeline stopped")
}

func (p *Pipeline) enqueueLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.EnqueueInterval)
	defer ticker.Stop()

	p.enqueueAll()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.enqueueAll()
		}
	}
}

func (p *Pipeline) enqueueAll() {
	for _, src := range p.sources {
		select {
		case p.sourceCh <- fetchJob{source: src}:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) fetchWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.sourceCh:
			p.fetchOne(job.source)
		}
	}
}

func (p *Pipeline) fetchOne(src config.Source) {
	fetchURL := urlOf(src.FetcherOptions)
	if fetchURL != "" {
		release, err := p.limiter.Lease(p.ctx, fetchURL, src.MinSpacing)
		if err != nil {
			return
		}
		defer release()
	}

	inv, err := p.bound.Resolve(handler.KindFetcher, src.FetcherType, src.FetcherOptions)
	if err != nil {
		slog.Error("pipeline: resolving fetcher", "source_id", src.ID, "error", err)
		metrics.SourcesFetched.WithLabelValues(src.ID, "failed").Inc()
		return
	}

	fetchCtx, cancel := context.WithTimeout(p.ctx, fetchTimeout)
	result, err := inv.Call(fetchCtx, nil)
	cancel()
	if err != nil {
		slog.Warn("pipeline: fetch failed", "source_id", src.ID, "error", err)
		metrics.SourcesFetched.WithLabelValues(src.ID, "failed").Inc()
		return
	}
	text, _ := result.(string)
	if text == "" {
		metrics.SourcesFetched.WithLabelValues(src.ID, "empty").Inc()
		return
	}
	metrics.SourcesFetched.WithLabelValues(src.ID, "ok").Inc()

	select {
	case p.textCh <- fetchedText{text: text, source: src}:
	case <-p.ctx.Done():
	}
}

// urlOf extracts the URL a fetcher will call out to, if its options have
// the conventional "url" key, so the rate limiter can pace it by host.
// Fetchers that use a different option shape simply aren't paced.
func urlOf(fetcherOptions map[string]any) string {
	raw, ok := fetcherOptions["url"]
	if !ok {
		return ""
	}
	rawURL, _ := raw.(string)
	return rawURL
}

func (p *Pipeline) parseLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ft := <-p.textCh:
			p.parseOne(ft)
		}
	}
}

func (p *Pipeline) parseOne(ft fetchedText) {
	inv, err := p.bound.Resolve(handler.KindParser, ft.source.ParserType, ft.source.ParserOptions)
	if err != nil {
		slog.Error("pipeline: resolving parser", "source_id", ft.source.ID, "error", err)
		return
	}
	result, err := inv.Call(p.ctx, ft.text)
	if err != nil {
		slog.Error("pipeline: parse failed", "source_id", ft.source.ID, "parser_type", ft.source.ParserType, "error", err)
		p.errTracker.Capture(err, map[string]string{"source_id": ft.source.ID, "stage": "parse"})
		return
	}
	posts, _ := result.([]*post.Post)
	metrics.PostsParsed.WithLabelValues(ft.source.ID).Add(float64(len(posts)))

	for _, stream := range ft.source.Streams {
		streamPosts := post.ClonePosts(posts)
		for _, pst := range streamPosts {
			pst.SourceTags = ft.source.Tags
		}

		streamPosts, err := p.applyModifiers(stream, streamPosts)
		if err != nil {
			slog.Error("pipeline: modifier chain failed", "source_id", ft.source.ID, "error", err)
			p.errTracker.Capture(err, map[string]string{"source_id": ft.source.ID, "stage": "modifier"})
			continue
		}

		select {
		case p.postCh <- parsedBatch{posts: streamPosts, source: ft.source, stream: stream}:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) applyModifiers(stream config.Stream, posts []*post.Post) ([]*post.Post, error) {
	for _, mod := range stream.Modifiers {
		inv, err := p.bound.Resolve(handler.KindModifier, mod.Type, mod.Options)
		if err != nil {
			return nil, err
		}
		result, err := inv.Call(p.ctx, posts)
		if err != nil {
			return nil, err
		}
		posts, _ = result.([]*post.Post)
	}
	return posts, nil
}

func (p *Pipeline) materializeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case batch := <-p.postCh:
			p.materializeOne(batch)
		}
	}
}

func (p *Pipeline) materializeOne(batch parsedBatch) {
	key := dedup.Key{SourceID: batch.source.ID, ReceiverType: batch.stream.ReceiverType}

	hasAny, err := p.dedup.HasAny(p.ctx, key)
	if err != nil {
		slog.Error("pipeline: dedup HasAny", "source_id", batch.source.ID, "error", err)
		p.errTracker.Capture(err, map[string]string{"source_id": batch.source.ID, "stage": "dedup_store"})
		return
	}
	if !hasAny {
		ids := make([]string, len(batch.posts))
		for i, pst := range batch.posts {
			ids[i] = pst.PostID
		}
		if err := p.dedup.MarkProcessed(p.ctx, key, ids); err != nil {
			slog.Error("pipeline: dedup MarkProcessed (first run)", "source_id", batch.source.ID, "error", err)
			p.errTracker.Capture(err, map[string]string{"source_id": batch.source.ID, "stage": "dedup_store"})
		}
		return
	}

	var messages []message.Message
	var newIDs []string
	for i := len(batch.posts) - 1; i >= 0; i-- {
		pst := batch.posts[i]
		processed, err := p.dedup.IsProcessed(p.ctx, key, pst.PostID)
		if err != nil {
			slog.Error("pipeline: dedup IsProcessed", "source_id", batch.source.ID, "error", err)
			p.errTracker.Capture(err, map[string]string{"source_id": batch.source.ID, "stage": "dedup_store"})
			return
		}
		if processed {
			continue
		}
		messages = append(messages, message.Message{
			PostID:         pst.PostID,
			Template:       batch.stream.MessageTemplate,
			TemplateKwargs: pst.TemplateKwargs(),
		})
		newIDs = append(newIDs, pst.PostID)
	}

	if len(newIDs) > 0 {
		if err := p.dedup.MarkProcessed(p.ctx, key, newIDs); err != nil {
			slog.Error("pipeline: dedup MarkProcessed", "source_id", batch.source.ID, "error", err)
			p.errTracker.Capture(err, map[string]string{"source_id": batch.source.ID, "stage": "dedup_store"})
			return
		}
	}

	if len(messages) == 0 {
		return
	}

	metrics.MessagesPrepared.WithLabelValues(batch.source.ID, batch.stream.ReceiverType).Add(float64(len(messages)))

	if batch.stream.Squash {
		p.putItem(batch.source.ID, batch.stream, messages)
		return
	}
	for _, msg := range messages {
		p.putItem(batch.source.ID, batch.stream, []message.Message{msg})
	}
}

func (p *Pipeline) putItem(sourceID string, stream config.Stream, messages []message.Message) {
	item := outbox.Item{
		SourceID:        sourceID,
		ReceiverType:    stream.ReceiverType,
		ReceiverOptions: stream.ReceiverOptions,
		Messages:        messages,
	}
	if _, err := p.outbox.Put(p.ctx, item); err != nil {
		slog.Error("pipeline: outbox put", "source_id", sourceID, "error", err)
		p.errTracker.Capture(err, map[string]string{"source_id": sourceID, "stage": "outbox_store"})
	}
}

func (p *Pipeline) senderLoop(get func(context.Context) (*outbox.Item, error)) {
	defer p.wg.Done()
	for {
		item, err := get(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			slog.Error("pipeline: outbox get", "error", err)
			p.errTracker.Capture(err, map[string]string{"stage": "outbox_store"})
			continue
		}
		p.sendItem(item)
	}
}

func (p *Pipeline) sendItem(item *outbox.Item) {
	inv, err := p.bound.Resolve(handler.KindReceiver, item.ReceiverType, item.ReceiverOptions)
	if err != nil {
		slog.Error("pipeline: resolving receiver", "receiver_type", item.ReceiverType, "error", err)
		return
	}
	if _, err := inv.Call(p.ctx, item.Messages); err != nil {
		slog.Warn("pipeline: send failed, will dead-letter after delta", "receiver_type", item.ReceiverType, "error", err)
		return
	}
	if err := p.outbox.Commit(p.ctx, item.ID); err != nil {
		slog.Error("pipeline: outbox commit", "id", item.ID, "error", err)
		p.errTracker.Capture(err, map[string]string{"source_id": item.SourceID, "stage": "outbox_store"})
		return
	}
	metrics.MessagesSent.WithLabelValues(item.SourceID, item.ReceiverType).Add(float64(len(item.Messages)))
}
