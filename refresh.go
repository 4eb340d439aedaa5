package bookcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cacheupdate "github.com/always-cache/bookcache/pkg/cache-update"
)

// SyncTag is the background signal that refreshes the catalogue.
const SyncTag = "update-catalogue-cache"

// ErrUnknownSignal is returned for background signals the worker does not handle.
var ErrUnknownSignal = errors.New("unknown background signal")

type PageResult struct {
	Offset int
	URL    string
	Err    error
}

// RefreshReport is the outcome of one catalogue walk.
type RefreshReport struct {
	// Whether the mutation that triggered the walk succeeded.
	Succeeded bool
	Total     int
	Pages     []PageResult
}

// Failed returns the pages that could not be refreshed.
func (r RefreshReport) Failed() []PageResult {
	var failed []PageResult
	for _, p := range r.Pages {
		if p.Err != nil {
			failed = append(failed, p)
		}
	}
	return failed
}

type refreshJob struct {
	succeeded bool
	updates   []cacheupdate.CacheUpdate
}

// PageOffsets returns the offsets of all catalogue pages for total books,
// i.e. 0, size, 2*size up to floor(total/size)*size, each exactly once.
func PageOffsets(total, size int) []int {
	if size <= 0 {
		size = DefaultPageSize
	}
	offsets := []int{0}
	fullPages := total / size
	for page := 1; page <= fullPages; page++ {
		offsets = append(offsets, page*size)
	}
	// a trailing partial page starts at fullPages*size, which is already listed
	return offsets
}

// Refresh refetches the book count and every catalogue page into the
// dynamic partition. Pages fail independently; failures are logged and
// reported while the walk continues. Only a failing count aborts the walk,
// since no pages can be computed without it.
func (w *Worker) Refresh(ctx context.Context, succeeded bool) (RefreshReport, error) {
	start := time.Now()
	report := RefreshReport{Succeeded: succeeded}
	w.log.Debug().Bool("succeeded", succeeded).Msg("Refreshing catalogue cache")

	total, err := w.refreshCount(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not refresh book count")
		w.metrics.Refreshes.WithLabelValues(resultFailed).Inc()
		return report, err
	}
	report.Total = total

	for _, offset := range PageOffsets(total, w.pageSize) {
		if err := ctx.Err(); err != nil {
			w.metrics.Refreshes.WithLabelValues(resultFailed).Inc()
			return report, err
		}
		pageURL := fmt.Sprintf(w.pageURL, offset)
		err := w.refreshEntry(ctx, pageURL)
		if err != nil {
			w.log.Warn().Err(err).Int("offset", offset).Msg("Could not refresh page")
		} else {
			w.log.Trace().Int("offset", offset).Msg("Refreshed page")
		}
		w.metrics.RefreshedEntries.WithLabelValues(resultLabel(err)).Inc()
		report.Pages = append(report.Pages, PageResult{Offset: offset, URL: pageURL, Err: err})
	}

	w.metrics.Refreshes.WithLabelValues(resultOK).Inc()
	w.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	w.log.Debug().
		Int("total", total).
		Int("pages", len(report.Pages)).
		Int("failed", len(report.Failed())).
		Msg("Catalogue cache refreshed")
	return report, nil
}

// refreshCount fetches, parses and stores the book count.
func (w *Worker) refreshCount(ctx context.Context) (int, error) {
	req, key, err := w.newRequest(ctx, http.MethodGet, w.countURL)
	if err != nil {
		return 0, err
	}
	res, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("fetch count: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch count: status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	total, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || total < 0 {
		return 0, fmt.Errorf("invalid count %q", body)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	if err := w.put(w.dynamic, key, res); err != nil {
		return 0, fmt.Errorf("store count: %w", err)
	}
	return total, nil
}

// refreshEntry fetches ref and stores it if the origin answered 200.
func (w *Worker) refreshEntry(ctx context.Context, ref string) error {
	req, key, err := w.newRequest(ctx, http.MethodGet, ref)
	if err != nil {
		return err
	}
	res, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return w.put(w.dynamic, key, res)
}

// applyUpdate refreshes a Cache-Update target.
// If the target cannot be refreshed, it is purged.
func (w *Worker) applyUpdate(ctx context.Context, update cacheupdate.CacheUpdate) {
	w.log.Trace().Str("update", update.Path).Msg("Updating cache based on header")
	err := w.refreshEntry(ctx, update.Path)
	w.metrics.RefreshedEntries.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		return
	}
	w.log.Debug().Err(err).Str("update", update.Path).Msg("Purging update target")
	key, kerr := w.keyer.KeyFor(http.MethodGet, update.Path)
	if kerr != nil {
		w.log.Error().Err(kerr).Str("update", update.Path).Msg("Could not create key for update")
		return
	}
	if err := w.store.Remove(w.dynamic, key); err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not purge update target")
	}
}

// run executes a scheduled job: the walk first, then the update targets.
func (w *Worker) run(ctx context.Context, job refreshJob) {
	// the report is logged by Refresh, errors never reach the mutating caller
	_, _ = w.Refresh(ctx, job.succeeded)
	for _, update := range job.updates {
		if update.Delay <= 0 {
			w.applyUpdate(ctx, update)
			continue
		}
		w.pending.Add(1)
		go func(update cacheupdate.CacheUpdate) {
			defer w.pending.Done()
			timer := time.NewTimer(update.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
				w.applyUpdate(ctx, update)
			case <-ctx.Done():
			}
		}(update)
	}
}

// scheduleRefresh runs the job in the background.
// While the background loop runs, jobs are queued to it and coalesced;
// otherwise each job runs right away in its own goroutine.
func (w *Worker) scheduleRefresh(job refreshJob) {
	w.mu.Lock()
	if w.loopDone != nil {
		if w.next == nil {
			w.next = &job
			w.pending.Add(1)
		} else {
			w.next.succeeded = w.next.succeeded || job.succeeded
			w.next.updates = append(w.next.updates, job.updates...)
		}
		w.mu.Unlock()
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return
	}
	w.pending.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.pending.Done()
		w.run(w.ctx, job)
	}()
}

// OnBackgroundSignal handles an out-of-band signal.
// SyncTag refreshes the catalogue right away.
func (w *Worker) OnBackgroundSignal(ctx context.Context, tag string) (RefreshReport, error) {
	if tag != SyncTag {
		w.log.Warn().Str("tag", tag).Msg("Ignoring unknown background signal")
		return RefreshReport{}, fmt.Errorf("%w: %s", ErrUnknownSignal, tag)
	}
	return w.Refresh(ctx, true)
}

// Start runs the background loop until ctx is done or Stop is called.
// The loop runs queued refreshes one at a time and, if configured,
// periodic refreshes.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.loopDone != nil {
		w.mu.Unlock()
		return
	}
	done := make(chan struct{})
	w.loopDone = done
	w.mu.Unlock()

	w.log.Info().Dur("interval", w.refreshInterval).Msg("Starting cache refresh loop")
	go w.loop(ctx, done)
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	var tick <-chan time.Time
	if w.refreshInterval > 0 {
		ticker := time.NewTicker(w.refreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-w.wake:
			w.mu.Lock()
			job := w.next
			w.next = nil
			w.mu.Unlock()
			if job != nil {
				w.run(w.ctx, *job)
				w.pending.Done()
			}
		case <-tick:
			w.log.Trace().Msg("Periodic refresh")
			w.run(w.ctx, refreshJob{succeeded: true})
		case <-ctx.Done():
			w.stopLoop()
			return
		case <-w.ctx.Done():
			w.stopLoop()
			return
		}
	}
}

// stopLoop drops a queued job and hands scheduling back to goroutines.
func (w *Worker) stopLoop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.next != nil {
		w.next = nil
		w.pending.Done()
	}
	w.loopDone = nil
	w.log.Info().Msg("Stopped cache refresh loop")
}

// Wait blocks until all scheduled refreshes and delayed updates are done.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// Stop cancels background work and waits for it to finish.
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	done := w.loopDone
	w.mu.Unlock()
	if done != nil {
		<-done
	}
	w.pending.Wait()
}
