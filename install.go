package bookcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DefaultManifest lists the shell assets of the catalogue.
var DefaultManifest = []string{
	"/",
	"./scripts/searchresults.js",
	"./styles/main.css",
	"./views/add.html",
	"./views/book.html",
	"./views/index.html",
	"./views/fallback.html",
	"./img/bibliography_512x512.png",
	"./img/bibliography_favicon.ico",
	"https://fonts.googleapis.com/css2?family=Material+Symbols+Outlined:opsz,wght,FILL,GRAD@24,400,0,0",
	"https://fonts.googleapis.com/css2?family=Roboto",
	"https://fonts.googleapis.com/css2?family=Merriweather",
	"https://fonts.googleapis.com/css2?family=Caveat",
	"https://fonts.googleapis.com/css2?family=Chakra+Petch",
}

type AssetResult struct {
	URL string
	Err error
}

// InstallReport is the outcome of populating the static partition.
type InstallReport struct {
	Assets []AssetResult
}

// Failed returns the assets that could not be stored.
func (r InstallReport) Failed() []AssetResult {
	var failed []AssetResult
	for _, a := range r.Assets {
		if a.Err != nil {
			failed = append(failed, a)
		}
	}
	return failed
}

// OnInstall fetches every manifest asset into the static partition.
// Failing assets are logged and reported; the others are still installed.
func (w *Worker) OnInstall(ctx context.Context) InstallReport {
	w.log.Info().Str("partition", w.static).Msgf("Installing %d assets", len(w.manifest))
	report := InstallReport{}
	for _, ref := range w.manifest {
		err := w.installAsset(ctx, ref)
		if err != nil {
			w.log.Warn().Err(err).Str("asset", ref).Msg("Could not install asset")
		}
		w.metrics.InstalledAssets.WithLabelValues(resultLabel(err)).Inc()
		report.Assets = append(report.Assets, AssetResult{URL: ref, Err: err})
	}
	w.log.Info().
		Int("installed", len(report.Assets)-len(report.Failed())).
		Int("failed", len(report.Failed())).
		Msg("Install finished")
	return report
}

func (w *Worker) installAsset(ctx context.Context, ref string) error {
	req, key, err := w.newRequest(ctx, http.MethodGet, ref)
	if err != nil {
		return err
	}
	res, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if !is2xx(res.StatusCode) {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return w.put(w.static, key, res)
}

// OnActivate deletes every partition other than the current static and
// dynamic ones. It returns the deleted partitions; deletion failures are
// logged and joined into the error while the remaining deletions still run.
func (w *Worker) OnActivate(ctx context.Context) ([]string, error) {
	partitions, err := w.store.Partitions()
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list partitions")
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, partition := range partitions {
		if partition == w.static || partition == w.dynamic {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := w.store.Delete(partition); err != nil {
			w.log.Error().Err(err).Str("partition", partition).Msg("Could not delete stale partition")
			errs = append(errs, fmt.Errorf("delete %s: %w", partition, err))
			continue
		}
		w.log.Info().Str("partition", partition).Msg("Deleted stale partition")
		deleted = append(deleted, partition)
	}
	return deleted, errors.Join(errs...)
}
