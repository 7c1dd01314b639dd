package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/resilience"
	"github.com/sells-group/leadscrape/pkg/apify"
)

// actorRunner is the submit/poll/fetch half shared by every adapter. Each
// variant supplies its own input translation and mapping.
type actorRunner struct {
	info   Info
	client apify.Client
}

func (r *actorRunner) Info() Info { return r.info }

// checkParams rejects params missing a required key before any network call.
func (r *actorRunner) checkParams(params Params) error {
	var missing []string
	for _, k := range r.info.RequiredParams {
		if isBlank(params[k]) {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return r.rejected(eris.Errorf("missing required params: %s", strings.Join(missing, ", ")))
}

// linkedInURLs reads a URL list param and rejects entries that are not
// LinkedIn URLs.
func (r *actorRunner) linkedInURLs(params Params, key string) ([]string, error) {
	urls := stringList(params[key])
	for _, u := range urls {
		if !strings.HasPrefix(mapping.NormalizeLinkedInURL(u), "https://linkedin.com/") {
			return nil, r.rejected(eris.Errorf("%s: not a linkedin url: %q", key, u))
		}
	}
	return urls, nil
}

func (r *actorRunner) rejected(err error) error {
	return &model.ProviderError{ScraperID: r.info.ID, Kind: model.ProviderRejected, Err: err}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// start submits input to the actor and returns the initial run record.
func (r *actorRunner) start(ctx context.Context, params Params, input any) (*model.Run, error) {
	if err := r.checkParams(params); err != nil {
		return nil, err
	}
	info, err := r.client.StartRun(ctx, r.info.ActorID, input, apify.RunOptions{MemoryMB: r.info.MemoryMB})
	if err != nil {
		return nil, r.providerError("", err)
	}
	zap.L().Info("scraper: run started",
		zap.String("scraper", r.info.ID),
		zap.String("run_id", info.ID),
		zap.String("status", info.Status),
	)
	started := info.StartedAt.UTC()
	return &model.Run{
		ID:        info.ID,
		ScraperID: r.info.ID,
		Status:    toRunStatus(info.Status),
		StartedAt: started,
	}, nil
}

// GetStatus reads the provider state of runID.
func (r *actorRunner) GetStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	info, err := r.client.GetRun(ctx, runID)
	if err != nil {
		return "", r.providerError(runID, err)
	}
	return toRunStatus(info.Status), nil
}

// GetResults reads every item from the run's default dataset.
func (r *actorRunner) GetResults(ctx context.Context, runID string) ([]Item, error) {
	info, err := r.client.GetRun(ctx, runID)
	if err != nil {
		return nil, r.providerError(runID, err)
	}
	if info.DefaultDatasetID == "" {
		return []Item{}, nil
	}
	raw, err := r.client.GetDatasetItems(ctx, info.DefaultDatasetID)
	if err != nil {
		return nil, r.providerError(runID, err)
	}
	items := make([]Item, 0, len(raw))
	for _, it := range raw {
		items = append(items, Item(it))
	}
	return items, nil
}

// RunCost reports the provider-billed cost of runID and its usage breakdown.
func (r *actorRunner) RunCost(ctx context.Context, runID string) (float64, json.RawMessage, error) {
	info, err := r.client.GetRun(ctx, runID)
	if err != nil {
		return 0, nil, r.providerError(runID, err)
	}
	details, err := json.Marshal(info.Usage)
	if err != nil {
		return 0, nil, eris.Wrap(err, "scraper: marshal usage details")
	}
	return info.UsageTotalUSD, details, nil
}

// providerError classifies a client failure. HTTP 429 becomes a
// RateLimitError, other 4xx a rejection, everything else unreachable.
// Transport failures carry a TransientError.
func (r *actorRunner) providerError(runID string, err error) error {
	var apiErr *apify.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &model.RateLimitError{ScraperID: r.info.ID, RetryAfter: apiErr.RetryAfter, Err: err}
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return &model.ProviderError{
				ScraperID:  r.info.ID,
				RunID:      runID,
				Kind:       model.ProviderRejected,
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		default:
			return &model.ProviderError{
				ScraperID:  r.info.ID,
				RunID:      runID,
				Kind:       model.ProviderUnreachable,
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		}
	}
	return &model.ProviderError{
		ScraperID: r.info.ID,
		RunID:     runID,
		Kind:      model.ProviderUnreachable,
		Err:       resilience.NewTransientError(err, 0),
	}
}

func toRunStatus(s string) model.RunStatus {
	return model.RunStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// decodeItem unmarshals one item, wrapping failures as a MappingError.
func decodeItem(i int, it Item, v any) error {
	if err := json.Unmarshal(it, v); err != nil {
		return &model.MappingError{Index: i, Err: eris.Wrap(err, "decode item")}
	}
	return nil
}

// stringList reads a string or list-of-strings param.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// intParam reads a numeric param, falling back to def.
func intParam(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
