package scraper

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
)

// SeoCrawler audits the pages of a company website.
type SeoCrawler struct {
	*actorRunner
	mapper *mapping.Mapper
}

type pageAudit struct {
	URL         string  `json:"url"`
	StatusCode  int     `json:"statusCode"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	H1          string  `json:"h1"`
	WordCount   int     `json:"wordCount"`
	LoadTimeMS  float64 `json:"loadTime"`
	IsHTTPS     *bool   `json:"isHttps"`
}

// SEOSummary is the aggregate stored on Company.SEOData.
type SEOSummary struct {
	Pages               int      `json:"pages"`
	BrokenPages         int      `json:"broken_pages"`
	MissingTitles       int      `json:"missing_titles"`
	MissingDescriptions int      `json:"missing_descriptions"`
	MissingH1           int      `json:"missing_h1"`
	InsecurePages       int      `json:"insecure_pages"`
	AvgLoadTimeMS       float64  `json:"avg_load_time_ms"`
	AvgWordCount        float64  `json:"avg_word_count"`
	BrokenURLs          []string `json:"broken_urls,omitempty"`
}

const maxBrokenURLs = 20

// Execute starts a crawl of the "website" param.
func (a *SeoCrawler) Execute(ctx context.Context, params Params) (*model.Run, error) {
	site := stringList(params["website"])
	if len(site) == 0 {
		return nil, a.rejected(errNoSite)
	}
	domain := mapping.NormalizeDomain(site[0])
	if domain == "" {
		return nil, a.rejected(eris.Errorf("website: malformed url %q", site[0]))
	}
	input := map[string]any{
		"startUrls": []map[string]string{{"url": "https://" + domain}},
		"maxPages":  intParam(params["max_pages"], 25),
	}
	return a.start(ctx, params, input)
}

// MapToLeads summarizes the page audits onto the target company, resolving it
// by the crawled domain when the target names none.
func (a *SeoCrawler) MapToLeads(ctx context.Context, items []Item, target Target, _ MapOptions) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	var (
		sum       SEOSummary
		loadTotal float64
		wordTotal int
		first     string
	)
	for i, it := range items {
		var p pageAudit
		if err := decodeItem(i, it, &p); err != nil {
			res.Errors++
			continue
		}
		if first == "" {
			first = p.URL
		}
		sum.Pages++
		if p.StatusCode >= 400 {
			sum.BrokenPages++
			if len(sum.BrokenURLs) < maxBrokenURLs {
				sum.BrokenURLs = append(sum.BrokenURLs, p.URL)
			}
		}
		if p.Title == "" {
			sum.MissingTitles++
		}
		if p.Description == "" {
			sum.MissingDescriptions++
		}
		if p.H1 == "" {
			sum.MissingH1++
		}
		if p.IsHTTPS != nil && !*p.IsHTTPS {
			sum.InsecurePages++
		}
		loadTotal += p.LoadTimeMS
		wordTotal += p.WordCount
	}
	if sum.Pages == 0 {
		// Nothing audited: the company keeps its previous audit, if any.
		res.Skipped++
		if target.CompanyID != "" {
			res.Touch(model.EntityCompany, target.CompanyID, false, 0)
		}
		return res, nil
	}
	sum.AvgLoadTimeMS = loadTotal / float64(sum.Pages)
	sum.AvgWordCount = float64(wordTotal) / float64(sum.Pages)

	companyID, err := a.companyFor(ctx, target, first)
	if err != nil {
		return res, err
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return res, eris.Wrap(err, "scraper: marshal seo summary")
	}
	if err := a.mapper.MarkSEOAnalyzed(ctx, companyID, data); err != nil {
		return res, err
	}
	res.Enriched++
	res.Touch(model.EntityCompany, companyID, true, sum.Pages)
	zap.L().Debug("scraper: seo audit stored",
		zap.String("company_id", companyID),
		zap.Int("pages", sum.Pages),
	)
	return res, nil
}

func (a *SeoCrawler) companyFor(ctx context.Context, target Target, pageURL string) (string, error) {
	if target.CompanyID != "" {
		return target.CompanyID, nil
	}
	co, _, err := a.mapper.ResolveCompany(ctx, mapping.CompanyCandidate{Website: pageURL})
	if err != nil {
		return "", err
	}
	if co == nil {
		return "", model.NewValidationError("company_id", "%s", errNoCompany)
	}
	return co.ID, nil
}
