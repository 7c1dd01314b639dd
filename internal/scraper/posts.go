package scraper

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// PostCrawler collects recent LinkedIn posts for company pages or person
// profiles. scope selects which post status it maintains.
type PostCrawler struct {
	*actorRunner
	mapper *mapping.Mapper
	scope  model.EntityType
}

type postItem struct {
	URL       string          `json:"url"`
	PostURL   string          `json:"postUrl"`
	Text      string          `json:"text"`
	Content   string          `json:"content"`
	PostedAt  string          `json:"postedAt"`
	Timestamp int64           `json:"postedAtTimestamp"`
	AuthorURL string          `json:"authorUrl"`
	Author    json.RawMessage `json:"author"`
	InputURL  string          `json:"inputUrl"`
	Query     string          `json:"query"`
}

func (p postItem) author() string {
	if p.AuthorURL != "" {
		return p.AuthorURL
	}
	var a struct {
		LinkedInURL string `json:"linkedinUrl"`
		URL         string `json:"url"`
	}
	if len(p.Author) > 0 && json.Unmarshal(p.Author, &a) == nil {
		return firstNonEmpty(a.LinkedInURL, a.URL)
	}
	return ""
}

func (p postItem) postedAt() *time.Time {
	if p.Timestamp > 0 {
		t := time.UnixMilli(p.Timestamp).UTC()
		return &t
	}
	if p.PostedAt == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, p.PostedAt); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Execute starts a post crawl for the "urls" param.
func (a *PostCrawler) Execute(ctx context.Context, params Params) (*model.Run, error) {
	urls, err := a.linkedInURLs(params, "urls")
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"urls":     urls,
		"maxPosts": intParam(params["max_posts"], 10),
	}
	return a.start(ctx, params, input)
}

// MapToLeads stores the crawled posts and sets the post status of every
// entity behind each crawled URL. URLs come from opts.URLIndex, falling back
// to opts.CompanyLinkedInURL or the profile of opts.LeadID.
func (a *PostCrawler) MapToLeads(ctx context.Context, items []Item, target Target, opts MapOptions) (*model.MappingResult, error) {
	res := &model.MappingResult{}

	index, err := a.urlIndex(ctx, target, opts)
	if err != nil {
		return res, err
	}
	urls := make([]string, 0, len(index))
	for u := range index {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	byURL := make(map[string][]postItem, len(urls))
	var orphans []postItem
	for i, it := range items {
		var pi postItem
		if err := decodeItem(i, it, &pi); err != nil {
			res.Errors++
			zap.L().Warn("scraper: skip malformed post", zap.String("scraper", a.info.ID), zap.Error(err))
			continue
		}
		owner := a.owner(pi, index, urls)
		if owner == "" {
			orphans = append(orphans, pi)
			continue
		}
		byURL[owner] = append(byURL[owner], pi)
	}

	if len(orphans) > 0 {
		saved, err := a.mapper.SavePosts(ctx, toPosts(orphans, "", ""))
		res.Add(saved)
		if err != nil {
			return res, err
		}
	}

	for _, u := range urls {
		found := len(byURL[u]) > 0
		var sub *model.MappingResult
		if a.scope == model.EntityCompany {
			sub, err = a.mapCompany(ctx, u, byURL[u], target, opts.ForceEnrichment)
		} else {
			sub, err = a.mapPerson(ctx, index[u], byURL[u], opts.ForceEnrichment)
		}
		res.Add(sub)
		if err != nil {
			return res, eris.Wrapf(err, "scraper: map posts for %s", u)
		}
		zap.L().Debug("scraper: posts mapped",
			zap.String("scraper", a.info.ID),
			zap.String("url", u),
			zap.Bool("found", found),
		)
	}
	return res, nil
}

func (a *PostCrawler) mapCompany(ctx context.Context, url string, posts []postItem, target Target, force bool) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	co, err := a.mapper.Store().FindCompany(ctx, store.CompanyMatch{LinkedInURL: url})
	if err != nil {
		return res, err
	}
	companyID := ""
	if co != nil {
		companyID = co.ID
	}

	saved, err := a.mapper.SavePosts(ctx, toPosts(posts, "", companyID))
	res.Add(saved)
	if err != nil {
		return res, err
	}
	fan, err := a.mapper.SetCompanyPostStatusFanOut(ctx, target.UserID, url, len(posts) > 0, force)
	res.Add(fan)
	if err != nil {
		return res, err
	}
	res.Touch(model.EntityCompany, companyID, len(posts) > 0, len(posts))
	return res, nil
}

func (a *PostCrawler) mapPerson(ctx context.Context, leadIDs []string, posts []postItem, force bool) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	owner := ""
	if len(leadIDs) > 0 {
		owner = leadIDs[0]
	}
	saved, err := a.mapper.SavePosts(ctx, toPosts(posts, owner, ""))
	res.Add(saved)
	if err != nil {
		return res, err
	}
	for _, id := range leadIDs {
		sub, err := a.mapper.SetLeadPostStatus(ctx, id, len(posts) > 0, force)
		res.Add(sub)
		if err != nil {
			res.Errors++
			zap.L().Warn("scraper: set person post status", zap.String("lead_id", id), zap.Error(err))
			continue
		}
		res.Touch(model.EntityLead, id, len(posts) > 0, len(posts))
	}
	return res, nil
}

// urlIndex returns normalized URL → lead ids for the crawl.
func (a *PostCrawler) urlIndex(ctx context.Context, target Target, opts MapOptions) (map[string][]string, error) {
	index := make(map[string][]string, len(opts.URLIndex)+1)
	for u, ids := range opts.URLIndex {
		if n := mapping.NormalizeLinkedInURL(u); n != "" {
			index[n] = append(index[n], ids...)
		}
	}
	if len(index) > 0 {
		return index, nil
	}

	if a.scope == model.EntityCompany {
		if n := mapping.NormalizeLinkedInURL(opts.CompanyLinkedInURL); n != "" {
			index[n] = nil
		}
		return index, nil
	}

	leadID := firstNonEmpty(opts.LeadID, target.LeadID)
	if leadID == "" {
		return index, nil
	}
	lead, err := a.mapper.Store().GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: load lead for post crawl")
	}
	if lead == nil {
		return nil, model.NewValidationError("lead_id", "lead %s not found", leadID)
	}
	if n := mapping.NormalizeLinkedInURL(lead.LinkedInURL); n != "" {
		index[n] = []string{lead.ID}
	}
	return index, nil
}

// owner attributes a post to one crawled URL: by the input URL the provider
// echoes back, then by author, then to the only URL of a single-URL crawl.
func (a *PostCrawler) owner(p postItem, index map[string][]string, urls []string) string {
	for _, cand := range []string{p.InputURL, p.Query, p.author()} {
		if n := mapping.NormalizeLinkedInURL(cand); n != "" {
			if _, ok := index[n]; ok {
				return n
			}
		}
	}
	if len(urls) == 1 {
		return urls[0]
	}
	return ""
}

func toPosts(items []postItem, leadID, companyID string) []model.Post {
	out := make([]model.Post, 0, len(items))
	for _, p := range items {
		out = append(out, model.Post{
			URL:       firstNonEmpty(p.URL, p.PostURL),
			AuthorURL: mapping.NormalizeLinkedInURL(p.author()),
			Text:      firstNonEmpty(p.Text, p.Content),
			PostedAt:  p.postedAt(),
			LeadID:    leadID,
			CompanyID: companyID,
		})
	}
	return out
}
