package orchestrate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/scraper"
)

// scope is the set of leads and companies a request targets.
type scope struct {
	leads     []model.Lead
	companies []*model.Company
	byID      map[string]*model.Company
}

func (sc *scope) company(id string) *model.Company {
	if sc.byID == nil {
		return nil
	}
	return sc.byID[id]
}

func (sc *scope) addCompany(c *model.Company) {
	if c == nil || sc.byID[c.ID] != nil {
		return
	}
	if sc.byID == nil {
		sc.byID = make(map[string]*model.Company)
	}
	sc.byID[c.ID] = c
	sc.companies = append(sc.companies, c)
}

// loadScope reads the target entities. Leads of other users are ignored.
func (s *Service) loadScope(ctx context.Context, req Request) (*scope, error) {
	sc := &scope{}
	switch {
	case req.LeadID != "":
		l, err := s.store.GetLead(ctx, req.LeadID)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrate: load lead")
		}
		if l == nil || l.UserID != req.UserID {
			return nil, model.NewValidationError("lead_id", "lead %s not found", req.LeadID)
		}
		sc.leads = []model.Lead{*l}

	case req.CompanyID != "":
		c, err := s.store.GetCompany(ctx, req.CompanyID)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrate: load company")
		}
		if c == nil {
			return nil, model.NewValidationError("company_id", "company %s not found", req.CompanyID)
		}
		sc.addCompany(c)
		if c.LinkedInURL != "" {
			leads, err := s.store.ListLeadsByCompanyLinkedIn(ctx, req.UserID, c.LinkedInURL)
			if err != nil {
				return nil, eris.Wrap(err, "orchestrate: list company leads")
			}
			sc.leads = leads
		}
		return sc, nil

	default:
		leads, err := s.store.ListCollectionLeads(ctx, req.CollectionID)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrate: list collection leads")
		}
		for _, l := range leads {
			if l.UserID == req.UserID {
				sc.leads = append(sc.leads, l)
			}
		}
	}

	for _, l := range sc.leads {
		if l.CompanyID == "" || sc.company(l.CompanyID) != nil {
			continue
		}
		c, err := s.store.GetCompany(ctx, l.CompanyID)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrate: load lead company")
		}
		sc.addCompany(c)
	}
	return sc, nil
}

// plan splits req into runs: one per distinct target URL or domain, and for
// bulk scrapers one per batch.
func (s *Service) plan(ctx context.Context, info scraper.Info, req Request) ([]job, error) {
	sc, err := s.loadScope(ctx, req)
	if err != nil {
		return nil, err
	}
	base := scraper.Target{UserID: req.UserID, CollectionID: req.CollectionID, CompanyID: req.CompanyID, LeadID: req.LeadID, Source: req.Source()}

	var jobs []job
	switch info.MapperType {
	case scraper.MapperContactFinder:
		jobs = s.planCompanyURLs(req, sc, base, "company_linkedin_urls", false)
	case scraper.MapperCompanyPosts:
		jobs = s.planCompanyURLs(req, sc, base, "urls", true)
	case scraper.MapperPersonPosts:
		jobs = s.planPersonPosts(req, sc, base)
	case scraper.MapperEmailFinder:
		jobs = s.planEmailFinder(info, req, sc, base)
	case scraper.MapperEmailValidator:
		jobs = s.planEmailValidator(info, req, sc, base)
	case scraper.MapperSEOCrawler:
		jobs = s.planSEO(req, sc, base)
	case scraper.MapperReviewCrawler:
		jobs = s.planReviews(req, sc, base)
	default:
		return nil, eris.Errorf("orchestrate: no planner for mapper type %q", info.MapperType)
	}
	if len(jobs) == 0 {
		return nil, model.NewValidationError("target", "nothing for %s to enrich", info.ID)
	}
	return jobs, nil
}

// planCompanyURLs makes one job per distinct company LinkedIn URL, taken from
// params[key] or else from the companies in scope. Post crawls also get a
// URL index so results are attributed per input URL.
func (s *Service) planCompanyURLs(req Request, sc *scope, base scraper.Target, key string, indexed bool) []job {
	byURL := make(map[string]*model.Company)
	for _, c := range sc.companies {
		if u := mapping.NormalizeLinkedInURL(c.LinkedInURL); u != "" {
			byURL[u] = c
		}
	}
	urls := explicitURLs(req.Params, key)
	if len(urls) == 0 {
		for u := range byURL {
			urls = append(urls, u)
		}
		sort.Strings(urls)
	}

	jobs := make([]job, 0, len(urls))
	for _, u := range urls {
		t := base
		j := job{
			params: withParam(req.Params, key, []string{u}),
			opts:   scraper.MapOptions{CompanyLinkedInURL: u, ForceEnrichment: req.ForceEnrichment},
		}
		if c := byURL[u]; c != nil {
			t.CompanyID = c.ID
			j.entities = append(j.entities, model.EntityRef{Type: model.EntityCompany, ID: c.ID})
		}
		if indexed {
			j.opts.URLIndex = map[string][]string{u: nil}
		}
		j.target = t
		jobs = append(jobs, j)
	}
	return jobs
}

func (s *Service) planPersonPosts(req Request, sc *scope, base scraper.Target) []job {
	index := make(map[string][]string)
	for _, l := range sc.leads {
		if u := mapping.NormalizeLinkedInURL(l.LinkedInURL); u != "" {
			index[u] = append(index[u], l.ID)
		}
	}
	urls := explicitURLs(req.Params, "urls")
	if len(urls) == 0 {
		for u := range index {
			urls = append(urls, u)
		}
		sort.Strings(urls)
	}

	jobs := make([]job, 0, len(urls))
	for _, u := range urls {
		j := job{
			params: withParam(req.Params, "urls", []string{u}),
			target: base,
			opts: scraper.MapOptions{
				URLIndex:        map[string][]string{u: index[u]},
				ForceEnrichment: req.ForceEnrichment,
			},
		}
		for _, id := range index[u] {
			j.entities = append(j.entities, model.EntityRef{Type: model.EntityLead, ID: id})
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// planEmailFinder passes caller-supplied people through as one bulk job;
// otherwise it looks up leads without an email, batched.
func (s *Service) planEmailFinder(info scraper.Info, req Request, sc *scope, base scraper.Target) []job {
	if req.Params["leads"] != nil || req.Params["domain"] != nil {
		return []job{{params: req.Params, target: base}}
	}

	type person struct {
		lead   model.Lead
		params map[string]any
	}
	var people []person
	for _, l := range sc.leads {
		if l.Email != "" {
			continue
		}
		domain := ""
		if c := sc.company(l.CompanyID); c != nil {
			domain = c.Domain
		}
		// Collection results are matched back by profile URL only.
		if l.LinkedInURL == "" && (req.LeadID == "" || domain == "") {
			continue
		}
		people = append(people, person{lead: l, params: map[string]any{
			"first_name":   l.FirstName,
			"last_name":    l.LastName,
			"domain":       domain,
			"linkedin_url": l.LinkedInURL,
		}})
	}

	size := s.batchSize(info, len(people))
	var jobs []job
	for start := 0; start < len(people); start += size {
		chunk := people[start:min(start+size, len(people))]
		list := make([]any, 0, len(chunk))
		j := job{target: base, opts: scraper.MapOptions{LeadID: req.LeadID, URLIndex: map[string][]string{}}}
		for _, p := range chunk {
			list = append(list, p.params)
			if u := mapping.NormalizeLinkedInURL(p.lead.LinkedInURL); u != "" {
				j.opts.URLIndex[u] = append(j.opts.URLIndex[u], p.lead.ID)
			}
			j.entities = append(j.entities, model.EntityRef{Type: model.EntityLead, ID: p.lead.ID})
		}
		j.params = withParam(req.Params, "leads", list)
		jobs = append(jobs, j)
	}
	return jobs
}

// planEmailValidator batches the distinct emails of the leads in scope, or
// the caller's "emails" param.
func (s *Service) planEmailValidator(info scraper.Info, req Request, sc *scope, base scraper.Target) []job {
	index := make(map[string][]string)
	for _, l := range sc.leads {
		if e := mapping.NormalizeEmail(l.Email); e != "" {
			index[e] = append(index[e], l.ID)
		}
	}
	var emails []string
	if explicit := explicitEmails(req.Params); len(explicit) > 0 {
		emails = explicit
	} else {
		for e := range index {
			emails = append(emails, e)
		}
		sort.Strings(emails)
	}

	size := s.batchSize(info, len(emails))
	var jobs []job
	for start := 0; start < len(emails); start += size {
		chunk := emails[start:min(start+size, len(emails))]
		j := job{
			params: withParam(req.Params, "emails", chunk),
			target: base,
			opts:   scraper.MapOptions{EmailIndex: make(map[string][]string, len(chunk))},
		}
		for _, e := range chunk {
			j.opts.EmailIndex[e] = index[e]
			for _, id := range index[e] {
				j.entities = append(j.entities, model.EntityRef{Type: model.EntityLead, ID: id})
			}
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// planSEO makes one job per distinct company domain.
func (s *Service) planSEO(req Request, sc *scope, base scraper.Target) []job {
	if req.CompanyID != "" && req.Params["website"] != nil {
		return []job{{
			params:   req.Params,
			target:   base,
			entities: []model.EntityRef{{Type: model.EntityCompany, ID: req.CompanyID}},
		}}
	}
	seen := make(map[string]bool)
	var jobs []job
	for _, c := range sc.companies {
		domain := mapping.NormalizeDomain(c.Domain)
		if domain == "" {
			domain = mapping.NormalizeDomain(c.Website)
		}
		if domain == "" || seen[domain] {
			continue
		}
		seen[domain] = true
		t := base
		t.CompanyID = c.ID
		jobs = append(jobs, job{
			params:   withParam(req.Params, "website", domain),
			target:   t,
			entities: []model.EntityRef{{Type: model.EntityCompany, ID: c.ID}},
		})
	}
	return jobs
}

// planReviews needs a single company and the caller's listing URL.
func (s *Service) planReviews(req Request, sc *scope, base scraper.Target) []job {
	if req.CollectionID != "" || len(sc.companies) != 1 {
		return nil
	}
	t := base
	t.CompanyID = sc.companies[0].ID
	return []job{{
		params:   req.Params,
		target:   t,
		entities: []model.EntityRef{{Type: model.EntityCompany, ID: t.CompanyID}},
	}}
}

func (s *Service) batchSize(info scraper.Info, n int) int {
	size := info.MaxBatchSize
	if s.maxBatch > 0 && (size == 0 || s.maxBatch < size) {
		size = s.maxBatch
	}
	if size <= 0 {
		size = max(n, 1)
	}
	return size
}

func explicitURLs(p scraper.Params, key string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range paramStrings(p[key]) {
		u := mapping.NormalizeLinkedInURL(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func explicitEmails(p scraper.Params) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range paramStrings(p["emails"]) {
		e := mapping.NormalizeEmail(raw)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func paramStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// withParam returns a copy of p with key set to v.
func withParam(p scraper.Params, key string, v any) scraper.Params {
	out := make(scraper.Params, len(p)+1)
	for k, x := range p {
		out[k] = x
	}
	out[key] = v
	return out
}
