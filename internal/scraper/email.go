package scraper

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
)

// EmailFinder looks up work emails from a person's name and company domain.
type EmailFinder struct {
	*actorRunner
	mapper *mapping.Mapper
}

type finderItem struct {
	Email       string          `json:"email"`
	Certainty   json.RawMessage `json:"certainty"`
	Confidence  json.RawMessage `json:"confidence"`
	FirstName   string          `json:"firstName"`
	LastName    string          `json:"lastName"`
	FullName    string          `json:"fullName"`
	Position    string          `json:"position"`
	Domain      string          `json:"domain"`
	CompanyName string          `json:"companyName"`
	LinkedInURL string          `json:"linkedinUrl"`
}

func (f finderItem) certainty() string {
	for _, raw := range []json.RawMessage{f.Certainty, f.Confidence} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		return strings.Trim(string(raw), `"`)
	}
	return ""
}

// Execute starts a lookup. Params carry either "leads", a list of
// {first_name, last_name, domain, linkedin_url} objects, or the same keys at
// the top level for a single person.
func (a *EmailFinder) Execute(ctx context.Context, params Params) (*model.Run, error) {
	var people []map[string]string
	if list, ok := params["leads"].([]any); ok {
		for _, x := range list {
			if m, ok := x.(map[string]any); ok {
				people = append(people, finderPerson(m))
			}
		}
	} else if list, ok := params["leads"].([]map[string]any); ok {
		for _, m := range list {
			people = append(people, finderPerson(m))
		}
	} else if params["domain"] != nil {
		people = append(people, finderPerson(params))
	}
	if len(people) == 0 {
		return nil, a.rejected(errNoPeople)
	}
	for _, p := range people {
		if p["domain"] == "" && p["linkedinUrl"] == "" {
			return nil, a.rejected(errNoPeople)
		}
	}
	return a.start(ctx, params, map[string]any{"leads": people})
}

func finderPerson(m map[string]any) map[string]string {
	str := func(k string) string {
		s, _ := m[k].(string)
		return strings.TrimSpace(s)
	}
	return map[string]string{
		"firstName":   str("first_name"),
		"lastName":    str("last_name"),
		"domain":      mapping.NormalizeDomain(str("domain")),
		"linkedinUrl": mapping.NormalizeLinkedInURL(str("linkedin_url")),
	}
}

// MapToLeads applies found emails. With a lead context (opts.LeadID or
// opts.URLIndex) it sets the email of the matching lead on a positive match
// and leaves it untouched on a not-found marker. Found people matching no
// indexed lead, and every person without a lead context, become leads,
// deduped against the user's existing leads.
func (a *EmailFinder) MapToLeads(ctx context.Context, items []Item, target Target, opts MapOptions) (*model.MappingResult, error) {
	decoded := make([]finderItem, 0, len(items))
	res := &model.MappingResult{}
	for i, it := range items {
		var fi finderItem
		if err := decodeItem(i, it, &fi); err != nil {
			res.Errors++
			zap.L().Warn("scraper: skip malformed email result", zap.String("scraper", a.info.ID), zap.Error(err))
			continue
		}
		decoded = append(decoded, fi)
	}

	leadID := firstNonEmpty(opts.LeadID, target.LeadID)
	if leadID != "" || len(opts.URLIndex) > 0 {
		applied, unmatched := a.apply(ctx, decoded, leadID, opts.URLIndex)
		res.Add(applied)
		decoded = unmatched
	}
	if len(decoded) == 0 {
		return res, nil
	}

	cands := make([]mapping.LeadCandidate, 0, len(decoded))
	for _, fi := range decoded {
		email := fi.Email
		if mapping.IsNotFound(email) {
			email = ""
		}
		if email == "" && fi.LinkedInURL == "" {
			res.Skipped++
			continue
		}
		c := mapping.LeadCandidate{
			FirstName:      fi.FirstName,
			LastName:       fi.LastName,
			FullName:       fi.FullName,
			Position:       fi.Position,
			Email:          email,
			EmailCertainty: fi.certainty(),
			LinkedInURL:    fi.LinkedInURL,
			CompanyID:      target.CompanyID,
		}
		if c.CompanyID == "" && (fi.Domain != "" || fi.CompanyName != "") {
			c.Company = &mapping.CompanyCandidate{Name: fi.CompanyName, Domain: fi.Domain}
		}
		cands = append(cands, c)
	}
	leadRes, _ := a.mapper.UpsertLeads(ctx, cands, target)
	res.Add(leadRes)
	return res, nil
}

// apply writes found emails onto indexed leads. Items matching no lead are
// returned; with a single lead context every item targets that lead.
func (a *EmailFinder) apply(ctx context.Context, items []finderItem, leadID string, byURL map[string][]string) (*model.MappingResult, []finderItem) {
	res := &model.MappingResult{}
	var unmatched []finderItem
	index := make(map[string][]string, len(byURL))
	for u, ids := range byURL {
		if k := mapping.NormalizeLinkedInURL(u); k != "" {
			index[k] = ids
		}
	}
	for _, fi := range items {
		ids := index[mapping.NormalizeLinkedInURL(fi.LinkedInURL)]
		if len(ids) == 0 && leadID != "" {
			ids = []string{leadID}
		}
		if len(ids) == 0 {
			unmatched = append(unmatched, fi)
			continue
		}
		for _, id := range ids {
			changed, err := a.mapper.ApplyFoundEmail(ctx, id, fi.Email, fi.certainty())
			if err != nil {
				res.Errors++
				zap.L().Warn("scraper: apply found email", zap.String("lead_id", id), zap.Error(err))
				continue
			}
			if changed {
				res.Enriched++
			} else {
				res.Skipped++
			}
			res.Touch(model.EntityLead, id, changed, 1)
		}
	}
	return res, unmatched
}

// EmailValidator verifies deliverability of a batch of emails.
type EmailValidator struct {
	*actorRunner
	mapper *mapping.Mapper
}

type verdictItem struct {
	Email  string `json:"email"`
	Result string `json:"result"`
	Status string `json:"status"`
}

// Execute starts a verification of the "emails" param. Batches larger than
// the scraper's max batch size are rejected.
func (a *EmailValidator) Execute(ctx context.Context, params Params) (*model.Run, error) {
	emails := make([]string, 0)
	for _, e := range stringList(params["emails"]) {
		if n := mapping.NormalizeEmail(e); n != "" {
			emails = append(emails, n)
		}
	}
	if len(emails) == 0 {
		return nil, a.rejected(errNoEmails)
	}
	if a.info.MaxBatchSize > 0 && len(emails) > a.info.MaxBatchSize {
		return nil, a.rejected(errBatchTooLarge)
	}
	return a.start(ctx, params, map[string]any{"emails": emails})
}

// MapToLeads writes the verdict for each result email to every lead in
// opts.EmailIndex holding it.
func (a *EmailValidator) MapToLeads(ctx context.Context, items []Item, _ Target, opts MapOptions) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	for i, it := range items {
		var vi verdictItem
		if err := decodeItem(i, it, &vi); err != nil {
			res.Errors++
			continue
		}
		ids := opts.EmailIndex[mapping.NormalizeEmail(vi.Email)]
		if len(ids) == 0 {
			res.Skipped++
			continue
		}
		sub, err := a.mapper.ApplyEmailVerdict(ctx, ids, toVerdict(firstNonEmpty(vi.Result, vi.Status)))
		res.Add(sub)
		if err != nil {
			zap.L().Warn("scraper: apply email verdict", zap.String("scraper", a.info.ID), zap.Error(err))
		}
	}
	return res, nil
}

// toVerdict folds provider result vocabularies into EmailVerifyStatus.
func toVerdict(s string) model.EmailVerifyStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "valid", "deliverable", "ok", "safe":
		return model.EmailVerifyValid
	case "invalid", "undeliverable", "bounce", "disposable", "error":
		return model.EmailVerifyInvalid
	case "risky", "catch_all", "catch-all", "accept_all", "accept-all":
		return model.EmailVerifyRisky
	default:
		return model.EmailVerifyUnknown
	}
}
