package scraper

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
)

// ContactFinder collects the employees of a company and maps them to leads.
type ContactFinder struct {
	*actorRunner
	mapper *mapping.Mapper
}

type contactItem struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	FullName       string `json:"fullName"`
	Name           string `json:"name"`
	Position       string `json:"position"`
	Headline       string `json:"headline"`
	Email          string `json:"email"`
	EmailCertainty string `json:"emailCertainty"`
	LinkedInURL    string `json:"linkedinUrl"`
	ProfileURL     string `json:"profileUrl"`

	CompanyName        string `json:"companyName"`
	CompanyDomain      string `json:"companyDomain"`
	CompanyWebsite     string `json:"companyWebsite"`
	CompanyLinkedInURL string `json:"companyLinkedinUrl"`
	CompanyIndustry    string `json:"companyIndustry"`
}

// Execute starts an employee search for the "company_linkedin_urls" param.
func (a *ContactFinder) Execute(ctx context.Context, params Params) (*model.Run, error) {
	urls, err := a.linkedInURLs(params, "company_linkedin_urls")
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"companies": urls,
		"maxItems":  intParam(params["max_employees"], 100),
	}
	return a.start(ctx, params, input)
}

// MapToLeads creates a lead for every new employee and flags the employer as
// scraped.
func (a *ContactFinder) MapToLeads(ctx context.Context, items []Item, target Target, opts MapOptions) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	cands := make([]mapping.LeadCandidate, 0, len(items))
	for i, it := range items {
		var ci contactItem
		if err := decodeItem(i, it, &ci); err != nil {
			res.Errors++
			zap.L().Warn("scraper: skip malformed contact", zap.String("scraper", a.info.ID), zap.Error(err))
			continue
		}
		c := mapping.LeadCandidate{
			FirstName:      ci.FirstName,
			LastName:       ci.LastName,
			FullName:       firstNonEmpty(ci.FullName, ci.Name),
			Position:       firstNonEmpty(ci.Position, ci.Headline),
			Email:          ci.Email,
			EmailCertainty: ci.EmailCertainty,
			LinkedInURL:    firstNonEmpty(ci.LinkedInURL, ci.ProfileURL),
			CompanyID:      target.CompanyID,
		}
		if c.CompanyID == "" {
			c.Company = &mapping.CompanyCandidate{
				Name:        ci.CompanyName,
				Domain:      ci.CompanyDomain,
				Website:     ci.CompanyWebsite,
				LinkedInURL: firstNonEmpty(ci.CompanyLinkedInURL, opts.CompanyLinkedInURL),
				Industry:    ci.CompanyIndustry,
			}
		}
		cands = append(cands, c)
	}

	leadRes, errs := a.mapper.UpsertLeads(ctx, cands, target)
	res.Add(leadRes)
	for _, err := range errs {
		zap.L().Debug("scraper: contact not mapped", zap.String("scraper", a.info.ID), zap.Error(err))
	}

	companyID := target.CompanyID
	if companyID == "" && opts.CompanyLinkedInURL != "" {
		co, _, err := a.mapper.ResolveCompany(ctx, mapping.CompanyCandidate{LinkedInURL: opts.CompanyLinkedInURL})
		if err != nil {
			return res, err
		}
		if co != nil {
			companyID = co.ID
		}
	}
	if companyID != "" {
		if err := a.mapper.MarkEmployeesScraped(ctx, companyID); err != nil {
			return res, err
		}
		res.Touch(model.EntityCompany, companyID, len(items) > 0, len(items))
	}
	return res, nil
}
