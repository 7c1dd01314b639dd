package mapping

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// nextPostStatus decides a post-enrichment transition. A status already at
// enriched is neither re-counted nor downgraded unless force is set.
func nextPostStatus(current model.PostStatus, found, force bool) (model.PostStatus, bool) {
	if current == model.PostStatusEnriched && !force {
		return current, false
	}
	if found {
		return model.PostStatusEnriched, true
	}
	return model.PostStatusNoPosts, true
}

func countPost(res *model.MappingResult, status model.PostStatus) {
	if status == model.PostStatusEnriched {
		res.Enriched++
	} else {
		res.NoPosts++
	}
}

// SavePosts stores posts not already known by URL and counts the new ones as
// Created.
func (m *Mapper) SavePosts(ctx context.Context, posts []model.Post) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	valid := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if p.URL == "" {
			res.Errors++
			continue
		}
		valid = append(valid, p)
	}
	n, err := m.store.InsertPosts(ctx, valid)
	if err != nil {
		return res, eris.Wrap(err, "mapping: save posts")
	}
	res.Created = n
	res.Skipped = len(valid) - n
	return res, nil
}

// SetLeadPostStatus records a person-post enrichment for one lead: enriched
// when the provider found posts, no-posts otherwise.
func (m *Mapper) SetLeadPostStatus(ctx context.Context, leadID string, found, force bool) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	lead, err := m.store.GetLead(ctx, leadID)
	if err != nil {
		return res, eris.Wrap(err, "mapping: load lead")
	}
	if lead == nil {
		return res, model.NewValidationError("lead_id", "lead %s not found", leadID)
	}

	next, changed := nextPostStatus(lead.PersonLinkedInPost, found, force)
	if !changed {
		res.Skipped++
		return res, nil
	}
	if err := m.store.UpdateLead(ctx, leadID, store.LeadPatch{PersonLinkedInPost: &next}); err != nil {
		return res, eris.Wrap(err, "mapping: set person post status")
	}
	countPost(res, next)
	return res, nil
}

// SetCompanyPostStatusFanOut records a company-post enrichment for the company
// with the given LinkedIn URL and every lead of userID attached to it. One
// provider call thus updates all leads sharing the URL.
func (m *Mapper) SetCompanyPostStatusFanOut(ctx context.Context, userID, companyLinkedInURL string, found, force bool) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	url := NormalizeLinkedInURL(companyLinkedInURL)
	if url == "" {
		return res, model.NewValidationError("company_linkedin_url", "invalid url %q", companyLinkedInURL)
	}

	co, err := m.store.FindCompany(ctx, store.CompanyMatch{LinkedInURL: url})
	if err != nil {
		return res, eris.Wrap(err, "mapping: find company by linkedin url")
	}
	if co != nil {
		if next, changed := nextPostStatus(co.CompanyLinkedInPost, found, force); changed {
			if err := m.store.UpdateCompany(ctx, co.ID, store.CompanyPatch{CompanyLinkedInPost: &next}); err != nil {
				return res, eris.Wrap(err, "mapping: set company post status")
			}
		}
	}

	leads, err := m.store.ListLeadsByCompanyLinkedIn(ctx, userID, url)
	if err != nil {
		return res, eris.Wrap(err, "mapping: list company leads")
	}
	for _, l := range leads {
		next, changed := nextPostStatus(l.CompanyLinkedInPost, found, force)
		if !changed {
			res.Skipped++
			continue
		}
		if err := m.store.UpdateLead(ctx, l.ID, store.LeadPatch{CompanyLinkedInPost: &next}); err != nil {
			res.Errors++
			zap.L().Warn("mapping: set lead company post status", zap.String("lead_id", l.ID), zap.Error(err))
			continue
		}
		countPost(res, next)
		res.Touch(model.EntityLead, l.ID, found, 0)
	}
	return res, nil
}

// ApplyFoundEmail sets a lead's email and certainty when the provider made a
// positive match. Not-found markers leave the lead untouched, and so does an
// email another lead of the same user already holds. It reports whether the
// lead changed.
func (m *Mapper) ApplyFoundEmail(ctx context.Context, leadID, email, certainty string) (bool, error) {
	if IsNotFound(email) {
		return false, nil
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return false, eris.Errorf("mapping: malformed email %q", email)
	}

	lead, err := m.store.GetLead(ctx, leadID)
	if err != nil {
		return false, eris.Wrap(err, "mapping: apply found email: load lead")
	}
	if lead == nil {
		return false, model.NewValidationError("lead_id", "lead %s not found", leadID)
	}
	holder, err := m.store.FindLead(ctx, store.LeadMatch{UserID: lead.UserID, Email: norm})
	if err != nil {
		return false, eris.Wrap(err, "mapping: apply found email: find holder")
	}
	if holder != nil && holder.ID != lead.ID {
		zap.L().Debug("mapping: found email belongs to another lead",
			zap.String("lead_id", lead.ID),
			zap.String("holder_id", holder.ID),
		)
		return false, nil
	}

	p := store.LeadPatch{Email: &norm}
	if certainty != "" {
		p.EmailCertainty = &certainty
	}
	if err := m.store.UpdateLead(ctx, leadID, p); err != nil {
		return false, eris.Wrap(err, "mapping: apply found email")
	}
	return true, nil
}

// ApplyEmailVerdict writes a validator verdict to every lead in leadIDs.
// A valid verdict also marks the lead validated.
func (m *Mapper) ApplyEmailVerdict(ctx context.Context, leadIDs []string, verdict model.EmailVerifyStatus) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	if verdict == model.EmailVerifyUnset {
		verdict = model.EmailVerifyUnknown
	}
	validated := verdict == model.EmailVerifyValid
	p := store.LeadPatch{EmailVerify: &verdict, Validated: &validated}
	var firstErr error
	for _, id := range leadIDs {
		if err := m.store.UpdateLead(ctx, id, p); err != nil {
			res.Errors++
			if firstErr == nil {
				firstErr = eris.Wrapf(err, "mapping: apply email verdict to %s", id)
			}
			continue
		}
		res.Enriched++
		res.Touch(model.EntityLead, id, true, 1)
	}
	return res, firstErr
}

// MarkEmployeesScraped flags a company whose employee list was collected.
func (m *Mapper) MarkEmployeesScraped(ctx context.Context, companyID string) error {
	if companyID == "" {
		return nil
	}
	yes := true
	at := m.now().UTC()
	err := m.store.UpdateCompany(ctx, companyID, store.CompanyPatch{EmployeesScraped: &yes, EmployeesScrapedAt: &at})
	return eris.Wrap(err, "mapping: mark employees scraped")
}

// MarkSEOAnalyzed stores a page audit on a company.
func (m *Mapper) MarkSEOAnalyzed(ctx context.Context, companyID string, data json.RawMessage) error {
	at := m.now().UTC()
	p := store.CompanyPatch{SEOAnalyzedAt: &at}
	if len(data) > 0 {
		p.SEOData = data
	}
	err := m.store.UpdateCompany(ctx, companyID, p)
	return eris.Wrap(err, "mapping: mark seo analyzed")
}

// ApplyReviews stores the review count and average rating on a company.
func (m *Mapper) ApplyReviews(ctx context.Context, companyID string, count int, rating *float64) error {
	p := store.CompanyPatch{ReviewCount: &count}
	if rating != nil {
		p.ReviewRating = rating
	}
	err := m.store.UpdateCompany(ctx, companyID, p)
	return eris.Wrap(err, "mapping: apply reviews")
}
