package mapping

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// CompanyCandidate is a company as described by provider output.
type CompanyCandidate struct {
	Name        string
	Domain      string
	Website     string
	LinkedInURL string
	Industry    string
}

// match builds the normalized OR-match keys. Domain falls back to Website.
func (c CompanyCandidate) match() store.CompanyMatch {
	domain := NormalizeDomain(c.Domain)
	if domain == "" {
		domain = NormalizeDomain(c.Website)
	}
	return store.CompanyMatch{
		NameKey:     FoldName(c.Name),
		Domain:      domain,
		LinkedInURL: NormalizeLinkedInURL(c.LinkedInURL),
	}
}

// ResolveCompany finds the company matching c by folded name, normalized
// domain or LinkedIn URL, or creates it. It returns nil when c carries no
// usable key. A concurrent insert of the same company is resolved by
// re-reading after the unique-constraint conflict.
func (m *Mapper) ResolveCompany(ctx context.Context, c CompanyCandidate) (*model.Company, bool, error) {
	key := c.match()
	if key.Empty() {
		return nil, false, nil
	}

	existing, err := m.store.FindCompany(ctx, key)
	if err != nil {
		return nil, false, eris.Wrap(err, "mapping: resolve company")
	}
	if existing != nil {
		m.backfillCompany(ctx, existing, key, c)
		return existing, false, nil
	}

	rec := &model.Company{
		Name:        c.Name,
		Domain:      key.Domain,
		Website:     c.Website,
		LinkedInURL: key.LinkedInURL,
		Industry:    c.Industry,
	}
	if rec.Name == "" {
		rec.Name = key.Domain
	}

	err = m.store.CreateCompany(ctx, rec, key.NameKey)
	if eris.Is(err, store.ErrConflict) {
		existing, err = m.store.FindCompany(ctx, key)
		if err != nil {
			return nil, false, eris.Wrap(err, "mapping: re-read company after conflict")
		}
		if existing == nil {
			return nil, false, eris.New("mapping: company conflict but no match on re-read")
		}
		zap.L().Debug("mapping: company created concurrently, using existing",
			zap.String("company_id", existing.ID),
			zap.String("domain", key.Domain),
		)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "mapping: create company")
	}

	zap.L().Debug("mapping: created company",
		zap.String("company_id", rec.ID),
		zap.String("domain", rec.Domain),
		zap.String("name", rec.Name),
	)
	return rec, true, nil
}

// backfillCompany fills empty domain, website and LinkedIn URL on a matched
// company. Failures are logged; the match stands either way.
func (m *Mapper) backfillCompany(ctx context.Context, existing *model.Company, key store.CompanyMatch, c CompanyCandidate) {
	var p store.CompanyPatch
	if existing.Domain == "" && key.Domain != "" {
		p.Domain = &key.Domain
	}
	if existing.Website == "" && c.Website != "" {
		p.Website = &c.Website
	}
	if existing.LinkedInURL == "" && key.LinkedInURL != "" {
		p.LinkedInURL = &key.LinkedInURL
	}
	if p.Domain == nil && p.Website == nil && p.LinkedInURL == nil {
		return
	}
	if err := m.store.UpdateCompany(ctx, existing.ID, p); err != nil {
		zap.L().Warn("mapping: company backfill failed",
			zap.String("company_id", existing.ID),
			zap.Error(err),
		)
		return
	}
	if p.Domain != nil {
		existing.Domain = *p.Domain
	}
	if p.Website != nil {
		existing.Website = *p.Website
	}
	if p.LinkedInURL != nil {
		existing.LinkedInURL = *p.LinkedInURL
	}
}
