package mapping

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// LeadCandidate is a person as described by provider output.
type LeadCandidate struct {
	FirstName      string
	LastName       string
	FullName       string
	Position       string
	Email          string
	EmailCertainty string
	LinkedInURL    string

	// CompanyID links the lead to an already resolved company. When empty,
	// Company is resolved instead.
	CompanyID string
	Company   *CompanyCandidate
}

// keys returns the normalized identities used for dedup.
func (c LeadCandidate) keys() (email, linkedin string) {
	return NormalizeEmail(c.Email), NormalizeLinkedInURL(c.LinkedInURL)
}

var errNoIdentity = eris.New("lead has neither email nor linkedin url")

// UpsertLeads inserts every candidate not already owned by t.UserID under the
// same normalized email or LinkedIn URL, and links new and existing leads to
// t.CollectionID. Per-item failures become MappingErrors counted in Errors and
// never stop the batch; the returned slice holds them in item order.
func (m *Mapper) UpsertLeads(ctx context.Context, cands []LeadCandidate, t Target) (*model.MappingResult, []error) {
	res := &model.MappingResult{}
	var errs []error
	seen := make(map[string]bool, len(cands)*2)

	for i, c := range cands {
		email, li := c.keys()
		key := email
		if key == "" {
			key = li
		}

		if email == "" && li == "" {
			res.Errors++
			errs = append(errs, &model.MappingError{Index: i, Key: strings.TrimSpace(c.FullName), Err: errNoIdentity})
			continue
		}
		if (email != "" && seen["e:"+email]) || (li != "" && seen["l:"+li]) {
			res.Skipped++
			continue
		}
		if email != "" {
			seen["e:"+email] = true
		}
		if li != "" {
			seen["l:"+li] = true
		}

		created, err := m.upsertLead(ctx, c, email, li, t)
		if created && err != nil {
			// The lead row exists; only the collection link is missing.
			res.Created++
			zap.L().Warn("mapping: link new lead to collection",
				zap.Int("index", i),
				zap.String("collection_id", t.CollectionID),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			res.Errors++
			errs = append(errs, &model.MappingError{Index: i, Key: key, Err: err})
			zap.L().Warn("mapping: lead failed",
				zap.Int("index", i),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	return res, errs
}

func (m *Mapper) upsertLead(ctx context.Context, c LeadCandidate, email, li string, t Target) (bool, error) {
	existing, err := m.store.FindLead(ctx, store.LeadMatch{UserID: t.UserID, Email: email, LinkedInURL: li})
	if err != nil {
		return false, err
	}
	if existing != nil {
		if err := m.link(ctx, t.CollectionID, existing.ID); err != nil {
			return false, err
		}
		return false, nil
	}

	companyID := c.CompanyID
	if companyID == "" && c.Company != nil {
		co, _, err := m.ResolveCompany(ctx, *c.Company)
		if err != nil {
			return false, err
		}
		if co != nil {
			companyID = co.ID
		}
	}

	full := strings.TrimSpace(c.FullName)
	if full == "" {
		full = strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	}
	lead := &model.Lead{
		UserID:         t.UserID,
		CompanyID:      companyID,
		FirstName:      strings.TrimSpace(c.FirstName),
		LastName:       strings.TrimSpace(c.LastName),
		FullName:       full,
		Position:       strings.TrimSpace(c.Position),
		Email:          email,
		EmailCertainty: c.EmailCertainty,
		LinkedInURL:    li,
	}
	if err := m.store.CreateLead(ctx, lead); err != nil {
		return false, err
	}
	if err := m.link(ctx, t.CollectionID, lead.ID); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Mapper) link(ctx context.Context, collectionID, leadID string) error {
	if collectionID == "" {
		return nil
	}
	return m.store.AddLeadToCollection(ctx, collectionID, leadID)
}
