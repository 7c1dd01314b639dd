package model

// Completeness scores are derived at read time from field presence and are
// never persisted.

const (
	minScore = 1
	maxScore = 10
)

// CompanyScore rates how complete a company record is on a 1-10 scale.
func CompanyScore(c *Company) int {
	if c == nil {
		return minScore
	}
	score := 0
	if c.Domain != "" || c.Website != "" {
		score += 2
	}
	if c.LinkedInURL != "" {
		score += 2
	}
	if c.Industry != "" {
		score++
	}
	if c.EmployeesScraped {
		score++
	}
	if c.SEOAnalyzedAt != nil {
		score += 2
	}
	if c.ReviewCount > 0 {
		score++
	}
	if c.CompanyLinkedInPost == PostStatusEnriched {
		score++
	}
	return clampScore(score)
}

// LeadScore rates a lead on a 1-10 scale. company may be nil.
func LeadScore(l *Lead, company *Company) int {
	if l == nil {
		return minScore
	}
	score := 0
	if l.Email != "" {
		score += 3
		if l.EmailVerify == EmailVerifyValid {
			score++
		}
	}
	if l.LinkedInURL != "" {
		score += 2
	}
	if l.Position != "" {
		score++
	}
	if l.FullName != "" || l.FirstName != "" {
		score++
	}
	if l.PersonLinkedInPost == PostStatusEnriched {
		score++
	}
	if company != nil && (company.Domain != "" || company.SEOAnalyzedAt != nil || company.ReviewCount > 0) {
		score++
	}
	return clampScore(score)
}

func clampScore(s int) int {
	if s < minScore {
		return minScore
	}
	if s > maxScore {
		return maxScore
	}
	return s
}
