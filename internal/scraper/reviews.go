package scraper

import (
	"context"
	"math"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
)

// ReviewCrawler collects public reviews of a company's business listing.
type ReviewCrawler struct {
	*actorRunner
	mapper *mapping.Mapper
}

// reviewItem is either one review (Stars set) or a place summary
// (ReviewsCount and TotalScore set).
type reviewItem struct {
	Stars        *float64 `json:"stars"`
	Rating       *float64 `json:"rating"`
	ReviewsCount *int     `json:"reviewsCount"`
	TotalScore   *float64 `json:"totalScore"`
}

// Execute starts a review crawl of the "place_url" param.
func (a *ReviewCrawler) Execute(ctx context.Context, params Params) (*model.Run, error) {
	places := stringList(params["place_url"])
	if len(places) == 0 {
		return nil, a.rejected(errNoSite)
	}
	input := map[string]any{
		"startUrls":  []map[string]string{{"url": places[0]}},
		"maxReviews": intParam(params["max_reviews"], 100),
	}
	return a.start(ctx, params, input)
}

// MapToLeads stores the review count and average rating on the target
// company. A place summary wins over counting individual reviews.
func (a *ReviewCrawler) MapToLeads(ctx context.Context, items []Item, target Target, _ MapOptions) (*model.MappingResult, error) {
	res := &model.MappingResult{}
	if target.CompanyID == "" {
		return res, model.NewValidationError("company_id", "%s", errNoCompany)
	}

	var (
		count   int
		sum     float64
		rated   int
		summary *reviewItem
	)
	for i, it := range items {
		var ri reviewItem
		if err := decodeItem(i, it, &ri); err != nil {
			res.Errors++
			continue
		}
		if ri.ReviewsCount != nil {
			summary = &ri
			continue
		}
		count++
		if s := ri.Stars; s != nil {
			sum += *s
			rated++
		} else if r := ri.Rating; r != nil {
			sum += *r
			rated++
		}
	}

	var rating *float64
	if summary != nil {
		count = *summary.ReviewsCount
		rating = summary.TotalScore
	} else if rated > 0 {
		avg := math.Round(sum/float64(rated)*100) / 100
		rating = &avg
	}

	if err := a.mapper.ApplyReviews(ctx, target.CompanyID, count, rating); err != nil {
		return res, err
	}
	res.Enriched++
	res.Touch(model.EntityCompany, target.CompanyID, count > 0, count)
	return res, nil
}
