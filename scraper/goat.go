package scraper

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/parser"
	"github.com/gocolly/colly/v2"
)

const (
	goatBaseURL        = "https://www.goat.com"
	goatSearchEndpoint = "https://www.goat.com/web-api/v2/search"
	goatPerPage        = 80
)

// Goat queries the GOAT sneaker search API.
type Goat struct {
	fetcher
	baseURL  string
	endpoint string
}

func NewGoat(collector *colly.Collector, opts Options) *Goat {
	return &Goat{
		fetcher:  newFetcher("goat", collector, opts),
		baseURL:  goatBaseURL,
		endpoint: goatSearchEndpoint,
	}
}

func (a *Goat) Name() string { return a.provider }

func (a *Goat) Collect(ctx context.Context, query string, limit int) ([]models.Product, error) {
	var (
		products []models.Product
		parseErr error
	)
	seenAt := time.Now().UTC()

	target := a.searchURL(query)
	err := a.visit(ctx, target, func(c *colly.Collector) {
		c.OnRequest(func(r *colly.Request) {
			r.Headers.Set("Accept", "application/json")
		})
		c.OnResponse(func(r *colly.Response) {
			products, parseErr = a.parse(r.Body, seenAt)
		})
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, a.fail(ErrParse{Err: parseErr}, target)
	}
	return a.finish(query, products, limit), nil
}

func (a *Goat) searchURL(query string) string {
	params := url.Values{}
	params.Set("query", query)
	params.Set("productType", "sneakers")
	params.Set("perPage", strconv.Itoa(goatPerPage))
	return a.endpoint + "?" + params.Encode()
}

type goatSearchResponse struct {
	Hits []struct {
		Source goatProduct `json:"_source"`
	} `json:"hits"`
}

type goatProduct struct {
	Name             string  `json:"name"`
	Slug             string  `json:"slug"`
	LowestPriceCents float64 `json:"lowest_price_cents"`
	GridDefaultImage string  `json:"grid_default_image"`
	BrandName        string  `json:"brand_name"`
	CategoryTraits   []any   `json:"category_traits"`
	Color            any     `json:"color"`
	Silhouette       any     `json:"silhouette"`
	ReleaseDate      any     `json:"release_date"`
}

func (a *Goat) parse(body []byte, seenAt time.Time) ([]models.Product, error) {
	var payload goatSearchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(payload.Hits))
	for _, hit := range payload.Hits {
		src := hit.Source
		if src.Slug == "" {
			continue
		}
		name := parser.NormalizeText(src.Name)
		if name == "" {
			name = src.Slug
		}

		images := models.StringList{}
		if src.GridDefaultImage != "" {
			images = append(images, src.GridDefaultImage)
		}
		categories := models.StringList{}
		for _, trait := range src.CategoryTraits {
			if s, ok := trait.(string); ok && s != "" {
				categories = append(categories, s)
			}
		}

		products = append(products, models.Product{
			Provider:   a.provider,
			Name:       name,
			URL:        a.baseURL + "/sneakers/" + url.PathEscape(src.Slug),
			Price:      parser.PriceFromCents(int64(math.Round(src.LowestPriceCents))),
			Currency:   "USD",
			Images:     images,
			Brand:      src.BrandName,
			Categories: categories,
			Metadata: models.Metadata{
				"color":        src.Color,
				"silhouette":   src.Silhouette,
				"release_date": src.ReleaseDate,
			},
			LastSeen: seenAt,
		})
	}
	return products, nil
}
