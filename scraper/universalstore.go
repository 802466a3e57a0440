package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/parser"
	"github.com/gocolly/colly/v2"
)

const universalStoreBaseURL = "https://www.universalstore.com"

// UniversalStore scrapes the Universal Store product grid.
type UniversalStore struct {
	fetcher
	baseURL string
}

func NewUniversalStore(collector *colly.Collector, opts Options) *UniversalStore {
	return &UniversalStore{
		fetcher: newFetcher("universalstore", collector, opts),
		baseURL: universalStoreBaseURL,
	}
}

func (a *UniversalStore) Name() string { return a.provider }

func (a *UniversalStore) Collect(ctx context.Context, query string, limit int) ([]models.Product, error) {
	var products []models.Product
	seenAt := time.Now().UTC()

	err := a.visit(ctx, a.listingURL(query), func(c *colly.Collector) {
		c.OnHTML("article.product-grid-item", func(e *colly.HTMLElement) {
			if p, ok := a.parseCard(e, seenAt); ok {
				products = append(products, p)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return a.finish(query, products, limit), nil
}

func (a *UniversalStore) listingURL(query string) string {
	params := url.Values{"sz": {"48"}}
	path := "/collections/all"
	if query != "" {
		path = "/search"
		params.Set("q", query)
	}
	return a.baseURL + path + "?" + params.Encode()
}

func (a *UniversalStore) parseCard(e *colly.HTMLElement, seenAt time.Time) (models.Product, bool) {
	name := parser.NormalizeText(e.ChildText("h3.product-grid-item__title"))
	if name == "" {
		return models.Product{}, false
	}
	link := parser.ResolveURL(a.baseURL, e.ChildAttr("a.product-grid-item__link", "href"))
	if link == "" {
		return models.Product{}, false
	}

	rawPrice := parser.NormalizeText(e.ChildText("span.price"))
	currency := ""
	if strings.Contains(rawPrice, "$") {
		currency = "AUD"
	}

	metadata := models.Metadata{"raw_price": nil}
	if rawPrice != "" {
		metadata["raw_price"] = rawPrice
	}

	return models.Product{
		Provider:   a.provider,
		Name:       name,
		URL:        link,
		Price:      parser.ParsePrice(rawPrice),
		Currency:   currency,
		Images:     cardImages(e.DOM, a.baseURL),
		Brand:      parser.NormalizeText(e.ChildText("p.product-grid-item__brand")),
		Categories: models.StringList{},
		Metadata:   metadata,
		LastSeen:   seenAt,
	}, true
}
