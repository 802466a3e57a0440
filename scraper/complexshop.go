package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-dispatch/parser"
	"github.com/gocolly/colly/v2"
)

const complexShopBaseURL = "https://shop.complex.com"

// ComplexShop scrapes the Complex storefront listing pages.
type ComplexShop struct {
	fetcher
	baseURL string
}

// NewComplexShop builds the adapter on top of the shared collector.
func NewComplexShop(collector *colly.Collector, opts Options) *ComplexShop {
	return &ComplexShop{
		fetcher: newFetcher("complexshop", collector, opts),
		baseURL: complexShopBaseURL,
	}
}

func (a *ComplexShop) Name() string { return a.provider }

func (a *ComplexShop) Collect(ctx context.Context, query string, limit int) ([]models.Product, error) {
	var products []models.Product
	seenAt := time.Now().UTC()

	err := a.visit(ctx, a.listingURL(query), func(c *colly.Collector) {
		c.OnHTML("div.grid-product__content", func(e *colly.HTMLElement) {
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

func (a *ComplexShop) listingURL(query string) string {
	params := url.Values{"sort_by": {"best-selling"}}
	path := "/collections/all"
	if query != "" {
		path = "/search"
		params.Set("q", query)
	}
	return a.baseURL + path + "?" + params.Encode()
}

func (a *ComplexShop) parseCard(e *colly.HTMLElement, seenAt time.Time) (models.Product, bool) {
	name := parser.NormalizeText(e.ChildText("div.grid-product__title"))
	if name == "" {
		return models.Product{}, false
	}
	link := parser.ResolveURL(a.baseURL, e.ChildAttr("a.grid-product__link", "href"))
	if link == "" {
		return models.Product{}, false
	}

	rawPrice := parser.NormalizeText(e.ChildText("span.grid-product__price--current"))
	currency := ""
	if parser.HasLetters(rawPrice) {
		currency = "USD"
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
		Categories: models.StringList{},
		Metadata:   metadata,
		LastSeen:   seenAt,
	}, true
}

// cardImages reads the lazy-load image of a product card, falling back to
// the plain src attribute.
func cardImages(card *goquery.Selection, baseURL string) models.StringList {
	img := card.Find("img").First()
	src, ok := img.Attr("data-src")
	if !ok || strings.TrimSpace(src) == "" {
		src, _ = img.Attr("src")
	}
	if resolved := parser.ResolveURL(baseURL, src); resolved != "" {
		return models.StringList{resolved}
	}
	return models.StringList{}
}
