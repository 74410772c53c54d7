// Package kplc talks to the utility's public website: the interruption
// listing page and the bulletin PDFs linked from it.
package kplc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/stima/stima/internal/platform/httpx"
)

// Bulletin PDFs live under img/full on the utility's own host; anything
// else on the listing page is navigation or ads.
var bulletinURLRe = regexp.MustCompile(`^https://(www\.)?kplc\.co\.ke/img/full/.*\.pdf$`)

// Client scrapes the interruption listing and downloads bulletins.
type Client struct {
	httpc      *httpx.Client
	listingURL string
	now        func() time.Time
}

func NewClient(listingURL string, log zerolog.Logger) *Client {
	return &Client{
		httpc:      httpx.NewClient("kplc", 30*time.Second, log),
		listingURL: listingURL,
		now:        time.Now,
	}
}

// ListBulletins returns every bulletin PDF URL on the listing page dated in
// the current calendar year, in page order, de-duplicated. Bulletin
// filenames carry their publication date, so the year is matched on the
// URL itself.
func (c *Client) ListBulletins(ctx context.Context) ([]string, error) {
	resp, err := c.httpc.Get(ctx, c.listingURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	year := strconv.Itoa(c.now().Year())
	var urls []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if bulletinURLRe.MatchString(href) && strings.Contains(href, year) {
			urls = append(urls, href)
		}
	})
	return lo.Uniq(urls), nil
}

// FetchPDF downloads one bulletin. The URL may come from the scrape or
// from a manually added source, so it is not re-validated here.
func (c *Client) FetchPDF(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.httpc.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulletin %s returned status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
