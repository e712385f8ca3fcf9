// Package universe builds the ticker list the daily scan runs over: S&P 500
// and Nasdaq-100 constituents scraped from Wikipedia, plus a fixed set of
// broad-market ETFs.
package universe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"gotrader/internal/cache"
	"gotrader/internal/model"
)

const (
	sp500URL     = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
	nasdaq100URL = "https://en.wikipedia.org/wiki/Nasdaq-100"
)

// etfs are always scanned regardless of index membership.
var etfs = []string{
	"SPY", "IVV", "VOO", "VTI", "QQQ", "VEA", "IEFA", "VTV", "BND", "VUG",
	"AGG", "IWF", "IJR", "IJH", "IEMG", "VWO", "VIG", "IWM", "VXUS", "VO",
	"VGT", "XLK", "GLD", "IWD", "BNDX", "GBTC", "SMH", "IBIT", "BITO",
}

type Fetcher struct {
	client *http.Client
	log    *slog.Logger

	// Overridable for tests.
	sp500URL     string
	nasdaq100URL string
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:       client,
		log:          slog.With("component", "universe"),
		sp500URL:     sp500URL,
		nasdaq100URL: nasdaq100URL,
	}
}

// Symbols returns the deduplicated, sorted scan universe. Dots in index
// symbols become dashes to match the broker's share-class notation.
func (f *Fetcher) Symbols(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, url := range []string{f.sp500URL, f.nasdaq100URL} {
		symbols, err := f.scrape(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("universe: %s: %w", url, err)
		}
		f.log.Debug("scraped constituents", "url", url, "count", len(symbols))
		for _, symbol := range symbols {
			seen[symbol] = true
		}
	}
	for _, symbol := range etfs {
		seen[symbol] = true
	}

	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fetcher) scrape(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	symbols := constituents(doc)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no constituents table found")
	}
	return symbols, nil
}

// constituents walks the page for the first wikitable with a Symbol or
// Ticker column and returns that column's values.
func constituents(doc *html.Node) []string {
	var symbols []string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "table" && hasClass(n, "wikitable") {
			if extracted := tableSymbols(n); len(extracted) > 0 {
				symbols = extracted
				return true
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if walk(child) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return symbols
}

func tableSymbols(table *html.Node) []string {
	rows := descendants(table, "tr")
	if len(rows) == 0 {
		return nil
	}
	column := -1
	for i, cell := range descendants(rows[0], "th") {
		header := strings.ToLower(strings.TrimSpace(text(cell)))
		if header == "symbol" || header == "ticker" || header == "ticker symbol" {
			column = i
			break
		}
	}
	if column < 0 {
		return nil
	}

	var symbols []string
	for _, row := range rows[1:] {
		cells := descendants(row, "td")
		if column >= len(cells) {
			continue
		}
		symbol := strings.TrimSpace(text(cells[column]))
		if symbol == "" {
			continue
		}
		symbols = append(symbols, strings.ReplaceAll(symbol, ".", "-"))
	}
	return symbols
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// descendants collects element nodes by tag in document order, without
// descending into a matched node.
func descendants(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode && child.Data == tag {
				out = append(out, child)
				continue
			}
			walk(child)
		}
	}
	walk(n)
	return out
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// Source yields the scan universe.
type Source interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Cached wraps a Source with a one-trading-day disk cache.
type Cached struct {
	source  Source
	cache   *cache.Cache
	Refresh bool
}

func NewCached(source Source, c *cache.Cache) *Cached {
	return &Cached{source: source, cache: c}
}

const cacheBucket = "tickers"

func (c *Cached) Symbols(ctx context.Context) ([]string, error) {
	if c.Refresh {
		if err := c.cache.Clear(cacheBucket); err != nil {
			slog.Warn("clear ticker cache failed", "error", err)
		}
	}
	key := cache.Key(model.Today().Format("2006-01-02"))

	var symbols []string
	if !c.Refresh && c.cache.Get(cacheBucket, key, &symbols) {
		return symbols, nil
	}
	symbols, err := c.source.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(cacheBucket, key, symbols); err != nil {
		slog.Warn("cache ticker universe failed", "error", err)
	}
	return symbols, nil
}
