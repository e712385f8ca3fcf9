package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotrader/internal/cache"
)

const sp500Page = `<html><body>
<table class="wikitable sortable">
<tr><th>Symbol</th><th>Security</th></tr>
<tr><td><a href="/AAPL">AAPL</a></td><td>Apple</td></tr>
<tr><td>BRK.B</td><td>Berkshire Hathaway</td></tr>
<tr><td> MSFT </td><td>Microsoft</td></tr>
</table>
</body></html>`

const nasdaqPage = `<html><body>
<table class="wikitable">
<tr><th>Year</th><th>Return</th></tr>
<tr><td>2023</td><td>53%</td></tr>
</table>
<table class="wikitable sortable">
<tr><th>Company</th><th>Ticker</th></tr>
<tr><td>Apple</td><td>AAPL</td></tr>
<tr><td>Nvidia</td><td>NVDA</td></tr>
</table>
</body></html>`

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sp500", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(sp500Page))
	})
	mux.HandleFunc("/nasdaq", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(nasdaqPage))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f := NewFetcher(server.Client())
	f.sp500URL = server.URL + "/sp500"
	f.nasdaq100URL = server.URL + "/nasdaq"
	return f
}

func TestSymbols(t *testing.T) {
	f := newTestFetcher(t)

	symbols, err := f.Symbols(context.Background())
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}

	got := map[string]bool{}
	for _, s := range symbols {
		if got[s] {
			t.Errorf("duplicate symbol %q", s)
		}
		got[s] = true
	}

	// Index constituents, with dots swapped for dashes and whitespace trimmed.
	for _, want := range []string{"AAPL", "BRK-B", "MSFT", "NVDA"} {
		if !got[want] {
			t.Errorf("missing constituent %q", want)
		}
	}
	if got["BRK.B"] {
		t.Error("dot form of BRK.B should have been normalized")
	}
	// The yearly-returns table must not contribute rows.
	if got["2023"] {
		t.Error("non-constituent table leaked into the universe")
	}
	// Static ETFs ride along.
	for _, want := range []string{"SPY", "QQQ", "GLD"} {
		if !got[want] {
			t.Errorf("missing ETF %q", want)
		}
	}
}

func TestSymbolsErrorOnMissingTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><p>no tables here</p></body></html>"))
	}))
	defer server.Close()

	f := NewFetcher(server.Client())
	f.sp500URL = server.URL
	f.nasdaq100URL = server.URL

	if _, err := f.Symbols(context.Background()); err == nil {
		t.Fatal("expected an error when no constituents table exists")
	}
}

type countingSource struct {
	calls   int
	symbols []string
}

func (c *countingSource) Symbols(context.Context) ([]string, error) {
	c.calls++
	return c.symbols, nil
}

func TestCachedSymbols(t *testing.T) {
	src := &countingSource{symbols: []string{"AAPL", "MSFT"}}
	cached := NewCached(src, cache.New(t.TempDir()))

	for i := 0; i < 3; i++ {
		symbols, err := cached.Symbols(context.Background())
		if err != nil {
			t.Fatalf("Symbols: %v", err)
		}
		if len(symbols) != 2 {
			t.Fatalf("symbols = %v, want 2 entries", symbols)
		}
	}
	if src.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", src.calls)
	}

	cached.Refresh = true
	if _, err := cached.Symbols(context.Background()); err != nil {
		t.Fatalf("refresh Symbols: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("upstream calls after refresh = %d, want 2", src.calls)
	}
}
