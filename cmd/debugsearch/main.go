// Command debugsearch runs one query against a single search provider and
// prints the raw hits. It bypasses the proxy pipeline entirely, so it is
// the quickest way to check provider credentials and connectivity.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hyperifyio/clawrubber/internal/search"
)

func main() {
	providerName := flag.String("provider", "searxng", "search provider: brave, searxng or file")
	file := flag.String("file", "", "results file for the file provider")
	count := flag.Int("count", 5, "number of results to request")
	flag.Parse()

	q := "site reliability engineering"
	if flag.NArg() > 0 {
		q = flag.Arg(0)
	}

	client := &http.Client{Timeout: 20 * time.Second}
	var prov search.Provider
	switch *providerName {
	case "brave":
		prov = &search.Brave{APIKey: os.Getenv("BRAVE_API_KEY"), HTTPClient: client, UserAgent: "debugsearch/1.0"}
	case "searxng":
		base := os.Getenv("SEARX_URL")
		if base == "" {
			base = "http://localhost:8888"
		}
		prov = &search.SearxNG{BaseURL: base, APIKey: os.Getenv("SEARX_KEY"), HTTPClient: client, UserAgent: "debugsearch/1.0"}
	case "file":
		prov = &search.FileProvider{Path: *file}
	default:
		fmt.Fprintf(os.Stderr, "unknown provider %q\n", *providerName)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	res, err := prov.Search(ctx, search.Query{Text: q, Count: *count})
	if err != nil {
		fmt.Fprintln(os.Stderr, "err:", err)
		os.Exit(1)
	}
	for i, r := range res {
		fmt.Printf("%d. %s — %s\n", i+1, r.Title, r.URL)
	}
}
