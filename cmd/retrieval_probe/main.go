// retrieval_probe runs one retrieval strategy against the configured graph
// and prints the result as JSON. Debug tooling only; the engine itself is
// consumed as a library.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/lexgraph-backend/internal/app"
	"github.com/yungbote/lexgraph-backend/internal/retrieval"
)

func main() {
	var (
		strategy    = flag.String("strategy", "local", "local | global | drift | combined")
		query       = flag.String("query", "", "query text (local, drift, combined)")
		asOf        = flag.String("as-of", time.Now().UTC().Format("2006-01-02"), "as-of date, YYYY-MM-DD")
		k           = flag.Int("k", 5, "result count (combined) / seed count (local)")
		communities = flag.Int("communities", 3, "community count (global, drift)")
		fulltext    = flag.Bool("fulltext", false, "use fulltext seeds for local")
		timeout     = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	asOfDate, err := time.Parse("2006-01-02", *asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -as-of date: %v\n", err)
		os.Exit(2)
	}

	var result any
	switch *strategy {
	case "local":
		result, err = a.Engine.Local(ctx, retrieval.LocalParams{
			Query:       *query,
			AsOf:        asOfDate,
			SeedCount:   *k,
			UseFullText: *fulltext,
		})
	case "global":
		result, err = a.Engine.Global(ctx, *communities)
	case "drift":
		result, err = a.Engine.Drift(ctx, retrieval.DriftParams{
			Query:          *query,
			AsOf:           asOfDate,
			TopCommunities: *communities,
		})
	case "combined":
		result, err = a.Engine.CombinedSearch(ctx, *query, *k)
	default:
		fmt.Fprintf(os.Stderr, "unknown strategy %q\n", *strategy)
		os.Exit(2)
	}
	if err != nil {
		if stage := retrieval.FailedStage(err); stage != "" {
			fmt.Fprintf(os.Stderr, "retrieval failed at stage %s: %v\n", stage, err)
		} else {
			fmt.Fprintf(os.Stderr, "retrieval failed: %v\n", err)
		}
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
