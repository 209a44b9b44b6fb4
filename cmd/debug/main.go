// Command bsky-debug prints the facets a post text would carry. By default it
// runs offline and shows mention handles. With --resolve it logs in using
// BSKY_HANDLE and BSKY_APP_PASSWORD and resolves mentions to DIDs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	bsky "github.com/jamesprial/go-bsky-bridge"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

func main() {
	var (
		resolve    bool
		asJSON     bool
		storageDir string
	)

	flagSet := pflag.NewFlagSet("bsky-debug", pflag.ExitOnError)
	flagSet.BoolVarP(&resolve, "resolve", "r", false, "resolve mentions (needs BSKY_HANDLE and BSKY_APP_PASSWORD)")
	flagSet.BoolVar(&asJSON, "json", false, "print facets as app.bsky.richtext.facet JSON")
	flagSet.StringVar(&storageDir, "session-dir", ".", "directory holding the session file")
	flagSet.Parse(os.Args[1:])

	texts := flagSet.Args()
	if len(texts) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			texts = append(texts, scanner.Text())
		}
	}

	facetsOf := func(text string) []types.Facet { return bsky.DetectFacets(text) }

	if resolve {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		ctx := context.Background()
		session, err := bsky.NewSession(ctx, &bsky.Config{
			Handle:      os.Getenv("BSKY_HANDLE"),
			AppPassword: os.Getenv("BSKY_APP_PASSWORD"),
			StorageDir:  storageDir,
			UserAgent:   "bsky-debug/0.1",
			Logger:      logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		facetsOf = func(text string) []types.Facet {
			var out []types.Facet
			for f := range session.Facets(ctx, text) {
				out = append(out, f)
			}
			return out
		}
	}

	for _, text := range texts {
		facets := facetsOf(text)
		if asJSON {
			data, err := json.MarshalIndent(facets, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
			continue
		}

		fmt.Printf("%q (%d bytes)\n", text, len(text))
		for _, f := range facets {
			fmt.Printf("  %-7s [%3d,%3d) %-30q -> %s\n",
				f.Kind, f.ByteStart, f.ByteEnd, text[f.ByteStart:f.ByteEnd], f.Value)
		}
		if len(facets) == 0 {
			fmt.Println("  (no facets)")
		}
	}
}
