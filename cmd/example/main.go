package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	bsky "github.com/jamesprial/go-bsky-bridge"
	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		handle     string
		storageDir string
		imagePath  string
		altText    string
		langs      []string
		verbose    bool
		logout     bool
	)

	flagSet := pflag.NewFlagSet("bsky-post", pflag.ContinueOnError)
	flagSet.StringVar(&handle, "handle", os.Getenv("BSKY_HANDLE"), "account handle (default $BSKY_HANDLE)")
	flagSet.StringVar(&storageDir, "session-dir", ".", "directory holding the session file")
	flagSet.StringVarP(&imagePath, "image", "i", "", "attach this image")
	flagSet.StringVar(&altText, "alt", "", "alt text for --image")
	flagSet.StringSliceVarP(&langs, "lang", "l", nil, "BCP-47 language tags, in order (repeatable or comma-separated)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolVar(&logout, "logout", false, "revoke and delete the stored session instead of posting")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	password := os.Getenv("BSKY_APP_PASSWORD")
	if handle == "" || password == "" {
		return errors.New("--handle (or BSKY_HANDLE) and BSKY_APP_PASSWORD are required")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	session, err := bsky.NewSession(ctx, &bsky.Config{
		Handle:      handle,
		AppPassword: password,
		StorageDir:  storageDir,
		UserAgent:   "bsky-post/0.1 (+https://github.com/jamesprial/go-bsky-bridge)",
		Logger:      logger,
	})
	if err != nil {
		return describe(err)
	}

	if logout {
		return session.Logout(ctx)
	}

	text := strings.Join(flagSet.Args(), " ")
	req := types.PostRequest{Text: text}
	if len(langs) > 0 {
		req.Langs = langs
	}

	var resp *types.CreateRecordResponse
	if imagePath != "" {
		resp, err = session.PostImage(ctx, &types.ImagePostRequest{PostRequest: req, ImagePath: imagePath, AltText: altText})
	} else {
		resp, err = session.PostText(ctx, &req)
	}
	if err != nil {
		return describe(err)
	}

	fmt.Println(resp.URI)
	return nil
}

// describe adds a hint for the failures a user can act on.
func describe(err error) error {
	var (
		authErr   *pkgerrs.AuthError
		configErr *pkgerrs.ConfigError
		tooLarge  *pkgerrs.ImageTooLargeError
		apiErr    *pkgerrs.APIError
	)
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("%w (check the handle and app password)", err)
	case errors.As(err, &configErr):
		return fmt.Errorf("invalid input: %w", err)
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w (try a smaller image)", err)
	case errors.As(err, &apiErr):
		return fmt.Errorf("server rejected the post: %w", err)
	}
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bsky-post publishes a post to Bluesky.

Usage:
  BSKY_APP_PASSWORD=... bsky-post --handle alice.bsky.social [flags] text...

Flags:
%s`, flagSet.FlagUsages())
}
