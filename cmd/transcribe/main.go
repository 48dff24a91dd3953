// Package main provides a one-shot command that transcribes a single
// recording. Progress goes to stderr, the transcript to stdout.
//
// Usage:
//
//	transcribe [-locale ko-KR] [-no-fallback] <path or s3://bucket/key>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/meetnote-api/internal/bootstrap"
	"github.com/maauso/meetnote-api/internal/config"
	"github.com/maauso/meetnote-api/internal/failure"
	"github.com/maauso/meetnote-api/internal/scheduler"
	"github.com/maauso/meetnote-api/internal/transcribe"
)

func main() {
	os.Exit(run())
}

func run() int {
	locale := flag.String("locale", "", "recognition locale (default from DEFAULT_LOCALE)")
	noFallback := flag.Bool("no-fallback", false, "do not retry failed on-device segments online")
	quiet := flag.Bool("quiet", false, "do not print progress")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <path or s3://bucket/key>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize dependencies: %v\n", err)
		return 1
	}
	defer func() { _ = deps.Close() }()

	req := transcribe.Request{Source: flag.Arg(0), Locale: *locale}
	if *noFallback {
		allow := false
		req.AllowOnlineFallback = &allow
	}

	var onProgress transcribe.ProgressFunc
	if !*quiet {
		onProgress = func(p scheduler.Progress) {
			fmt.Fprintf(os.Stderr, "\rrecognized %d/%d segments (%.0f%%)", p.Completed, p.Total, p.Percentage()*100)
		}
	}

	result, err := deps.Transcriber.Transcribe(ctx, req, onProgress)
	if !*quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, failure.ErrCancelled) {
			return 130
		}
		return 1
	}

	fmt.Println(result.Transcript)
	return 0
}
