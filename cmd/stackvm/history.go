package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/stackvm/config"
	"github.com/chazu/stackvm/store"
)

// printLocalHistory lists recent submissions from the configured database.
func printLocalHistory(ctx context.Context, cfg *config.Config, limit int) error {
	hist, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if hist == nil {
		return fmt.Errorf("history is disabled (store.path is empty)")
	}
	defer hist.Close()

	subs, err := hist.Recent(ctx, limit)
	if err != nil {
		return err
	}
	total, err := hist.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d submissions in %s\n", len(subs), total, hist.Path())
	for _, sub := range subs {
		printSubmission(sub)
	}
	return nil
}

// printLocalSubmission shows one recorded submission with its source.
func printLocalSubmission(ctx context.Context, cfg *config.Config, id string) error {
	hist, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if hist == nil {
		return fmt.Errorf("history is disabled (store.path is empty)")
	}
	defer hist.Close()

	sub, err := hist.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	printSubmission(*sub)
	fmt.Println()
	fmt.Print(sub.Source)
	if !strings.HasSuffix(sub.Source, "\n") {
		fmt.Println()
	}
	return nil
}

func printSubmission(sub store.Submission) {
	outcome := sub.Result
	switch {
	case !sub.Success:
		outcome = sub.ErrorKind + " error: " + sub.ErrorMessage
	case !sub.HasValue:
		outcome = "None"
	}

	hash := sub.ProgramHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	if hash == "" {
		hash = strings.Repeat("-", 12)
	}

	fmt.Printf("%s  %s  %s  %-10s %s\n",
		sub.CreatedAt.Local().Format(time.DateTime), sub.ID, hash, sub.Elapsed.Round(time.Microsecond), outcome)
}
