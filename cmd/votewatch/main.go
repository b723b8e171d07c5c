// Command votewatch audits a validator's voting behavior: it walks a
// descending slot range, finds vote transactions from the target
// account, and decodes which slot each one actually voted for.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/solwatch/votewatch/internal/config"
	"github.com/solwatch/votewatch/internal/leader"
	"github.com/solwatch/votewatch/internal/retry"
	"github.com/solwatch/votewatch/internal/rpc"
	"github.com/solwatch/votewatch/internal/scanner"
	"github.com/solwatch/votewatch/internal/utils/logger"
)

func main() {
	logger.Init()

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("run aborted")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "votewatch",
		Short:        "Check vote transactions by slot and account",
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().String("url", "", "RPC endpoint URL")
	cmd.Flags().String("account", "", "target voting account identity")
	cmd.Flags().Uint64("slot", 0, "start slot")
	cmd.Flags().Uint64("distance", 0, "number of preceding slots to also scan")

	viper.SetEnvPrefix("VOTEWATCH")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		log.Fatal().Err(err).Msg("failed to bind flags")
	}

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading environment configuration")
	}

	url := viper.GetString("url")
	account := viper.GetString("account")
	slot := viper.GetUint64("slot")
	distance := viper.GetUint64("distance")
	if url == "" {
		return errors.New("--url is required")
	}
	if account == "" {
		return errors.New("--account is required")
	}

	log.Info().Uint64("slot", slot).Uint64("distance", distance).Str("account", account).
		Msg("starting vote scan")

	client := rpc.New(url, cfg.RequestTimeout)
	policy := retry.Policy{BaseDelay: cfg.RetryBaseDelay, MaxAttempts: cfg.MaxAttempts}

	// Without leader context the report is not worth emitting, so a
	// schedule that stays unobtainable past the retry budget aborts the
	// run before any scanning starts.
	leaders, err := leader.Resolve(client, policy, slot)
	if err != nil {
		return errors.Wrap(err, "could not fetch leader schedule (rate limited or RPC error)")
	}

	span := distance
	if span > slot {
		span = slot
	}
	bar := progressbar.NewOptions64(
		int64(span+1),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Scanning slots..."),
		progressbar.OptionShowCount(),
	)

	sink := &consoleSink{out: cmd.OutOrStdout(), bar: bar}
	s := &scanner.Scanner{
		Client:    client,
		Leaders:   leaders,
		Policy:    policy,
		Account:   account,
		Sink:      sink,
		JitterMin: cfg.JitterMin,
		JitterMax: cfg.JitterMax,
	}

	summary := s.Run(slot, distance)
	_ = bar.Finish()

	printSummary(cmd.OutOrStdout(), summary)
	log.Info().Msg("all done")
	return nil
}

// consoleSink renders records as appendable lines on stdout. Slot-level
// progress advances the bar; diagnostics stay on the stderr logger.
type consoleSink struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	started bool
	last    uint64
}

func (c *consoleSink) Emit(r scanner.Record) {
	if !c.started || r.Slot != c.last {
		c.started = true
		c.last = r.Slot
		_ = c.bar.Add(1)
	}

	switch r.Kind {
	case scanner.KindVote:
		fmt.Fprintf(c.out, "\nSlot: %-10d Votes: %-6d Leader: %s\n", r.Slot, r.VoteCount, r.Leader)
		fmt.Fprintf(c.out, "Signature:  %s\n", r.Signature)
		switch {
		case r.Err != "":
			fmt.Fprintf(c.out, "Voted slot: [error] %s\n", r.Err)
		case r.VotedSlot != nil:
			fmt.Fprintf(c.out, "Voted slot: %d\n", *r.VotedSlot)
		default:
			fmt.Fprintf(c.out, "Voted slot: [unknown]\n")
		}
		fmt.Fprintf(c.out, "Position:   %d\n", r.Position)
	case scanner.KindNoVote:
		fmt.Fprintf(c.out, "\nSlot: %-10d Votes: %-6d [X] Leader: %s\n", r.Slot, r.VoteCount, r.Leader)
	case scanner.KindBlockMissing:
		fmt.Fprintf(c.out, "\nError: no block found for %d\n", r.Slot)
	case scanner.KindBlockError:
		fmt.Fprintf(c.out, "\nError: failed to fetch block %d: %s\n", r.Slot, r.Err)
	}
}

func printSummary(w io.Writer, s scanner.Summary) {
	fmt.Fprintf(w, "\nScanned %d slots: %d votes matched, %d slots recovered, %d blocks missing\n",
		s.SlotsScanned, s.VotesMatched, s.SlotsRecovered, s.BlocksMissing)
	if s.SlotsRecovered > 0 {
		fmt.Fprintf(w, "Vote lag: mean %.2f slots, stddev %.2f\n", s.MeanLag, s.StdDevLag)
	}
}
