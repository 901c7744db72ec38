package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ingestConversation string
	ingestTranscript   string
	ingestRecent       int
	ingestBranch       []string

	compactConversation string
	compactTranscript   string

	mergeConversation string

	reindexConversation string
)

// ingestCmd runs the full write path over a transcript file.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract facts from recent turns and compact the transcript",
	Long: `Reads a JSON transcript, extracts atomic facts from the last
--recent messages, merges near-duplicates, and runs one compaction pass
over the whole transcript.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := loadTranscript(ingestTranscript)
		if err != nil {
			return err
		}
		recent := all
		if ingestRecent > 0 && ingestRecent < len(all) {
			recent = all[len(all)-ingestRecent:]
		}
		if err := a.engine.IngestTurn(ctx, ingestConversation, recent, all, ingestBranch); err != nil {
			return err
		}

		stats, err := a.engine.Stats(ctx, ingestConversation)
		if err != nil {
			return err
		}
		fmt.Printf("ingested %d messages: %d facts, %d summaries, %d chunks\n",
			len(all), stats["facts"], stats["summaries"], stats["chunks"])
		return nil
	},
}

// compactCmd runs the summary scheduler without fact extraction.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run one compaction pass over a transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := loadTranscript(compactTranscript)
		if err != nil {
			return err
		}
		if err := a.engine.Compact(ctx, compactConversation, all); err != nil {
			return err
		}

		h, err := a.engine.GetSummaryHierarchy(ctx, compactConversation)
		if err != nil {
			return err
		}
		fmt.Printf("pyramid: %d L0, %d L1, %d L2\n", len(h.L0), len(h.L1), len(h.L2))
		return nil
	},
}

// mergeFactsCmd runs a manual dedup pass.
var mergeFactsCmd = &cobra.Command{
	Use:   "merge-facts",
	Short: "Merge near-duplicate facts in a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		merged, err := a.engine.MergeRelatedFacts(ctx, mergeConversation)
		if err != nil {
			return err
		}
		fmt.Printf("merged %d facts\n", merged)
		return nil
	},
}

// reindexCmd recomputes stored embeddings, e.g. after switching the
// embedding backend.
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute every stored embedding for a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.ReindexConversation(ctx, reindexConversation); err != nil {
			return err
		}
		fmt.Println("reindex complete")
		return nil
	},
}

// initConfigCmd writes the default config for editing.
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestConversation, "conversation", "", "Conversation id (required)")
	ingestCmd.Flags().StringVar(&ingestTranscript, "transcript", "", "Path to a JSON transcript (required)")
	ingestCmd.Flags().IntVar(&ingestRecent, "recent", 2, "Number of trailing messages to extract facts from")
	ingestCmd.Flags().StringSliceVar(&ingestBranch, "branch", nil, "Branch path message ids for the extracted facts")
	ingestCmd.MarkFlagRequired("conversation")
	ingestCmd.MarkFlagRequired("transcript")

	compactCmd.Flags().StringVar(&compactConversation, "conversation", "", "Conversation id (required)")
	compactCmd.Flags().StringVar(&compactTranscript, "transcript", "", "Path to a JSON transcript (required)")
	compactCmd.MarkFlagRequired("conversation")
	compactCmd.MarkFlagRequired("transcript")

	mergeFactsCmd.Flags().StringVar(&mergeConversation, "conversation", "", "Conversation id (required)")
	mergeFactsCmd.MarkFlagRequired("conversation")

	reindexCmd.Flags().StringVar(&reindexConversation, "conversation", "", "Conversation id (required)")
	reindexCmd.MarkFlagRequired("conversation")
}
