package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	retrieveConversation string
	retrieveBudget       int
	retrieveActive       []string

	summaryConversation string
	summaryMaxTokens    int

	hierarchyConversation string

	statsConversation string
)

// retrieveCmd assembles the context sections for a query.
var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Assemble token-budgeted context for a query",
	Long: `Embeds the query, scores the conversation's facts and indexed
scenes against it, and prints the context sections that fit the budget
in injection order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		sections, err := a.engine.RetrieveRelevantContext(ctx, query,
			retrieveConversation, retrieveBudget, retrieveActive)
		if err != nil {
			return err
		}
		if len(sections) == 0 {
			fmt.Println("no relevant context")
			return nil
		}
		for _, s := range sections {
			header := fmt.Sprintf("== %s [%s, %d tokens", s.Label, s.Type, s.TokenCost)
			if s.Confidence != nil {
				header += fmt.Sprintf(", confidence %.2f", *s.Confidence)
			}
			fmt.Println(header + "] ==")
			fmt.Println(s.Content)
			fmt.Println()
		}
		return nil
	},
}

// summaryCmd prints the best summary cover for a token budget.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the best summary of the conversation so far",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		text, err := a.engine.GetBestContextSummary(ctx, summaryConversation, summaryMaxTokens)
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Println("no summaries yet")
			return nil
		}
		fmt.Println(text)
		return nil
	},
}

// hierarchyCmd prints the summary pyramid.
var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy",
	Short: "Show the conversation's summary pyramid",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.engine.GetSummaryHierarchy(ctx, hierarchyConversation)
		if err != nil {
			return err
		}
		fmt.Printf("L2: %d\nL1: %d\nL0: %d\n", len(h.L2), len(h.L1), len(h.L0))
		for _, s := range h.L2 {
			fmt.Printf("  L2 %s  messages %d-%d  children %d\n",
				s.ID, s.MessageRange[0], s.MessageRange[1], len(s.ChildIDs))
		}
		for _, s := range h.L1 {
			fmt.Printf("  L1 %s  messages %d-%d  children %d\n",
				s.ID, s.MessageRange[0], s.MessageRange[1], len(s.ChildIDs))
		}
		for _, s := range h.L0 {
			fmt.Printf("  L0 %s  messages %d-%d\n",
				s.ID, s.MessageRange[0], s.MessageRange[1])
		}
		return nil
	},
}

// statsCmd prints record counts for a conversation.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory record counts for a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.engine.Stats(ctx, statsConversation)
		if err != nil {
			return err
		}
		for _, key := range []string{"facts", "superseded", "summaries", "chunks"} {
			fmt.Printf("%-12s %d\n", key, stats[key])
		}
		return nil
	},
}

func init() {
	retrieveCmd.Flags().StringVar(&retrieveConversation, "conversation", "", "Conversation id (required)")
	retrieveCmd.Flags().IntVar(&retrieveBudget, "budget", 0, "Token budget (0 uses the configured default)")
	retrieveCmd.Flags().StringSliceVar(&retrieveActive, "active", nil, "Active branch message ids for scoping")
	retrieveCmd.MarkFlagRequired("conversation")

	summaryCmd.Flags().StringVar(&summaryConversation, "conversation", "", "Conversation id (required)")
	summaryCmd.Flags().IntVar(&summaryMaxTokens, "max-tokens", 600, "Summary token budget")
	summaryCmd.MarkFlagRequired("conversation")

	hierarchyCmd.Flags().StringVar(&hierarchyConversation, "conversation", "", "Conversation id (required)")
	hierarchyCmd.MarkFlagRequired("conversation")

	statsCmd.Flags().StringVar(&statsConversation, "conversation", "", "Conversation id (required)")
	statsCmd.MarkFlagRequired("conversation")
}
