package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/types"
)

var (
	sessionConversation string
	sessionPersona      string
)

const defaultPersona = `You are the narrator of an ongoing roleplay.
Stay consistent with the story context provided before each message.`

// sessionCmd runs an interactive roleplay loop: retrieve context, reply,
// ingest the turn, and fold extracted facts into the world state. The
// config file is watched while the session runs, so tunables can be
// adjusted without restarting.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Interactive roleplay session with persistent memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		watcher, err := config.NewWatcher(configPath, func(c *config.Config) {
			a.engine.UpdateTunables(c.Memory)
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer watcher.Stop()

		return runSession(ctx, a)
	},
}

func runSession(ctx context.Context, a *app) error {
	var (
		history []types.Message
		world   types.WorldState
	)

	fmt.Printf("session %s (/state, /stats, /quit)\n", sessionConversation)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit":
			return nil
		case "/state":
			printWorldState(world)
			continue
		case "/stats":
			stats, err := a.engine.Stats(ctx, sessionConversation)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Printf("facts=%d summaries=%d chunks=%d\n",
				stats["facts"], stats["summaries"], stats["chunks"])
			continue
		}

		turnStart := time.Now()
		history = append(history, types.Message{
			ID: uuid.NewString(), Role: "user", Content: input, Timestamp: turnStart,
		})

		reply, err := respond(ctx, a, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "llm error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		fmt.Println(reply)
		history = append(history, types.Message{
			ID: uuid.NewString(), Role: "assistant", Content: reply, Timestamp: time.Now(),
		})

		if err := a.engine.IngestTurn(ctx, sessionConversation, history[len(history)-2:], history, nil); err != nil {
			logging.Engine("turn ingest failed: %v", err)
			continue
		}
		world = foldWorldState(ctx, a, world, turnStart)
	}
}

// respond assembles the memory context and asks the LLM for the next
// narrative beat.
func respond(ctx context.Context, a *app, input string) (string, error) {
	sections, err := a.engine.RetrieveRelevantContext(ctx, input, sessionConversation, 0, nil)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, s := range sections {
		b.WriteString(s.Label)
		b.WriteString(":\n")
		b.WriteString(s.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(input)

	return a.llm.CompleteWithSystem(ctx, sessionPersona, b.String())
}

// foldWorldState derives state deltas from the facts this turn produced
// and applies them.
func foldWorldState(ctx context.Context, a *app, world types.WorldState, since time.Time) types.WorldState {
	factList, err := a.store.ListFacts(ctx, sessionConversation)
	if err != nil {
		logging.Engine("world-state refresh failed: %v", err)
		return world
	}
	var fresh []types.Fact
	for _, f := range factList {
		if !f.Timestamp.Before(since) {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		return world
	}

	upd := a.engine.DeriveWorldStateUpdates(fresh, world)
	next := a.engine.ApplyWorldStateUpdate(world, upd)
	if next == nil {
		return world
	}
	return *next
}

func printWorldState(w types.WorldState) {
	fmt.Printf("location: %s\n", orDash(w.Location))
	fmt.Printf("inventory: %s\n", orDash(strings.Join(w.Inventory, ", ")))
	if len(w.Relationships) == 0 {
		fmt.Println("relationships: -")
		return
	}
	fmt.Println("relationships:")
	for name, standing := range w.Relationships {
		fmt.Printf("  %-20s %+d\n", name, standing)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	sessionCmd.Flags().StringVar(&sessionConversation, "conversation", "", "Conversation id (required)")
	sessionCmd.Flags().StringVar(&sessionPersona, "persona", defaultPersona, "System prompt for the narrator")
	sessionCmd.MarkFlagRequired("conversation")
}
