package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/agentengine/internal/cachetier"
	"github.com/haasonsaas/agentengine/internal/gate"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/middleware"
	"github.com/haasonsaas/agentengine/internal/reflection"
	"github.com/haasonsaas/agentengine/internal/runner"
	"github.com/haasonsaas/agentengine/internal/streamadapter"
	"github.com/haasonsaas/agentengine/internal/types"
)

func newRunCmd() *cobra.Command {
	var (
		sessionID   string
		reflect     bool
		graphConfig string
	)
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one agent turn and stream its events as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if graphConfig != "" {
				cfg.GraphConfig = graphConfig
			}

			var svc *services
			svc, err = buildServices(ctx, cfg, func(ev gate.Event) {
				resolveToolApproval(svc, ev)
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			if sessionID == "" {
				sessionID = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			}

			recording := &sessionRecorder{sessionID: sessionID}
			r := runner.New(runner.Config{
				Registry:       svc.registry,
				GraphBuilder:   svc.graphs,
				PromptBuilder:  svc.prompts,
				Pool:           svc.pool,
				ConfigSrc:      graphConfigSource{path: cfg.GraphConfig},
				Memory:         svc.store,
				ReplyCache:     replyCache(svc, cfg),
				Reflector:      reflection.New(svc.store, svc.pool, recording, svc.logger),
				ImplicitRecall: cfg.ImplicitRecall,
				Logger:         svc.logger,
			})

			rc := &runner.RunContext{
				SessionID:  sessionID,
				WorkingDir: filepath.Join(cfg.DataRoot, "tmp", sessionID),
				Stream:     true,
				Reflect:    reflect,
			}
			mws := []runner.Middleware{
				recording,
				middleware.NewDebugMiddleware(parseDebugLevel(cfg.DebugLevel), sessionFileStore{root: filepath.Join(cfg.DataRoot, "sessions")}),
			}

			out := json.NewEncoder(os.Stdout)
			for ev, err := range r.Run(ctx, args[0], nil, rc, mws) {
				if err != nil {
					return err
				}
				if encErr := out.Encode(ev); encErr != nil {
					return encErr
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when omitted)")
	cmd.Flags().BoolVar(&reflect, "reflect", false, "run session reflection after the turn")
	cmd.Flags().StringVar(&graphConfig, "graph-config", "", "path to a graph YAML overriding the config file's")
	return cmd
}

// resolveToolApproval prompts on the terminal for a suspended tool call.
// Without a terminal, the request is left to the gate's timeout-deny.
func resolveToolApproval(svc *services, ev gate.Event) {
	payload, _ := json.Marshal(map[string]any{
		"type":       "approval_request",
		"request_id": ev.Request.RequestID,
		"tool":       ev.Request.ToolName,
		"input":      ev.Request.ToolInput,
		"risk_level": ev.Request.RiskLevel,
	})
	fmt.Fprintln(os.Stderr, string(payload))

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	fmt.Fprintf(os.Stderr, "approve %s(%s)? [y]es/[n]o/[i]nstruct: ", ev.Request.ToolName, ev.Request.ToolInput)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		_ = svc.gate.ResolveApproval(ev.Request.RequestID, gate.ActionApprove, "")
	case "i", "instruct":
		fmt.Fprint(os.Stderr, "feedback: ")
		feedback, _ := reader.ReadString('\n')
		_ = svc.gate.ResolveApproval(ev.Request.RequestID, gate.ActionInstruct, strings.TrimSpace(feedback))
	default:
		_ = svc.gate.ResolveApproval(ev.Request.RequestID, gate.ActionDeny, "")
	}
}

func replyCache(svc *services, cfg fileConfig) *cachetier.LLMReplyCache {
	if !cfg.Cache.ReplyCache {
		return nil
	}
	return cachetier.NewLLMReplyCache(svc.llmTier, true)
}

func parseDebugLevel(s string) middleware.DebugLevel {
	switch strings.ToLower(s) {
	case "off":
		return middleware.DebugOff
	case "basic":
		return middleware.DebugBasic
	case "full":
		return middleware.DebugFull
	default:
		return middleware.DebugStandard
	}
}

// sessionFileStore persists debug call records under
// <data>/sessions/<id>/debug.json, standing in for the out-of-scope
// session-persistence collaborator.
type sessionFileStore struct {
	root string
}

func (s sessionFileStore) SaveDebugCalls(sessionID string, calls []middleware.CallRecord) error {
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(calls, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "debug.json"), data, 0o644)
}

// sessionRecorder captures the run's transcript for reflection: it is both
// a runner.Middleware (observing the event stream) and a
// reflection.SessionSource (replaying what it saw).
type sessionRecorder struct {
	sessionID string

	mu        sync.Mutex
	assistant strings.Builder
	messages  []types.Message
	toolCalls []reflection.ToolCallSummary
	lastInput string
}

func (s *sessionRecorder) OnRunStart(ctx context.Context, rc *runner.RunContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, types.Message{Role: types.RoleUser, Content: rc.Message})
}

func (s *sessionRecorder) OnEvent(ctx context.Context, ev streamadapter.Event, rc *runner.RunContext) (streamadapter.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case streamadapter.TokenEvent:
		s.assistant.WriteString(e.Content)
	case streamadapter.ToolStartEvent:
		s.lastInput = e.Input
	case streamadapter.ToolEndEvent:
		s.toolCalls = append(s.toolCalls, reflection.ToolCallSummary{
			Tool:    e.Tool,
			Input:   s.lastInput,
			Result:  e.Output,
			IsError: strings.HasPrefix(e.Output, "[ERROR]") || strings.HasPrefix(e.Output, "⛔"),
		})
	}
	return ev, true
}

func (s *sessionRecorder) OnRunEnd(ctx context.Context, rc *runner.RunContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assistant.Len() > 0 {
		s.messages = append(s.messages, types.Message{Role: types.RoleAssistant, Content: s.assistant.String()})
		s.assistant.Reset()
	}
}

func (s *sessionRecorder) Transcript(sessionID string) ([]types.Message, []reflection.ToolCallSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.messages...), append([]reflection.ToolCallSummary(nil), s.toolCalls...), nil
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Memory store maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Cluster and merge similar long-term memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildServices(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			client, err := svc.pool.Client(ctx, "llm")
			if err != nil {
				return err
			}
			var embedder llm.Embedder
			if e, eerr := svc.pool.Embedder("embedding"); eerr == nil {
				embedder = e
			}

			events := make(chan memstore.CompressionEvent)
			done := make(chan error, 1)
			go func() {
				done <- svc.store.Compress(ctx, client, embedder, events)
			}()
			enc := json.NewEncoder(os.Stdout)
			for ev := range events {
				_ = enc.Encode(map[string]string{"type": ev.Type, "message": ev.Message})
			}
			return <-done
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive",
		Short: "Summarise old daily logs and prune archived ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildServices(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			client, err := svc.pool.Client(ctx, "llm")
			if err != nil {
				return err
			}
			return svc.store.RunArchival(ctx, client, memstore.ArchivalConfig{
				ArchiveDays: cfg.Memory.ArchiveDays,
				DeleteDays:  cfg.Memory.DeleteDays,
			})
		},
	})

	return cmd
}

func newTranslateCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text via the translate model scenario (cached)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildServices(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			cache := cachetier.NewTranslateCache(svc.translateTier)
			if cached, ok := cache.Get(args[0], target); ok {
				fmt.Println(cached)
				return nil
			}

			client, err := svc.pool.Client(ctx, "translate")
			if err != nil {
				return err
			}
			text, _, _, err := client.Complete(ctx, []llm.ChatMessage{
				{Role: "system", Content: "Translate the user's text to " + target + ". Reply with the translation only."},
				{Role: "user", Content: args[0]},
			}, nil)
			if err != nil {
				return err
			}
			_ = cache.Set(args[0], target, text, 7*24*time.Hour)
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "English", "target language")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache tier maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [type]",
		Short: "Clear one cache type (url, llm, prompt, translate) or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildServices(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			tiers := map[string]*cachetier.Tier{
				"url":       svc.urlTier,
				"llm":       svc.llmTier,
				"prompt":    svc.promptTier,
				"translate": svc.translateTier,
			}
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			total := 0
			for name, t := range tiers {
				if which != "all" && which != name {
					continue
				}
				n, err := t.Clear()
				if err != nil {
					return fmt.Errorf("clear %s cache: %w", name, err)
				}
				total += n
			}
			fmt.Printf("cleared %d entries\n", total)
			return nil
		},
	})

	return cmd
}
