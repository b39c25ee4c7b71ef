// Package promptbuilder assembles the agent's system prompt from static
// workspace files, a skills snapshot, environment info, and the memory
// store's prompt projection, with an optional fsnotify watch that
// invalidates the cached assembly when workspace files change. Dynamic
// values are left as {{SESSION_ID}}/{{WORKING_DIR}} placeholders.
package promptbuilder

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/agentengine/internal/cachetier"
)

// staticFiles lists the workspace files concatenated into the prompt, in
// order.
var staticFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "AGENTS.md"}

// MemoryProvider is the slice of internal/memstore.Store the prompt
// builder depends on, kept as an interface so this package never imports
// memstore directly and can be tested with a fake.
type MemoryProvider interface {
	ReadMemory() string
	GetDailyContext(numDays int) string
}

// Config configures a Builder.
type Config struct {
	WorkspaceDir string // holds SOUL.md, IDENTITY.md, USER.md, AGENTS.md
	SkillsDir    string // holds one subdirectory per skill, each with SKILL.md
	UserDataDir  string
	SourceDir    string // read-only install/source directory
	DailyContextDays int // defaults to 3

	MemoryMaxPromptTokens int // defaults to 4000; bounds the MEMORY section to *4 characters

	Cache *cachetier.PromptCache // optional; nil disables caching
	Watch bool                   // optional; starts an fsnotify watch on WorkspaceDir/SkillsDir

	Logger *slog.Logger
}

// Builder assembles and caches the system prompt.
type Builder struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dirty    bool // set by the fsnotify watch to force a rebuild on next Build
}

// New constructs a Builder. When cfg.Watch is set, it starts (and owns) an
// fsnotify watcher over the workspace and skills directories; call Close
// to stop it.
func New(cfg Config) (*Builder, error) {
	if cfg.DailyContextDays <= 0 {
		cfg.DailyContextDays = 3
	}
	if cfg.MemoryMaxPromptTokens <= 0 {
		cfg.MemoryMaxPromptTokens = 4000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{cfg: cfg, logger: logger.With("component", "promptbuilder")}

	if cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("promptbuilder: new watcher: %w", err)
		}
		for _, dir := range []string{cfg.WorkspaceDir, cfg.SkillsDir} {
			if dir == "" {
				continue
			}
			if err := w.Add(dir); err != nil {
				b.logger.Warn("failed to watch directory", "dir", dir, "error", err)
			}
		}
		b.watcher = w
		go b.watchLoop()
	}

	return b, nil
}

func (b *Builder) watchLoop() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				b.mu.Lock()
				b.dirty = true
				b.mu.Unlock()
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("fsnotify watch error", "error", err)
		}
	}
}

// Close stops the fsnotify watch, if one was started.
func (b *Builder) Close() error {
	if b.watcher == nil {
		return nil
	}
	return b.watcher.Close()
}

// sourceFiles returns the absolute paths that feed the prompt, for the
// mtime fingerprint key.
func (b *Builder) sourceFiles() []string {
	var paths []string
	for _, name := range staticFiles {
		paths = append(paths, joinNonEmpty(b.cfg.WorkspaceDir, name))
	}
	return paths
}

func joinNonEmpty(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Build assembles the full system prompt, consulting the configured
// PromptCache first unless the fsnotify watch has marked the workspace
// dirty since the last build. mem may be nil, in which case the MEMORY
// section is omitted entirely.
func (b *Builder) Build(sessionFingerprint string, mem MemoryProvider) (string, error) {
	b.mu.Lock()
	forceRebuild := b.dirty
	b.dirty = false
	b.mu.Unlock()

	var fingerprint string
	if b.cfg.Cache != nil {
		files := cachetier.StatFiles(b.sourceFiles())
		fingerprint = cachetier.Fingerprint(files) + "|" + sessionFingerprint
		if !forceRebuild {
			if cached, ok := b.cfg.Cache.Get(fingerprint); ok {
				return cached, nil
			}
		}
	}

	prompt, err := b.assemble(mem)
	if err != nil {
		return "", err
	}

	if b.cfg.Cache != nil {
		if err := b.cfg.Cache.Set(fingerprint, prompt, 0); err != nil {
			b.logger.Warn("failed to persist prompt cache entry", "error", err)
		}
	}
	return prompt, nil
}

func (b *Builder) assemble(mem MemoryProvider) (string, error) {
	var sections []string

	skills, err := DiscoverSkills(b.cfg.SkillsDir)
	if err != nil {
		b.logger.Warn("skill discovery failed", "error", err)
	}
	sections = append(sections, RenderSkillsSnapshot(skills))

	for _, name := range staticFiles {
		content, err := readWorkspaceFile(joinNonEmpty(b.cfg.WorkspaceDir, name))
		if err != nil {
			b.logger.Warn("failed to read workspace file", "file", name, "error", err)
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		sections = append(sections, content)
	}

	sections = append(sections, b.workspaceInfo())

	if mem != nil {
		sections = append(sections, b.memorySection(mem))
	}

	return strings.Join(sections, "\n\n"), nil
}

func (b *Builder) workspaceInfo() string {
	var sb strings.Builder
	sb.WriteString("<workspace-info>\n")
	fmt.Fprintf(&sb, "  <os>%s/%s</os>\n", runtime.GOOS, runtime.GOARCH)
	sb.WriteString("  <session-id>{{SESSION_ID}}</session-id>\n")
	sb.WriteString("  <working-dir>{{WORKING_DIR}}</working-dir>\n")
	fmt.Fprintf(&sb, "  <user-data-dir>%s</user-data-dir>\n", b.cfg.UserDataDir)
	fmt.Fprintf(&sb, "  <source-dir>%s</source-dir>\n", b.cfg.SourceDir)
	sb.WriteString("</workspace-info>")
	return sb.String()
}

func (b *Builder) memorySection(mem MemoryProvider) string {
	var sb strings.Builder
	sb.WriteString("<!-- MEMORY -->\n")
	sb.WriteString(mem.ReadMemory())
	if ctx := mem.GetDailyContext(b.cfg.DailyContextDays); ctx != "" {
		sb.WriteString("\n\n")
		sb.WriteString(ctx)
	}
	sb.WriteString("\n<!-- /MEMORY -->")

	maxChars := b.cfg.MemoryMaxPromptTokens * 4
	out := sb.String()
	if len(out) > maxChars {
		out = out[:maxChars] + "..."
	}
	return out
}

// SubstitutePlaceholders replaces {{SESSION_ID}} and {{WORKING_DIR}} in a
// built prompt, matching the Runner's per-request substitution step.
func SubstitutePlaceholders(prompt, sessionID, workingDir string) string {
	r := strings.NewReplacer("{{SESSION_ID}}", sessionID, "{{WORKING_DIR}}", workingDir)
	return r.Replace(prompt)
}
