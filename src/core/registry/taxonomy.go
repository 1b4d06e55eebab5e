package registry

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pbtc21/x402-registry/src/core/logger"
)

// TaxonomyEntry binds a canonical capability tag to its keyword phrases.
// Entry order is significant: inference emits tags in taxonomy order, which
// keeps downstream selection deterministic.
type TaxonomyEntry struct {
	Tag         string   `yaml:"tag"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// Taxonomy maps free-text tasks to capability tags by keyword matching.
// The keyword table is tunable policy, not an invariant.
type Taxonomy struct {
	mu      sync.RWMutex
	entries []TaxonomyEntry
}

// GeneralCapability is the fallback tag when no keyword matches.
const GeneralCapability = "general"

// defaultTaxonomy is the built-in capability table, used when no taxonomy
// file is configured.
var defaultTaxonomy = []TaxonomyEntry{
	{Tag: "summarize", Description: "Condense documents or text into summaries",
		Keywords: []string{"summarize", "summary", "tl;dr", "condense", "abstract"}},
	{Tag: "translate", Description: "Translate text between languages",
		Keywords: []string{"translate", "translation", "language"}},
	{Tag: "code-generation", Description: "Generate or review source code",
		Keywords: []string{"code", "program", "script", "function", "refactor"}},
	{Tag: "data-analysis", Description: "Analyze datasets and produce insights",
		Keywords: []string{"analyze", "analysis", "dataset", "statistics", "chart"}},
	{Tag: "image-generation", Description: "Generate or edit images",
		Keywords: []string{"image", "picture", "draw", "render", "logo"}},
	{Tag: "web-search", Description: "Search the web and collect sources",
		Keywords: []string{"search", "find", "lookup", "research"}},
	{Tag: "blockchain-query", Description: "Query on-chain state and transactions",
		Keywords: []string{"blockchain", "transaction", "wallet", "balance", "on-chain", "token price"}},
	{Tag: "notification", Description: "Deliver notifications to external channels",
		Keywords: []string{"notify", "alert", "email", "message", "remind"}},
	{Tag: GeneralCapability, Description: "General-purpose task handling",
		Keywords: []string{}},
}

// NewTaxonomy returns a taxonomy seeded with the built-in table.
func NewTaxonomy() *Taxonomy {
	entries := make([]TaxonomyEntry, len(defaultTaxonomy))
	copy(entries, defaultTaxonomy)
	return &Taxonomy{entries: entries}
}

// LoadTaxonomy reads a taxonomy from a yaml file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	t := NewTaxonomy()
	if err := t.loadFile(path); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Taxonomy) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read taxonomy file: %w", err)
	}

	var doc struct {
		Capabilities []TaxonomyEntry `yaml:"capabilities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse taxonomy file: %w", err)
	}
	if len(doc.Capabilities) == 0 {
		return fmt.Errorf("taxonomy file %s defines no capabilities", path)
	}

	for i, entry := range doc.Capabilities {
		if strings.TrimSpace(entry.Tag) == "" {
			return fmt.Errorf("taxonomy entry %d has no tag", i)
		}
	}

	t.mu.Lock()
	t.entries = doc.Capabilities
	t.mu.Unlock()
	return nil
}

// Infer maps a free-text task to capability tags. Best-effort keyword
// heuristic: total, never fails, always returns at least one tag.
func (t *Taxonomy) Infer(task string) []string {
	lowered := strings.ToLower(task)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var tags []string
	for _, entry := range t.entries {
		for _, keyword := range entry.Keywords {
			if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
				tags = append(tags, entry.Tag)
				break
			}
		}
	}

	if len(tags) == 0 {
		return []string{GeneralCapability}
	}
	return tags
}

// Describe returns the human description for a capability tag.
func (t *Taxonomy) Describe(tag string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, entry := range t.entries {
		if entry.Tag == tag {
			return entry.Description
		}
	}
	return ""
}

// Tags returns all known capability tags in taxonomy order.
func (t *Taxonomy) Tags() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tags := make([]string, 0, len(t.entries))
	for _, entry := range t.entries {
		tags = append(tags, entry.Tag)
	}
	return tags
}

// Watch reloads the taxonomy whenever the file changes. It returns a stop
// function; a reload that fails to parse keeps the previous table.
func (t *Taxonomy) Watch(path string, log *logger.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create taxonomy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch taxonomy file: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.loadFile(path); err != nil {
					if log != nil {
						log.Warning("Taxonomy reload failed, keeping previous table: %v", err)
					}
					continue
				}
				if log != nil {
					log.Info("Taxonomy reloaded from %s (%d capabilities)", path, len(t.Tags()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if log != nil {
					log.Warning("Taxonomy watcher error: %v", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
