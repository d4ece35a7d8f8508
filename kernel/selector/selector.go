// Package selector bounds which tools are advertised to the model each turn.
package selector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

// Strategy names one selection behavior.
type Strategy string

const (
	// StrategyAll passes every registered tool through unchanged.
	StrategyAll Strategy = "all"
	// StrategyRanked scores tools against recent conversation content and
	// keeps the top-K, plus any tool referenced by an unresolved request.
	StrategyRanked Strategy = "ranked"
)

const (
	defaultTopK       = 10
	recentMessageSpan = 4
	maxQueryTerms     = 64
)

// Config configures a Selector.
type Config struct {
	Strategy Strategy
	// TopK bounds the ranked result size. <=0 uses the default.
	TopK int
}

// Selector chooses the tool subset for one model turn. Strategy and the
// cached ranking index are swapped atomically: a Select call in flight
// observes either the old or the new state, never a mix.
type Selector struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	strategy Strategy
	topK     int
	index    *rankIndex
}

type rankIndex struct {
	tools  []extension.Tool
	corpus []string
}

// New creates a selector.
func New(cfg Config) (*Selector, error) {
	switch cfg.Strategy {
	case StrategyAll, StrategyRanked:
	case "":
		cfg.Strategy = StrategyAll
	default:
		return nil, fmt.Errorf("selector: unknown strategy %q", cfg.Strategy)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	return &Selector{state: &state{strategy: cfg.Strategy, topK: cfg.TopK}}, nil
}

// Strategy returns the current strategy.
func (s *Selector) Strategy() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.strategy
}

// UpdateStrategy swaps the strategy. With rebuildIndex set the cached
// ranking index is dropped and rebuilt from the given tool set; otherwise
// the existing index is kept for the tools it already covers.
func (s *Selector) UpdateStrategy(strategy Strategy, rebuildIndex bool, tools []extension.Tool) error {
	switch strategy {
	case StrategyAll, StrategyRanked:
	default:
		return fmt.Errorf("selector: unknown strategy %q", strategy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := &state{strategy: strategy, topK: s.state.topK, index: s.state.index}
	if rebuildIndex {
		next.index = buildIndex(tools)
	}
	s.state = next
	return nil
}

// Select returns the tools to advertise this turn. A tool referenced by an
// unresolved request in the conversation is never dropped.
func (s *Selector) Select(all []extension.Tool, convo *message.Conversation) []extension.Tool {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()

	if snapshot.strategy == StrategyAll || len(all) <= snapshot.topK {
		return append([]extension.Tool(nil), all...)
	}

	index := snapshot.index
	if index == nil || !index.covers(all) {
		index = buildIndex(all)
	}

	scores := index.score(queryTerms(convo))
	order := make([]int, len(index.tools))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return index.tools[order[a]].Name < index.tools[order[b]].Name
	})

	keep := map[string]struct{}{}
	out := make([]extension.Tool, 0, snapshot.topK)
	for _, i := range order {
		if len(out) >= snapshot.topK {
			break
		}
		out = append(out, index.tools[i])
		keep[index.tools[i].Name] = struct{}{}
	}

	// Referenced-but-unresolved tools ride along even when ranked out,
	// otherwise the loop could receive a response it cannot route.
	if convo != nil {
		referenced := map[string]struct{}{}
		for _, req := range convo.UnresolvedToolRequests() {
			if req.Call != nil {
				referenced[req.Call.Name] = struct{}{}
			}
		}
		for _, tool := range all {
			if _, ok := referenced[tool.Name]; !ok {
				continue
			}
			if _, already := keep[tool.Name]; already {
				continue
			}
			out = append(out, tool)
			keep[tool.Name] = struct{}{}
		}
	}
	return out
}

func buildIndex(tools []extension.Tool) *rankIndex {
	index := &rankIndex{
		tools:  append([]extension.Tool(nil), tools...),
		corpus: make([]string, 0, len(tools)),
	}
	for _, tool := range index.tools {
		index.corpus = append(index.corpus, strings.ToLower(tool.Name+" "+tool.Description))
	}
	return index
}

func (idx *rankIndex) covers(tools []extension.Tool) bool {
	if len(tools) != len(idx.tools) {
		return false
	}
	for i, tool := range tools {
		if idx.tools[i].Name != tool.Name {
			return false
		}
	}
	return true
}

// score accumulates fuzzy-match scores per tool across the query terms.
func (idx *rankIndex) score(terms []string) []int {
	scores := make([]int, len(idx.tools))
	for _, term := range terms {
		for _, match := range fuzzy.Find(term, idx.corpus) {
			if match.Score > 0 {
				scores[match.Index] += match.Score
			}
		}
	}
	return scores
}

// queryTerms extracts ranking terms from the tail of the conversation.
func queryTerms(convo *message.Conversation) []string {
	if convo == nil {
		return nil
	}
	messages := convo.Messages()
	start := len(messages) - recentMessageSpan
	if start < 0 {
		start = 0
	}
	seen := map[string]struct{}{}
	terms := make([]string, 0, maxQueryTerms)
	for _, m := range messages[start:] {
		for _, word := range strings.Fields(strings.ToLower(m.ConcatText())) {
			word = strings.Trim(word, ".,;:!?\"'()[]{}")
			if len(word) < 3 {
				continue
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			terms = append(terms, word)
			if len(terms) >= maxQueryTerms {
				return terms
			}
		}
	}
	return terms
}
