// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spine

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "this": true, "that": true, "it": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "or": true, "and": true, "but": true, "not": true, "so": true, "if": true,
}

var wordRE = regexp.MustCompile(`\w+`)

// Librarian is the cross-session memory manager: it layers a small read
// cache and an in-memory keyword index (rehydrated from the Ledger's
// durable `keywords` table at startup) over Ledger's Remember/Recall,
// grounded on hydra/librarian.py.
type Librarian struct {
	ledger *Ledger

	mu           sync.Mutex
	cache        map[string]interface{}
	cacheHits    int64
	cacheMisses  int64
	keywordIndex map[string][]string
}

// NewLibrarian builds a Librarian over ledger, loading the durable keyword
// index to seed the in-memory cache (spec §9: keywords table is the source
// of truth, the in-memory structure is a cache).
func NewLibrarian(ledger *Ledger) *Librarian {
	idx, err := ledger.LoadKeywords()
	if err != nil || idx == nil {
		idx = make(map[string][]string)
	}
	return &Librarian{
		ledger:       ledger,
		cache:        make(map[string]interface{}),
		keywordIndex: idx,
	}
}

// Remember stores a fact and updates the keyword index.
func (lib *Librarian) Remember(key string, value interface{}, category string, importance float64, keywords []string) error {
	if err := lib.ledger.Remember(key, value, category, importance); err != nil {
		return err
	}

	all := append([]string{}, keywords...)
	all = append(all, extractKeywords(key)...)
	switch v := value.(type) {
	case string:
		all = append(all, extractKeywords(v)...)
	default:
		if b, err := json.Marshal(v); err == nil {
			all = append(all, extractKeywords(string(b))...)
		}
	}

	lib.mu.Lock()
	seen := make(map[string]bool)
	for _, kw := range all {
		if seen[kw] {
			continue
		}
		seen[kw] = true
		present := false
		for _, k := range lib.keywordIndex[kw] {
			if k == key {
				present = true
				break
			}
		}
		if !present {
			lib.keywordIndex[kw] = append(lib.keywordIndex[kw], key)
			lib.ledger.SaveKeyword(kw, key)
		}
	}
	delete(lib.cache, key)
	lib.mu.Unlock()

	return nil
}

// Recall returns a fact by key, using the read cache first.
func (lib *Librarian) Recall(key string) (interface{}, bool) {
	lib.mu.Lock()
	if v, ok := lib.cache[key]; ok {
		lib.cacheHits++
		lib.mu.Unlock()
		return v, true
	}
	lib.cacheMisses++
	lib.mu.Unlock()

	value, found, err := lib.ledger.Recall(key)
	if err != nil || !found {
		return nil, false
	}

	lib.mu.Lock()
	lib.cache[key] = value
	lib.mu.Unlock()
	return value, true
}

// Forget logically forgets key by moving it to category "forgotten" with
// zero importance (no hard delete — spec: Memory Facts are never deleted).
func (lib *Librarian) Forget(key string) bool {
	value, ok := lib.Recall(key)
	if !ok {
		return false
	}
	lib.ledger.Remember(key, value, "forgotten", 0.0)
	lib.mu.Lock()
	delete(lib.cache, key)
	lib.mu.Unlock()
	return true
}

// MemoryQuery parameterizes Search.
type MemoryQuery struct {
	Keywords      []string
	Category      string
	MinImportance float64
	MaxAgeHours   int
	Limit         int
}

// MemoryResult is one scored search hit.
type MemoryResult struct {
	Key            string
	Value          interface{}
	Category       string
	Importance     float64
	RelevanceScore float64
	AccessCount    int64
	CreatedAt      string
}

// Search runs relevance-scored memory search: relevance = 0.4*keyword_overlap
// + 0.3*importance + 0.3*recency_decay, per the supplemented scoring formula
// adopted from hydra/librarian.py's _calculate_relevance (adapted into the
// documented weighted formula rather than copied verbatim), then multiplied
// by 1 + min(0.5, 0.05*access_count) and clamped to [0, 1].
func (lib *Librarian) Search(q MemoryQuery) []MemoryResult {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	pattern := ""
	if len(q.Keywords) > 0 {
		pattern = q.Keywords[0]
	}
	rows, err := lib.ledger.SearchMemory(pattern, q.Category, limit*2)
	if err != nil {
		return nil
	}

	now := time.Now().UTC()
	var out []MemoryResult
	for _, row := range rows {
		if row.Importance < q.MinImportance {
			continue
		}

		if q.MaxAgeHours > 0 {
			if created, err := time.Parse(time.RFC3339, row.CreatedAt); err == nil {
				if now.Sub(created) > time.Duration(q.MaxAgeHours)*time.Hour {
					continue
				}
			}
		}

		keywordOverlap := keywordOverlapScore(row.Key, row.Value, q.Keywords)
		recency := recencyDecay(row.CreatedAt, now)
		relevance := 0.4*keywordOverlap + 0.3*row.Importance + 0.3*recency
		relevance *= 1 + min(0.5, float64(row.AccessCount)*0.05)

		var v interface{}
		_ = json.Unmarshal([]byte(row.Value), &v)

		out = append(out, MemoryResult{
			Key:            row.Key,
			Value:          v,
			Category:       row.Category,
			Importance:     row.Importance,
			RelevanceScore: clamp01(relevance),
			AccessCount:    row.AccessCount,
			CreatedAt:      row.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func keywordOverlapScore(key, value string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0.5
	}
	text := strings.ToLower(key + " " + value)
	matches := 0
	exactKey := false
	for _, kw := range keywords {
		lk := strings.ToLower(kw)
		if strings.Contains(text, lk) {
			matches++
		}
		if lk == strings.ToLower(key) {
			exactKey = true
		}
	}
	score := float64(matches) / float64(len(keywords))
	if exactKey {
		score += 0.3
	}
	return clamp01(score)
}

func recencyDecay(createdAt string, now time.Time) float64 {
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return 0.5
	}
	ageHours := now.Sub(created).Hours()
	// Half-life of roughly 30 days; older facts decay toward 0 but never
	// fully vanish from search.
	return clamp01(1.0 / (1.0 + ageHours/720.0))
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func extractKeywords(text string) []string {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// WorkflowTemplate is a saved, reusable workflow definition (supplemented
// feature 3's sibling — workflow templates from hydra/librarian.py).
type WorkflowTemplate struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Phases      []Command `json:"phases"`
	Tags        []string  `json:"tags"`
}

// SaveWorkflowTemplate stores phases under "workflow:<name>".
func (lib *Librarian) SaveWorkflowTemplate(name, description string, phases []Command, tags []string) string {
	tmpl := WorkflowTemplate{Name: name, Description: description, Phases: phases, Tags: tags}
	key := "workflow:" + name
	lib.Remember(key, tmpl, "workflow", 0.8, nil)
	return key
}

// GetWorkflowTemplate retrieves a saved template by name.
func (lib *Librarian) GetWorkflowTemplate(name string) (WorkflowTemplate, bool) {
	v, ok := lib.Recall("workflow:" + name)
	if !ok {
		return WorkflowTemplate{}, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return WorkflowTemplate{}, false
	}
	var tmpl WorkflowTemplate
	if err := json.Unmarshal(b, &tmpl); err != nil {
		return WorkflowTemplate{}, false
	}
	return tmpl, true
}

// ListWorkflowTemplates lists saved template names.
func (lib *Librarian) ListWorkflowTemplates() []string {
	rows, err := lib.ledger.SearchMemory("workflow:", "workflow", 100)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, strings.TrimPrefix(r.Key, "workflow:"))
	}
	return out
}

// Stats reports cache hit-rate alongside the underlying Ledger's Stats.
type LibrarianStats struct {
	Stats
	CacheSize      int     `json:"cache_size"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	KeywordIndexSz int     `json:"keyword_index_size"`
}

func (lib *Librarian) Stats() (LibrarianStats, error) {
	base, err := lib.ledger.Stats()
	if err != nil {
		return LibrarianStats{}, err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()

	total := lib.cacheHits + lib.cacheMisses
	rate := 0.0
	if total > 0 {
		rate = float64(lib.cacheHits) / float64(total)
	}

	return LibrarianStats{
		Stats:          base,
		CacheSize:      len(lib.cache),
		CacheHits:      lib.cacheHits,
		CacheMisses:    lib.cacheMisses,
		CacheHitRate:   rate,
		KeywordIndexSz: len(lib.keywordIndex),
	}, nil
}
