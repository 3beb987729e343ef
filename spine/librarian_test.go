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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	ledger, err := OpenLedger(path, "test-session")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestLibrarianRememberRecallRoundTrips(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))

	require.NoError(t, lib.Remember("user:pref:theme", "dark", "preferences", 0.6, []string{"theme", "ui"}))

	value, ok := lib.Recall("user:pref:theme")
	require.True(t, ok)
	require.Equal(t, "dark", value)
}

func TestLibrarianRecallCachesOnSecondLookup(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	require.NoError(t, lib.Remember("k", "v", "general", 0.5, nil))

	_, ok := lib.Recall("k")
	require.True(t, ok)
	require.EqualValues(t, 1, lib.cacheMisses)

	_, ok = lib.Recall("k")
	require.True(t, ok)
	require.EqualValues(t, 1, lib.cacheHits)
}

func TestLibrarianRecallMissingKey(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	_, ok := lib.Recall("does-not-exist")
	require.False(t, ok)
}

func TestLibrarianForgetMovesToForgottenCategory(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	require.NoError(t, lib.Remember("secret", "x", "general", 0.9, nil))

	require.True(t, lib.Forget("secret"))
	value, ok := lib.Recall("secret")
	require.True(t, ok, "forgotten facts stay recallable, never hard-deleted")
	require.Equal(t, "x", value)
}

func TestLibrarianSearchRanksKeywordMatchesHigher(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	require.NoError(t, lib.Remember("travel:paris", "the eiffel tower trip", "travel", 0.5, []string{"paris", "travel"}))
	require.NoError(t, lib.Remember("travel:tokyo", "cherry blossoms", "travel", 0.5, []string{"tokyo", "travel"}))

	results := lib.Search(MemoryQuery{Keywords: []string{"paris"}, Category: "travel"})
	require.NotEmpty(t, results)
	require.Equal(t, "travel:paris", results[0].Key)
}

func TestLibrarianWorkflowTemplateRoundTrips(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	phases := []Command{{Action: "navigate", Target: "https://example.com"}}

	key := lib.SaveWorkflowTemplate("onboarding", "new user flow", phases, []string{"onboarding"})
	require.Equal(t, "workflow:onboarding", key)

	tmpl, ok := lib.GetWorkflowTemplate("onboarding")
	require.True(t, ok)
	require.Equal(t, "onboarding", tmpl.Name)
	require.Len(t, tmpl.Phases, 1)
	require.Equal(t, "navigate", tmpl.Phases[0].Action)

	names := lib.ListWorkflowTemplates()
	require.Contains(t, names, "onboarding")
}

func TestLibrarianStatsReportsCacheHitRate(t *testing.T) {
	lib := NewLibrarian(newTestLedger(t))
	require.NoError(t, lib.Remember("k", "v", "general", 0.5, nil))
	lib.Recall("k")
	lib.Recall("k")

	stats, err := lib.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.MemoryFacts)
	require.InDelta(t, 0.5, stats.CacheHitRate, 1e-9)
}

func TestKeywordOverlapScoreExactKeyMatch(t *testing.T) {
	score := keywordOverlapScore("paris-trip", "some value", []string{"paris-trip"})
	require.Greater(t, score, 0.5)
}

func TestExtractKeywordsDropsStopWordsAndShortTokens(t *testing.T) {
	kws := extractKeywords("The quick fox is in a car")
	require.Contains(t, kws, "quick")
	require.Contains(t, kws, "car")
	require.NotContains(t, kws, "the")
	require.NotContains(t, kws, "is")
	require.NotContains(t, kws, "in")
}
