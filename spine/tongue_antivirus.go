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
	"fmt"
	"regexp"
	"strings"
)

// promptInjectionPatterns mirrors semantic_antivirus.py's PROMPT_INJECTION_PATTERNS.
var promptInjectionPatterns = compileAll([]string{
	`ignore\s+(all\s+)?previous\s+instructions`,
	`reveal\s+(the\s+)?system\s+prompt`,
	`developer\s+mode`,
	`act\s+as\s+root`,
	`bypass\s+safety`,
	`jailbreak`,
	`you\s+are\s+now\s+in\s+.*mode`,
	`pretend\s+you\s+are`,
	`do\s+anything\s+now`,
	`ignore\s+all\s+rules`,
	`override\s+.*policy`,
	`system:\s*you\s+are`,
	`<\|.*\|>`,
	`\[INST\]`,
	`###\s*(Human|System|Assistant):`,
})

// malwarePatterns mirrors semantic_antivirus.py's MALWARE_PATTERNS.
var malwarePatterns = compileAll([]string{
	`powershell\s+-enc`,
	`cmd\.exe\s+/c`,
	`rm\s+-rf\s+/`,
	`curl\s+.*\|\s*sh`,
	`wget\s+.*\|\s*bash`,
	`javascript:\s*void`,
	`data:text/html`,
	`eval\s*\(`,
	`document\.cookie`,
	`window\.location\s*=`,
	`<script[^>]*>`,
	`onclick\s*=`,
	`onerror\s*=`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// AntivirusTongue is the mandatory tongue of spec §4.2: it scans target
// (and any text payload) against prompt-injection and malware pattern
// families, adjusts for domain reputation, and reports a verdict.
type AntivirusTongue struct {
	blocklist map[string]bool
	trustlist map[string]bool
}

// NewAntivirusTongue builds the mandatory tongue with the given domain lists.
func NewAntivirusTongue(blocklist, trustlist map[string]bool) *AntivirusTongue {
	return &AntivirusTongue{blocklist: blocklist, trustlist: trustlist}
}

func (a *AntivirusTongue) ID() string { return "semantic_antivirus" }

// Evaluate always reports active=true: this tongue runs on every action.
func (a *AntivirusTongue) Evaluate(cmd Command) (float64, bool, map[string]interface{}) {
	content := cmd.Target
	if text := textPayload(cmd.Params); text != "" {
		content = content + " " + text
	}
	low := strings.ToLower(content)

	var promptHits, malwareHits []string
	for _, re := range promptInjectionPatterns {
		if re.MatchString(low) {
			promptHits = append(promptHits, re.String())
		}
	}
	for _, re := range malwarePatterns {
		if re.MatchString(low) {
			malwareHits = append(malwareHits, re.String())
		}
	}

	risk := 0.0
	var reasons []string

	if len(promptHits) > 0 {
		risk += capAt(0.20*float64(len(promptHits)), 0.60)
		reasons = append(reasons, fmt.Sprintf("prompt-injection: %d patterns", len(promptHits)))
	}
	if len(malwareHits) > 0 {
		risk += capAt(0.25*float64(len(malwareHits)), 0.70)
		reasons = append(reasons, fmt.Sprintf("malware-sig: %d patterns", len(malwareHits)))
	}
	if len(promptHits) > 0 && len(malwareHits) > 0 {
		risk += 0.40
		reasons = append(reasons, "compound-threat: injection+malware")
	}

	domain := extractDomain(cmd.Target)
	domainRep := a.domainReputation(domain)
	if a.blocklist[domain] {
		risk += 0.80
		reasons = append(reasons, "blocked-domain: "+domain)
	} else if domainRep < 0.3 {
		risk += 0.20
		reasons = append(reasons, fmt.Sprintf("low-reputation: %s (%.2f)", domain, domainRep))
	}

	risk = clamp01(risk)

	verdict := "CLEAN"
	switch {
	case risk >= 0.85:
		verdict = "MALICIOUS"
	case risk >= 0.55:
		verdict = "SUSPICIOUS"
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "clean")
	}

	evidence := map[string]interface{}{
		"risk_score":             risk,
		"verdict":                verdict,
		"prompt_injection_hits":  len(promptHits),
		"malware_hits":           len(malwareHits),
		"domain_reputation":      domainRep,
		"reasons":                reasons,
	}

	return 1 - risk, true, evidence
}

func (a *AntivirusTongue) domainReputation(domain string) float64 {
	if domain == "" {
		return 0.5
	}
	if a.blocklist[domain] {
		return 0.0
	}
	if a.trustlist[domain] {
		return 1.0
	}
	return 0.5
}

func capAt(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}

func textPayload(params map[string]interface{}) string {
	if params == nil {
		return ""
	}
	if v, ok := params["text"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func extractDomain(target string) string {
	t := strings.ToLower(target)
	if i := strings.Index(t, "://"); i >= 0 {
		t = t[i+3:]
	}
	if i := strings.IndexAny(t, "/"); i >= 0 {
		t = t[:i]
	}
	if i := strings.IndexAny(t, ":"); i >= 0 {
		t = t[:i]
	}
	return t
}

func defaultBlocklist() map[string]bool {
	return map[string]bool{"evil.com": true, "malware.example.com": true}
}

func defaultTrustlist() map[string]bool {
	return map[string]bool{
		"github.com": true, "huggingface.co": true, "arxiv.org": true,
		"wikipedia.org": true, "docs.python.org": true, "stackoverflow.com": true,
		"pypi.org": true, "google.com": true, "bing.com": true, "duckduckgo.com": true,
	}
}
