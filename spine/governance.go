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
	"math"
	"strings"
)

// Tongue is a pluggable policy module participating in Governance
// composition. Modeled as an interface per spec §9: "do not rely on
// reflection."
type Tongue interface {
	ID() string
	// Evaluate returns a contribution factor in [0,1] (1 = no concern) and
	// any evidence worth recording in the lattice proof. A tongue that has
	// nothing to say about this action returns active=false.
	Evaluate(cmd Command) (factor float64, active bool, evidence map[string]interface{})
}

// GovernanceConfig lists the tongues composed into a single Evaluator, plus
// the domain lists the mandatory antivirus tongue consults.
type GovernanceConfig struct {
	Blocklist       map[string]bool
	Trustlist       map[string]bool
	SafetyThreshold float64
	Tongues         []Tongue
}

// DefaultGovernanceConfig wires only the mandatory semantic-antivirus tongue,
// which also scores domain reputation from its blocklist/trustlist;
// HTTPTongue is added by the caller when SCBE_URL is configured (Open
// Question (a)).
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		Blocklist:       defaultBlocklist(),
		Trustlist:       defaultTrustlist(),
		SafetyThreshold: 0.4,
		Tongues: []Tongue{
			NewAntivirusTongue(defaultBlocklist(), defaultTrustlist()),
		},
	}
}

// Evaluator computes a GovernanceResult from an action descriptor, purely
// and deterministically (spec §4.2, testable property P9).
type Evaluator struct {
	cfg GovernanceConfig
}

// NewEvaluator builds an Evaluator from the given configuration.
func NewEvaluator(cfg GovernanceConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Authorize runs every configured tongue over cmd and composes the result.
func (e *Evaluator) Authorize(cmd Command, sensitivity float64) GovernanceResult {
	base := clamp01(1 - sensitivity)

	trust := base
	var contributions []float64
	active := make([]string, 0, len(e.cfg.Tongues))
	proof := make(map[string]interface{})

	for _, t := range e.cfg.Tongues {
		factor, isActive, evidence := t.Evaluate(cmd)
		if !isActive {
			continue
		}
		trust *= clamp01(factor)
		contributions = append(contributions, factor)
		active = append(active, t.ID())
		if evidence != nil {
			proof[t.ID()] = evidence
		}
	}

	trust = clamp01(trust)

	var sumSquares float64
	for _, c := range contributions {
		sumSquares += c * c
	}
	vectorNorm := math.Sqrt(sumSquares)

	return GovernanceResult{
		Decision:      decisionFromTrust(trust),
		TrustScore:    trust,
		VectorNorm:    vectorNorm,
		TonguesActive: active,
		LatticeProof:  proof,
	}
}

func decisionFromTrust(trust float64) Decision {
	switch {
	case trust > 0.7:
		return DecisionAllow
	case trust >= 0.5:
		return DecisionQuarantine
	case trust >= 0.3:
		return DecisionEscalate
	default:
		return DecisionDeny
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// InferSensitivity implements spec §4.1 step 1's sensitivity inference
// table, used by the Dispatcher when Command.Sensitivity is nil.
func InferSensitivity(action, target string) float64 {
	base := map[string]float64{
		"navigate": 0.2, "click": 0.3, "type": 0.4, "read": 0.1,
		"run": 0.6, "execute": 0.8, "api": 0.5, "remember": 0.2,
		"recall": 0.1, "message": 0.3, "workflow": 0.5,
	}[strings.ToLower(action)]
	if base == 0 {
		base = 0.5
	}

	low := strings.ToLower(target)
	highRisk := []string{"password", "secret", "token", "admin", "delete", "rm ", "sudo", "chmod", "chown", "bank", "payment", "credit", "financial"}
	mediumRisk := []string{"login", "auth", "account", "profile", "settings", "config", "env", ".env", "credentials"}

	for _, p := range highRisk {
		if strings.Contains(low, p) {
			return clamp01(base + 0.30)
		}
	}
	for _, p := range mediumRisk {
		if strings.Contains(low, p) {
			return clamp01(base + 0.15)
		}
	}
	return clamp01(base)
}
