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

// Turnstile translates a Governance Decision into a concrete execution mode
// specialized to a domain (spec §4.3). The fixed threshold table is the
// single source of truth per Open Question (b) — the original Python mixed
// several inconsistent formulas across files and a turnstile.py that no
// longer exists in the retrieval pack.
type Turnstile struct{}

// NewTurnstile builds a Turnstile Resolver. It carries no state of its own:
// antibody_load/membrane_stress are session-scoped scalars threaded in and
// out by the caller (spec §9), keeping Resolve pure.
func NewTurnstile() *Turnstile { return &Turnstile{} }

// Resolve implements spec §4.3's decision table.
func (t *Turnstile) Resolve(decision Decision, domain DomainType, suspicion, vectorNorm, previousAntibodyLoad, previousMembraneStress float64, quorumOK bool) TurnstileOutcome {
	if domain == "" {
		domain = DomainFleet
	}

	// Unknown/garbled decision strings collapse to DENY/BLOCK (edge case).
	switch decision {
	case DecisionAllow, DecisionQuarantine, DecisionEscalate, DecisionDeny:
		// recognized
	default:
		decision = DecisionDeny
	}

	if decision == DecisionQuarantine && !quorumOK {
		decision = DecisionEscalate
	}

	antibodyLoad := previousAntibodyLoad
	membraneStress := previousMembraneStress

	switch decision {
	case DecisionAllow:
		return TurnstileOutcome{
			Action:            ActionProceed,
			ContinueExecution: true,
			AntibodyLoad:      antibodyLoad,
			MembraneStress:    membraneStress,
			Reason:            "allowed",
		}

	case DecisionQuarantine:
		action := ActionPivot
		if domain == DomainBrowser {
			action = ActionDegrade
		}
		antibodyLoad += suspicion
		membraneStress += 0.1
		return TurnstileOutcome{
			Action:            action,
			ContinueExecution: true,
			AntibodyLoad:      antibodyLoad,
			MembraneStress:    membraneStress,
			Reason:            "quarantine: reduced-authority execution",
		}

	case DecisionEscalate:
		action := ActionBlock
		if domain == DomainFleet || domain == DomainVehicle {
			action = ActionIsolate
		}
		antibodyLoad += suspicion
		membraneStress += 0.2
		return TurnstileOutcome{
			Action:            action,
			ContinueExecution: false,
			Isolate:           action == ActionIsolate,
			RequireHuman:      true,
			AntibodyLoad:      antibodyLoad,
			MembraneStress:    membraneStress,
			Reason:            "escalate: human review required",
		}

	default: // DecisionDeny
		antibodyLoad += suspicion
		membraneStress += 0.3

		if suspicion >= 0.9 && previousAntibodyLoad >= 1.0 && domain == DomainBrowser {
			return TurnstileOutcome{
				Action:            ActionHoneypot,
				ContinueExecution: true,
				DeployHoneypot:    true,
				AntibodyLoad:      antibodyLoad,
				MembraneStress:    membraneStress,
				Reason:            "deny: high suspicion + elevated antibody load, redirected to honeypot",
			}
		}

		return TurnstileOutcome{
			Action:            ActionBlock,
			ContinueExecution: false,
			AntibodyLoad:      antibodyLoad,
			MembraneStress:    membraneStress,
			Reason:            "denied by governance",
		}
	}
}
