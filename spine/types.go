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

// Package spine implements the Hydra coordinator: a policy-gated dispatcher
// that routes Action Commands from AI "heads" to execution "limbs" only
// after a Governance Evaluator and Turnstile Resolver have cleared them,
// with every step recorded to an append-only Ledger.
package spine

import (
	"encoding/json"
	"time"
)

// Decision is the categorical outcome of the Governance Evaluator.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionQuarantine Decision = "QUARANTINE"
	DecisionEscalate  Decision = "ESCALATE"
	DecisionDeny      Decision = "DENY"
	DecisionError     Decision = "ERROR"
)

// TurnstileAction is the concrete execution mode picked by the Resolver.
type TurnstileAction string

const (
	ActionProceed  TurnstileAction = "PROCEED"
	ActionPivot    TurnstileAction = "PIVOT"
	ActionDegrade  TurnstileAction = "DEGRADE"
	ActionIsolate  TurnstileAction = "ISOLATE"
	ActionHoneypot TurnstileAction = "HONEYPOT"
	ActionBlock    TurnstileAction = "BLOCK"
)

// DomainType scopes an action to one of the Turnstile's domain-specific modes.
type DomainType string

const (
	DomainBrowser   DomainType = "browser"
	DomainVehicle   DomainType = "vehicle"
	DomainFleet     DomainType = "fleet"
	DomainAntivirus DomainType = "antivirus"
	DomainOther     DomainType = "other"
)

// EntryType enumerates the kinds of rows the Ledger accepts.
type EntryType string

const (
	EntryAction         EntryType = "action"
	EntryDecision       EntryType = "decision"
	EntryHeadConnect    EntryType = "head_connect"
	EntryHeadDisconnect EntryType = "head_disconnect"
	EntryLimbActivate   EntryType = "limb_activate"
	EntryLimbDeactivate EntryType = "limb_deactivate"
	EntryConsensus      EntryType = "consensus"
	EntryMemory         EntryType = "memory"
	EntryError          EntryType = "error"
	EntryCheckpoint     EntryType = "checkpoint"
)

// Command is the unit of request submitted by a head. Immutable once
// submitted — Dispatcher.Execute works off copies of Params when it needs
// to mutate turnstile bookkeeping into them.
type Command struct {
	Action      string                 `json:"action"`
	Target      string                 `json:"target"`
	Params      map[string]interface{} `json:"params"`
	HeadID      string                 `json:"head_id,omitempty"`
	LimbID      string                 `json:"limb_id,omitempty"`
	Sensitivity *float64               `json:"sensitivity,omitempty"`
	DomainType  string                 `json:"domain_type,omitempty"`

	// Fields only meaningful to specific verbs (message, remember, workflow).
	Key             string                 `json:"key,omitempty"`
	Value           interface{}            `json:"value,omitempty"`
	FromHead        string                 `json:"from_head,omitempty"`
	ToHead          string                 `json:"to_head,omitempty"`
	Message         map[string]interface{} `json:"message,omitempty"`
	WorkflowID      string                 `json:"workflow_id,omitempty"`
	Definition      *WorkflowDefinition    `json:"definition,omitempty"`
	QuorumOK        *bool                  `json:"quorum_ok,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Importance      *float64               `json:"importance,omitempty"`
	Role            string                 `json:"role,omitempty"`
	Task            map[string]interface{} `json:"task,omitempty"`
	DedupeKey       string                 `json:"dedupe_key,omitempty"`
	Priority        *int                   `json:"priority,omitempty"`
	Channel         string                 `json:"channel,omitempty"`
	Sender          string                 `json:"sender,omitempty"`
	SinceID         int64                  `json:"since_id,omitempty"`
	ProposalID      string                 `json:"proposal_id,omitempty"`
	Voters          []string               `json:"voters,omitempty"`
	Approve         *bool                  `json:"approve,omitempty"`

	// ParamsSchema, when set on a workflow phase, is a JSON schema that
	// Params must satisfy before the phase is dispatched — the Go
	// equivalent of orchestrator/workflow_engine.go's InputSchema, but
	// checked against a real schema instead of a hand-rolled type/property
	// walk.
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
}

// WorkflowDefinition is an inline, unsaved workflow passed with a "workflow"
// command that carries "definition" instead of "workflow_id".
type WorkflowDefinition struct {
	Name   string    `json:"name"`
	Phases []Command `json:"phases"`
}

// Result is the shape every Dispatcher.Execute call returns.
type Result struct {
	Success        bool        `json:"success"`
	Decision       string      `json:"decision,omitempty"`
	ActionID       string      `json:"action_id,omitempty"`
	Error          string      `json:"error,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	TurnstileAction string     `json:"turnstile_action,omitempty"`
	TrustScore     float64     `json:"trust_score,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Key            string      `json:"key,omitempty"`
	Value          interface{} `json:"value,omitempty"`
	Delivered      bool        `json:"delivered,omitempty"`
	WorkflowID     string      `json:"workflow_id,omitempty"`
	Status         string      `json:"status,omitempty"`
	Results        []Result    `json:"results,omitempty"`
	Queued         bool        `json:"queued,omitempty"`
	Stats          interface{} `json:"stats,omitempty"`
	Messages       interface{} `json:"messages,omitempty"`
	MessageID      int64       `json:"message_id,omitempty"`
	Enqueued       bool        `json:"enqueued,omitempty"`
	QueueDepth     int         `json:"queue_depth,omitempty"`
}

// GovernanceResult is the pure output of the Governance Evaluator.
type GovernanceResult struct {
	Decision      Decision               `json:"decision"`
	TrustScore    float64                `json:"trust_score"`
	VectorNorm    float64                `json:"vector_norm"`
	TonguesActive []string               `json:"tongues_active"`
	LatticeProof  map[string]interface{} `json:"lattice_proof"`
}

// TurnstileOutcome is the pure output of the Turnstile Resolver.
type TurnstileOutcome struct {
	Action             TurnstileAction `json:"action"`
	ContinueExecution  bool            `json:"continue_execution"`
	Isolate            bool            `json:"isolate"`
	DeployHoneypot     bool            `json:"deploy_honeypot"`
	RequireHuman       bool            `json:"require_human"`
	AntibodyLoad       float64         `json:"antibody_load"`
	MembraneStress     float64         `json:"membrane_stress"`
	Reason             string          `json:"reason"`
}

// LedgerEntry is a single append-only row. Signature is computed by the
// Ledger at write time from (id, entry_type, action, target) + session
// secret — callers never set it.
type LedgerEntry struct {
	ID        string                 `json:"id"`
	EntryType string                 `json:"entry_type"`
	Timestamp string                 `json:"timestamp"`
	HeadID    string                 `json:"head_id,omitempty"`
	LimbID    string                 `json:"limb_id,omitempty"`
	Action    string                 `json:"action"`
	Target    string                 `json:"target"`
	Payload   map[string]interface{} `json:"payload"`
	Decision  string                 `json:"decision,omitempty"`
	Score     *float64               `json:"score,omitempty"`
	ParentID  string                 `json:"parent_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// HeadStatus is the lifecycle state of a connected head.
type HeadStatus string

const (
	HeadDisconnected HeadStatus = "DISCONNECTED"
	HeadConnecting   HeadStatus = "CONNECTING"
	HeadConnected    HeadStatus = "CONNECTED"
	HeadBusy         HeadStatus = "BUSY"
	HeadError        HeadStatus = "ERROR"
)

// Head is a connected AI client.
type Head struct {
	HeadID      string
	AIType      string
	Model       string
	Callsign    string
	Status      HeadStatus
	ActionCount int64
	ErrorCount  int64
	Roles       []string
}

// LimbType names the family of execution backend a Limb implements.
type LimbType string

const (
	LimbBrowser      LimbType = "browser"
	LimbTerminal     LimbType = "terminal"
	LimbAPI          LimbType = "api"
	LimbMultiBrowser LimbType = "multi_browser"
)

// MemoryFact is a cross-session key/value record, distinct from the Ledger.
type MemoryFact struct {
	Key         string      `json:"key"`
	Value       interface{} `json:"value"`
	Category    string      `json:"category"`
	Importance  float64     `json:"importance"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	AccessCount int64       `json:"access_count"`
}

// WorkflowStatus mirrors hydra.spine's WorkflowPhase enum.
type WorkflowStatus string

const (
	WorkflowInit       WorkflowStatus = "init"
	WorkflowPlanning   WorkflowStatus = "planning"
	WorkflowExecution  WorkflowStatus = "execution"
	WorkflowValidation WorkflowStatus = "validation"
	WorkflowComplete   WorkflowStatus = "complete"
	WorkflowError      WorkflowStatus = "error"
)

// Workflow is an ordered sequence of Commands advanced by the Workflow Runner.
type Workflow struct {
	ID           string         `json:"workflow_id"`
	Name         string         `json:"name"`
	Phases       []Command      `json:"phases"`
	CurrentPhase int            `json:"current_phase"`
	Status       WorkflowStatus `json:"status"`
	Results      []Result       `json:"results"`
	CreatedAt    time.Time      `json:"created_at"`
}
