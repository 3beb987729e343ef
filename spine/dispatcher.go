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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hydra/spine/internal/idgen"
	"hydra/spine/limb"
	"hydra/spineerr"
)

// Coordinator is the Dispatcher (the "Spine"): the sole public entry point
// that gates and routes every Action Command, grounded on
// hydra/spine.py's HydraSpine.execute().
type Coordinator struct {
	ledger    *Ledger
	evaluator *Evaluator
	turnstile *Turnstile
	registry  *Registry
	workflows *WorkflowRunner
	librarian *Librarian
	switchbrd *Switchboard
	consensus *ConsensusRegistry
	metrics   *Metrics

	deadline time.Duration

	sessionMu      sync.Mutex
	antibodyLoad   map[string]float64 // session_id (here: head_id) -> running antibody load
	membraneStress map[string]float64 // session_id (here: head_id) -> running membrane stress

	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter // per head_id, lazily created
	limitRate  rate.Limit
	limitBurst int

	onDecision func(LedgerEntry) // optional hook, wired by the WebSocket fanout
}

// NewCoordinator wires a Dispatcher over an already-open Ledger.
func NewCoordinator(ledger *Ledger, gov GovernanceConfig, cfg Config) *Coordinator {
	limitRate := rate.Limit(cfg.RateLimitPerSecond)
	if cfg.RateLimitPerSecond <= 0 {
		limitRate = rate.Inf
	}
	limitBurst := cfg.RateLimitBurst
	if limitBurst <= 0 {
		limitBurst = 1
	}

	c := &Coordinator{
		ledger:         ledger,
		evaluator:      NewEvaluator(gov),
		turnstile:      NewTurnstile(),
		registry:       NewRegistry(ledger, cfg.QueueCapacity),
		librarian:      NewLibrarian(ledger),
		switchbrd:      NewSwitchboard(),
		consensus:      NewConsensusRegistry(),
		deadline:       cfg.AmbientDeadline,
		antibodyLoad:   make(map[string]float64),
		membraneStress: make(map[string]float64),
		limiters:       make(map[string]*rate.Limiter),
		limitRate:      limitRate,
		limitBurst:     limitBurst,
	}
	c.workflows = NewWorkflowRunner(c)
	return c
}

// Registry exposes the head/limb registry for head/limb lifecycle calls.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Ledger exposes the underlying ledger (for CLI stats/export commands).
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// Librarian exposes the cross-session memory manager.
func (c *Coordinator) Librarian() *Librarian { return c.librarian }

// Workflows exposes the workflow runner.
func (c *Coordinator) Workflows() *WorkflowRunner { return c.workflows }

// Consensus exposes the BFT quorum-counting registry.
func (c *Coordinator) Consensus() *ConsensusRegistry { return c.consensus }

// SetMetrics installs a Prometheus metrics sink; calls made before this is
// set simply go unobserved.
func (c *Coordinator) SetMetrics(m *Metrics) { c.metrics = m }

// OnDecision installs a hook invoked with the governance DECISION entry each
// Execute call writes, used by the WebSocket fanout to publish without
// re-entering storage. DECISION entries written elsewhere (e.g. a denied
// inter-head message) do not invoke it.
func (c *Coordinator) OnDecision(fn func(LedgerEntry)) { c.onDecision = fn }

// limiterFor returns the token-bucket limiter for a head, creating one on
// first use. Grounded on connectors/sdk's per-client rate limiting, but
// keyed by head_id instead of connector name since the Spine's callers are
// heads, not outbound connectors.
func (c *Coordinator) limiterFor(headKey string) *rate.Limiter {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	l, ok := c.limiters[headKey]
	if !ok {
		l = rate.NewLimiter(c.limitRate, c.limitBurst)
		c.limiters[headKey] = l
	}
	return l
}

// Execute is the Dispatcher's sole entry point (spec §4.1).
func (c *Coordinator) Execute(ctx context.Context, cmd Command) (result Result) {
	if cmd.Action == "" {
		return Result{Success: false, Decision: string(DecisionError), Error: "missing action"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	actionID := idgen.Short("action")
	startedAt := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Decision: string(DecisionError), Error: fmt.Sprintf("panic: %v", r), ActionID: actionID}
			splog.Error(cmd.HeadID, actionID, "recovered panic in Execute", map[string]interface{}{
				"action": cmd.Action,
				"panic":  fmt.Sprintf("%v", r),
			})
			c.ledger.Write(LedgerEntry{
				EntryType: string(EntryError),
				Action:    cmd.Action,
				Target:    cmd.Target,
				Payload:   map[string]interface{}{"panic": fmt.Sprintf("%v", r)},
				HeadID:    cmd.HeadID,
				LimbID:    cmd.LimbID,
			})
		}
	}()

	if cmd.Params == nil {
		cmd.Params = make(map[string]interface{})
	}

	headKey := cmd.HeadID
	if headKey == "" {
		headKey = "_default"
	}
	if !c.limiterFor(headKey).Allow() {
		return Result{Success: false, Decision: string(DecisionQuarantine), Error: "rate limit exceeded", ActionID: actionID}
	}

	sensitivity := InferSensitivity(cmd.Action, cmd.Target)
	if cmd.Sensitivity != nil {
		sensitivity = clamp01(*cmd.Sensitivity)
	}

	gov := c.evaluator.Authorize(cmd, sensitivity)

	domainType := DomainType(cmd.DomainType)
	if domainType == "" {
		if isBrowserVerb(cmd.Action) {
			domainType = DomainBrowser
		} else {
			domainType = DomainFleet
		}
	}

	suspicion := clamp01(1 - gov.TrustScore)
	quorumOK := true
	if cmd.QuorumOK != nil {
		quorumOK = *cmd.QuorumOK
	}

	sessionKey := cmd.HeadID
	if sessionKey == "" {
		sessionKey = "_default"
	}
	c.sessionMu.Lock()
	prevLoad := c.antibodyLoad[sessionKey]
	prevStress := c.membraneStress[sessionKey]
	c.sessionMu.Unlock()

	outcome := c.turnstile.Resolve(gov.Decision, domainType, suspicion, gov.VectorNorm, prevLoad, prevStress, quorumOK)

	c.sessionMu.Lock()
	c.antibodyLoad[sessionKey] = outcome.AntibodyLoad
	c.membraneStress[sessionKey] = outcome.MembraneStress
	c.sessionMu.Unlock()

	c.metrics.Observe(cmd, gov, outcome, time.Since(startedAt).Seconds())

	cmd.Params["turnstile_action"] = string(outcome.Action)
	cmd.Params["antibody_load"] = outcome.AntibodyLoad
	cmd.Params["membrane_stress"] = outcome.MembraneStress

	// ACTION, DECISION and (when the verdict isn't a plain ALLOW) the
	// turnstile CHECKPOINT are written atomically (Open Question (c)): a
	// crash partway through must never leave an action on the ledger
	// without its governance verdict and resolution.
	batch := []LedgerEntry{
		{
			EntryType: string(EntryAction),
			Action:    cmd.Action,
			Target:    cmd.Target,
			Payload:   cmd.Params,
			HeadID:    cmd.HeadID,
			LimbID:    cmd.LimbID,
		},
		{
			EntryType: string(EntryDecision),
			Action:    "decision_" + cmd.Action,
			Target:    cmd.Target,
			Payload: map[string]interface{}{
				"trust_score":    gov.TrustScore,
				"vector_norm":    gov.VectorNorm,
				"tongues_active": gov.TonguesActive,
			},
			HeadID:   cmd.HeadID,
			Decision: string(gov.Decision),
		},
	}
	if gov.Decision != DecisionAllow {
		batch = append(batch, LedgerEntry{
			EntryType: string(EntryCheckpoint),
			Action:    "turnstile_resolution",
			Target:    cmd.Target,
			Payload: map[string]interface{}{
				"action":           cmd.Action,
				"domain_type":      string(domainType),
				"decision":         string(gov.Decision),
				"turnstile_action": string(outcome.Action),
				"honeypot":         outcome.DeployHoneypot,
				"reason":           outcome.Reason,
			},
			HeadID: cmd.HeadID,
		})
	}

	written, err := c.ledger.WriteBatch(batch)
	if err != nil {
		return Result{Success: false, Decision: string(DecisionError), Error: err.Error(), ActionID: actionID}
	}
	decisionEntry := written[1]
	if c.onDecision != nil {
		c.onDecision(decisionEntry)
	}

	if outcome.Isolate {
		cmd.Params["quarantine"] = true
	}
	if outcome.DeployHoneypot {
		cmd.Params["honeypot"] = true
		cmd.Params["isolation_reason"] = outcome.Reason
		if isBrowserVerb(cmd.Action) {
			if ht, ok := cmd.Params["honeypot_target"].(string); ok && ht != "" {
				cmd.Target = ht
			} else {
				cmd.Target = "about:blank#hydra-honeypot"
			}
		}
	}

	if !outcome.ContinueExecution {
		blocked := string(DecisionDeny)
		if outcome.RequireHuman {
			blocked = string(DecisionEscalate)
		}
		return Result{
			Success:         false,
			Decision:        blocked,
			Reason:          outcome.Reason,
			TurnstileAction: string(outcome.Action),
			TrustScore:      gov.TrustScore,
			ActionID:        actionID,
		}
	}

	if outcome.Action == ActionPivot || outcome.Action == ActionDegrade {
		cmd.Params["safe_mode"] = strings.ToLower(string(outcome.Action))
	}

	res := c.route(ctx, cmd, actionID)
	res.ActionID = actionID
	if res.Decision == "" {
		res.Decision = string(gov.Decision)
	}
	res.TrustScore = gov.TrustScore
	return res
}

func isBrowserVerb(action string) bool {
	switch action {
	case "navigate", "click", "type":
		return true
	default:
		return false
	}
}

func (c *Coordinator) route(ctx context.Context, cmd Command, actionID string) Result {
	switch cmd.Action {
	case "navigate", "click", "type":
		return c.executeLimb(ctx, limb.Browser, cmd)
	case "run":
		return c.executeLimb(ctx, limb.Terminal, cmd)
	case "api":
		return c.executeLimb(ctx, limb.API, cmd)
	case "remember":
		return c.doRemember(cmd)
	case "recall":
		return c.doRecall(cmd)
	case "message":
		return c.SendMessage(cmd.FromHead, cmd.ToHead, cmd.Message)
	case "workflow":
		return c.workflows.Dispatch(ctx, cmd)
	case "switchboard_enqueue":
		return c.switchbrd.HandleEnqueue(c.ledger, cmd)
	case "switchboard_stats":
		return Result{Success: true, Stats: c.switchbrd.Stats()}
	case "switchboard_post_message":
		return c.switchbrd.HandlePostMessage(cmd)
	case "switchboard_get_messages":
		return c.switchbrd.HandleGetMessages(cmd)
	case "consensus_propose":
		return c.doConsensusPropose(cmd)
	case "consensus_vote":
		return c.doConsensusVote(cmd)
	case "consensus_tally":
		return c.doConsensusTally(cmd)
	default:
		return Result{Success: false, Error: "Unknown action: " + cmd.Action}
	}
}

func (c *Coordinator) executeLimb(ctx context.Context, typ limb.Type, cmd Command) Result {
	var l limb.Limb
	if cmd.LimbID != "" {
		found, ok := c.registry.Limb(cmd.LimbID)
		if !ok {
			return Result{Success: false, Error: fmt.Sprintf("limb %s not found", cmd.LimbID)}
		}
		l = found
	} else {
		found, ok := c.registry.FindLimbByType(typ)
		if !ok {
			return Result{Success: false, Error: fmt.Sprintf("No %s limb available", typ), Reason: "Connect a " + string(typ) + " limb first"}
		}
		l = found
	}

	verb := cmd.Action
	if typ == limb.Terminal {
		verb = "run"
	} else if typ == limb.API {
		verb = "call"
	}

	out, err := l.Execute(ctx, verb, cmd.Target, cmd.Params)
	if err != nil {
		// A limb that cannot honor cancellation (or fails outright) is
		// detached rather than left registered in an unknown state.
		kind := spineerr.KindOf(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = spineerr.Timeout
		}
		if derr := c.registry.DisconnectLimb(l.LimbID()); derr != nil {
			splog.Warn(cmd.HeadID, "", "failed to disconnect limb after execute error", map[string]interface{}{
				"limb_id": l.LimbID(),
				"error":   derr.Error(),
			})
		}
		c.ledger.Write(LedgerEntry{
			EntryType: string(EntryError),
			Action:    cmd.Action,
			Target:    cmd.Target,
			Payload:   map[string]interface{}{"error": err.Error(), "kind": string(kind)},
			HeadID:    cmd.HeadID,
			LimbID:    l.LimbID(),
		})
		return Result{Success: false, Decision: string(DecisionQuarantine), Error: string(kind)}
	}

	decision := out.Decision
	if decision == "" {
		decision = string(DecisionAllow)
	}
	c.ledger.Write(LedgerEntry{
		EntryType: string(EntryDecision),
		Action:    cmd.Action,
		Target:    cmd.Target,
		Payload:   toPayload(out.Data),
		LimbID:    l.LimbID(),
		Decision:  decision,
		Score:     &out.Score,
	})

	return Result{Success: out.Success, Decision: decision, Data: out.Data, Error: out.Error}
}

func toPayload(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return data
}

func (c *Coordinator) doRemember(cmd Command) Result {
	value := cmd.Value
	if value == nil {
		value = cmd.Params
	}
	category := cmd.Category
	if category == "" {
		category = "general"
	}
	importance := 0.5
	if cmd.Importance != nil {
		importance = *cmd.Importance
	}

	if err := c.librarian.Remember(cmd.Key, value, category, importance, nil); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	c.ledger.Write(LedgerEntry{
		EntryType: string(EntryMemory),
		Action:    "remember",
		Target:    cmd.Key,
		Payload:   map[string]interface{}{"category": category, "importance": importance},
	})

	return Result{Success: true, Key: cmd.Key}
}

func (c *Coordinator) doRecall(cmd Command) Result {
	value, ok := c.librarian.Recall(cmd.Key)
	if !ok {
		return Result{Success: true, Key: cmd.Key, Value: nil}
	}
	return Result{Success: true, Key: cmd.Key, Value: value}
}
