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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hydra/spine/internal/idgen"
)

// WorkflowRunner executes ordered phase sequences as repeated Dispatcher
// calls, short-circuiting on DENY (spec §4.6), grounded on
// orchestrator/workflow_engine.go's phase-sequencing shape and
// hydra/spine.py's _execute_workflow.
type WorkflowRunner struct {
	coord *Coordinator

	mu        sync.Mutex
	workflows map[string]*Workflow
}

// NewWorkflowRunner builds a runner bound to coord, through which every
// phase re-enters the normal Governance/Turnstile gate.
func NewWorkflowRunner(coord *Coordinator) *WorkflowRunner {
	return &WorkflowRunner{coord: coord, workflows: make(map[string]*Workflow)}
}

// Define registers a workflow and returns its id.
func (w *WorkflowRunner) Define(name string, phases []Command) string {
	id := idgen.Short("workflow")
	wf := &Workflow{
		ID:        id,
		Name:      name,
		Phases:    phases,
		Status:    WorkflowInit,
		CreatedAt: time.Now().UTC(),
	}

	w.mu.Lock()
	w.workflows[id] = wf
	w.mu.Unlock()

	w.coord.ledger.Write(LedgerEntry{
		EntryType: string(EntryCheckpoint),
		Action:    "workflow_defined",
		Target:    name,
		Payload:   map[string]interface{}{"phases": len(phases), "workflow_id": id},
	})

	return id
}

// Get returns a snapshot copy of a defined workflow.
func (w *WorkflowRunner) Get(id string) (Workflow, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wf, ok := w.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	return *wf, true
}

// List returns the ids of all defined workflows.
func (w *WorkflowRunner) List() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.workflows))
	for id := range w.workflows {
		ids = append(ids, id)
	}
	return ids
}

// Dispatch handles a "workflow" Command: either runs an existing
// workflow_id or defines-and-runs an inline definition.
func (w *WorkflowRunner) Dispatch(ctx context.Context, cmd Command) Result {
	workflowID := cmd.WorkflowID
	if cmd.Definition != nil {
		workflowID = w.Define(cmd.Definition.Name, cmd.Definition.Phases)
	}

	if workflowID == "" {
		return Result{Success: false, Error: "Workflow not found"}
	}

	return w.Execute(ctx, workflowID)
}

// Execute runs every phase of workflowID in order through the Coordinator,
// stopping as soon as a phase returns decision=DENY with success=false.
func (w *WorkflowRunner) Execute(ctx context.Context, workflowID string) Result {
	w.mu.Lock()
	wf, ok := w.workflows[workflowID]
	w.mu.Unlock()
	if !ok {
		return Result{Success: false, Error: "Workflow not found"}
	}

	w.mu.Lock()
	wf.Status = WorkflowExecution
	w.mu.Unlock()

	for wf.CurrentPhase < len(wf.Phases) {
		phase := wf.Phases[wf.CurrentPhase]

		var result Result
		if err := validatePhaseParams(phase); err != nil {
			result = Result{Success: false, Decision: string(DecisionDeny), Error: err.Error(), Reason: "params_schema validation failed"}
		} else {
			result = w.coord.Execute(ctx, phase)
		}

		w.mu.Lock()
		wf.Results = append(wf.Results, result)
		w.mu.Unlock()

		if !result.Success && result.Decision == string(DecisionDeny) {
			w.mu.Lock()
			wf.Status = WorkflowError
			w.mu.Unlock()
			break
		}

		w.mu.Lock()
		wf.CurrentPhase++
		if wf.CurrentPhase >= len(wf.Phases) {
			wf.Status = WorkflowComplete
		}
		w.mu.Unlock()
	}

	w.mu.Lock()
	status := wf.Status
	results := append([]Result(nil), wf.Results...)
	w.mu.Unlock()

	return Result{
		Success:    status == WorkflowComplete,
		WorkflowID: workflowID,
		Status:     string(status),
		Results:    results,
	}
}

// validatePhaseParams checks phase.Params against phase.ParamsSchema when
// one is set. A phase without a schema always passes.
func validatePhaseParams(phase Command) error {
	if len(phase.ParamsSchema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	schemaURL := "phase.json"
	if err := compiler.AddResource(schemaURL, bytes.NewReader(phase.ParamsSchema)); err != nil {
		return fmt.Errorf("invalid params_schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("invalid params_schema: %w", err)
	}

	raw, err := json.Marshal(phase.Params)
	if err != nil {
		return fmt.Errorf("params marshal failed: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("params unmarshal failed: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("params_schema violation: %w", err)
	}
	return nil
}
