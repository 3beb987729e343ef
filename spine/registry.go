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
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"hydra/spine/limb"
)

// Registry tracks connected heads and limbs, their status, and per-head
// message mailboxes, grounded on orchestrator/agent_registry.go's
// sync.RWMutex-guarded map idiom.
type Registry struct {
	mu    sync.RWMutex
	heads map[string]*Head
	limbs map[string]limb.Limb

	roleChannels map[string]map[string]bool // role -> set(head_id), supplemented feature

	mailMu sync.Mutex
	mail   map[string]*mailbox

	ledger        *Ledger
	queueCapacity int
}

type mailbox struct {
	mu   sync.Mutex
	msgs []map[string]interface{}
	cap  int
}

// NewRegistry builds a Registry backed by ledger for lifecycle persistence.
func NewRegistry(ledger *Ledger, queueCapacity int) *Registry {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &Registry{
		heads:         make(map[string]*Head),
		limbs:         make(map[string]limb.Limb),
		roleChannels:  make(map[string]map[string]bool),
		mail:          make(map[string]*mailbox),
		ledger:        ledger,
		queueCapacity: queueCapacity,
	}
}

// ConnectHead registers a head, writes HEAD_CONNECT, creates its mailbox,
// and (if the head declares roles) registers its role channels.
func (r *Registry) ConnectHead(h *Head) error {
	r.mu.Lock()
	h.Status = HeadConnected
	r.heads[h.HeadID] = h
	r.mu.Unlock()

	r.mailMu.Lock()
	r.mail[h.HeadID] = &mailbox{cap: r.queueCapacity}
	r.mailMu.Unlock()

	if len(h.Roles) > 0 {
		r.RegisterHeadRoles(h.HeadID, h.Roles)
	}

	if r.ledger != nil {
		if err := r.ledger.RegisterHead(h.HeadID, h.AIType, h.Model); err != nil {
			return err
		}
		if _, err := r.ledger.Write(LedgerEntry{
			EntryType: string(EntryHeadConnect),
			Action:    "connect",
			Target:    h.HeadID,
			Payload:   map[string]interface{}{"ai_type": h.AIType, "model": h.Model},
			HeadID:    h.HeadID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectHead removes a head and its mailbox, writing HEAD_DISCONNECT.
func (r *Registry) DisconnectHead(headID string) error {
	r.mu.Lock()
	delete(r.heads, headID)
	r.mu.Unlock()

	r.mailMu.Lock()
	delete(r.mail, headID)
	r.mailMu.Unlock()

	if r.ledger != nil {
		if err := r.ledger.UnregisterHead(headID); err != nil {
			return err
		}
		if _, err := r.ledger.Write(LedgerEntry{
			EntryType: string(EntryHeadDisconnect),
			Action:    "disconnect",
			Target:    headID,
			Payload:   map[string]interface{}{},
			HeadID:    headID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHeadRoles tags headID with role channels used for targeted
// broadcast (supplemented feature from hydra/spine.py register_head_roles).
func (r *Registry) RegisterHeadRoles(headID string, roles []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range roles {
		key := strings.ToLower(strings.TrimSpace(role))
		if key == "" {
			continue
		}
		if r.roleChannels[key] == nil {
			r.roleChannels[key] = make(map[string]bool)
		}
		r.roleChannels[key][headID] = true
	}
}

// HeadsByRole returns the heads registered under role.
func (r *Registry) HeadsByRole(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.roleChannels[strings.ToLower(strings.TrimSpace(role))]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Head returns the head by id, if connected.
func (r *Registry) Head(headID string) (*Head, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.heads[headID]
	return h, ok
}

// Heads returns a snapshot of all connected heads.
func (r *Registry) Heads() []*Head {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Head, 0, len(r.heads))
	for _, h := range r.heads {
		out = append(out, h)
	}
	return out
}

// ConnectLimb registers a limb, writes LIMB_ACTIVATE.
func (r *Registry) ConnectLimb(l limb.Limb, tabID string) error {
	r.mu.Lock()
	r.limbs[l.LimbID()] = l
	r.mu.Unlock()

	if r.ledger != nil {
		if err := r.ledger.RegisterLimb(l.LimbID(), string(l.LimbType()), tabID); err != nil {
			return err
		}
		if _, err := r.ledger.Write(LedgerEntry{
			EntryType: string(EntryLimbActivate),
			Action:    "connect",
			Target:    l.LimbID(),
			Payload:   map[string]interface{}{"limb_type": string(l.LimbType())},
			LimbID:    l.LimbID(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectLimb removes a limb, writing LIMB_DEACTIVATE.
func (r *Registry) DisconnectLimb(limbID string) error {
	r.mu.Lock()
	delete(r.limbs, limbID)
	r.mu.Unlock()

	if r.ledger != nil {
		if _, err := r.ledger.Write(LedgerEntry{
			EntryType: string(EntryLimbDeactivate),
			Action:    "disconnect",
			Target:    limbID,
			Payload:   map[string]interface{}{},
			LimbID:    limbID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Limb returns a connected limb by id.
func (r *Registry) Limb(limbID string) (limb.Limb, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limbs[limbID]
	return l, ok
}

// Limbs returns a snapshot of all connected limbs.
func (r *Registry) Limbs() []limb.Limb {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]limb.Limb, 0, len(r.limbs))
	for _, l := range r.limbs {
		out = append(out, l)
	}
	return out
}

// FindLimbByType returns the first connected limb of typ, if any.
func (r *Registry) FindLimbByType(typ limb.Type) (limb.Limb, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limbs {
		if l.LimbType() == typ {
			return l, true
		}
	}
	return nil, false
}

// ---- Mailbox ---------------------------------------------------------------

// Enqueue appends msg to headID's bounded mailbox, dropping the oldest entry
// on overflow (spec §4.4/§5).
func (r *Registry) Enqueue(headID string, msg map[string]interface{}) error {
	r.mailMu.Lock()
	box, ok := r.mail[headID]
	if !ok {
		box = &mailbox{cap: r.queueCapacity}
		r.mail[headID] = box
	}
	r.mailMu.Unlock()

	box.mu.Lock()
	defer box.mu.Unlock()
	box.msgs = append(box.msgs, msg)
	if len(box.msgs) > box.cap {
		box.msgs = box.msgs[len(box.msgs)-box.cap:]
	}
	return nil
}

// Drain returns and clears all pending messages for headID.
func (r *Registry) Drain(headID string) []map[string]interface{} {
	r.mailMu.Lock()
	box, ok := r.mail[headID]
	r.mailMu.Unlock()
	if !ok {
		return nil
	}

	box.mu.Lock()
	defer box.mu.Unlock()
	out := box.msgs
	box.msgs = nil
	return out
}

// MailboxLen reports the current queue depth for headID (test/introspection
// helper, not in spec but useful for P6).
func (r *Registry) MailboxLen(headID string) int {
	r.mailMu.Lock()
	box, ok := r.mail[headID]
	r.mailMu.Unlock()
	if !ok {
		return 0
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.msgs)
}

// ---- Roster (known heads/limbs, loaded at startup) -------------------------

// Roster is the YAML-declared set of heads and limbs an operator expects to
// see connect, grounded on orchestrator/agent_config.go's AgentConfigFile
// shape and loaded the same way (os.ReadFile + yaml.Unmarshal).
type Roster struct {
	APIVersion string        `yaml:"apiVersion"`
	Kind       string        `yaml:"kind"`
	Heads      []RosterHead  `yaml:"heads"`
	Limbs      []RosterLimb  `yaml:"limbs"`
}

// RosterHead declares a head an operator expects to connect, plus the roles
// it should be pre-registered under.
type RosterHead struct {
	HeadID   string   `yaml:"head_id"`
	AIType   string   `yaml:"ai_type"`
	Model    string   `yaml:"model"`
	Callsign string   `yaml:"callsign"`
	Roles    []string `yaml:"roles"`
}

// RosterLimb declares a limb an operator expects to activate.
type RosterLimb struct {
	LimbID   string `yaml:"limb_id"`
	LimbType string `yaml:"limb_type"`
	TabID    string `yaml:"tab_id,omitempty"`
}

// LoadRoster reads and parses a roster file from disk.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ParseRoster parses YAML roster data.
func ParseRoster(data []byte) (*Roster, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to parse roster YAML: %w", err)
	}
	return &roster, nil
}

// ApplyRoster pre-registers every declared role channel so HeadsByRole works
// immediately even for heads that haven't connected yet — a head connecting
// later with a matching head_id picks up its declared roles on ConnectHead.
func (r *Registry) ApplyRoster(roster *Roster) {
	if roster == nil {
		return
	}
	r.mu.Lock()
	for _, h := range roster.Heads {
		for _, role := range h.Roles {
			key := strings.ToLower(strings.TrimSpace(role))
			if key == "" {
				continue
			}
			if r.roleChannels[key] == nil {
				r.roleChannels[key] = make(map[string]bool)
			}
			r.roleChannels[key][h.HeadID] = true
		}
	}
	r.mu.Unlock()
}
