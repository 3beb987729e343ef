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
	"sort"
	"sync"
	"time"
)

// SwitchboardTask is one queued unit of work, role-addressed and
// priority-ordered.
type SwitchboardTask struct {
	Key       string                 `json:"key"`
	Role      string                 `json:"role"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// SwitchboardMessage is one posted channel message, numbered monotonically
// so pollers can resume with since_id.
type SwitchboardMessage struct {
	ID        int64                  `json:"id"`
	Channel   string                 `json:"channel"`
	FromHead  string                 `json:"from_head"`
	Body      map[string]interface{} `json:"body"`
	CreatedAt time.Time              `json:"created_at"`
}

// Switchboard is the supplemented role-keyed task queue and channel-keyed
// message board (SPEC_FULL.md supplemented feature 1), grounded on
// orchestrator/agent_registry.go's mutex-guarded map idiom and
// hydra/spine.py's role/channel addressing model.
type Switchboard struct {
	mu        sync.Mutex
	tasks     map[string][]SwitchboardTask // role -> queue
	taskKeys  map[string]bool              // role+key dedupe set
	messages  map[string][]SwitchboardMessage
	nextMsgID int64
}

// NewSwitchboard builds an empty Switchboard.
func NewSwitchboard() *Switchboard {
	return &Switchboard{
		tasks:    make(map[string][]SwitchboardTask),
		taskKeys: make(map[string]bool),
		messages: make(map[string][]SwitchboardMessage),
	}
}

// HandleEnqueue dedupes by role+key and inserts the task in priority order
// (higher priority first, FIFO within a priority tier).
func (s *Switchboard) HandleEnqueue(ledger *Ledger, cmd Command) Result {
	role := cmd.Role
	if role == "" {
		role = "default"
	}
	key := cmd.Key
	if key == "" {
		key = cmd.Target
	}

	dedupeKey := role + ":" + key
	priority := 0
	if cmd.Priority != nil {
		priority = *cmd.Priority
	}

	s.mu.Lock()
	if key != "" && s.taskKeys[dedupeKey] {
		s.mu.Unlock()
		return Result{Success: true, Enqueued: false, Reason: "duplicate key, skipped"}
	}
	if key != "" {
		s.taskKeys[dedupeKey] = true
	}

	task := SwitchboardTask{
		Key:       key,
		Role:      role,
		Priority:  priority,
		Payload:   cmd.Params,
		CreatedAt: time.Now().UTC(),
	}
	queue := append(s.tasks[role], task)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Priority > queue[j].Priority })
	s.tasks[role] = queue
	depth := len(queue)
	s.mu.Unlock()

	if ledger != nil {
		ledger.Write(LedgerEntry{
			EntryType: string(EntryAction),
			Action:    "switchboard_enqueue",
			Target:    role,
			Payload:   map[string]interface{}{"key": key, "priority": priority, "queue_depth": depth},
		})
	}

	return Result{Success: true, Enqueued: true, QueueDepth: depth}
}

// Dequeue pops the highest-priority task for role, if any.
func (s *Switchboard) Dequeue(role string) (SwitchboardTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.tasks[role]
	if len(queue) == 0 {
		return SwitchboardTask{}, false
	}
	task := queue[0]
	s.tasks[role] = queue[1:]
	if task.Key != "" {
		delete(s.taskKeys, role+":"+task.Key)
	}
	return task, true
}

// SwitchboardStats summarizes queue depths and message-board sizes.
type SwitchboardStats struct {
	QueueDepths   map[string]int `json:"queue_depths"`
	TotalQueued   int            `json:"total_queued"`
	ChannelCounts map[string]int `json:"channel_counts"`
}

// Stats reports current queue depths and channel sizes.
func (s *Switchboard) Stats() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int, len(s.tasks))
	total := 0
	for role, q := range s.tasks {
		depths[role] = len(q)
		total += len(q)
	}

	counts := make(map[string]int, len(s.messages))
	for ch, m := range s.messages {
		counts[ch] = len(m)
	}

	return SwitchboardStats{QueueDepths: depths, TotalQueued: total, ChannelCounts: counts}
}

// HandlePostMessage appends a numbered message to a channel's board.
func (s *Switchboard) HandlePostMessage(cmd Command) Result {
	channel := cmd.Channel
	if channel == "" {
		channel = "broadcast"
	}

	s.mu.Lock()
	s.nextMsgID++
	msg := SwitchboardMessage{
		ID:        s.nextMsgID,
		Channel:   channel,
		FromHead:  cmd.FromHead,
		Body:      cmd.Message,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[channel] = append(s.messages[channel], msg)
	s.mu.Unlock()

	return Result{Success: true, MessageID: msg.ID}
}

// HandleGetMessages returns messages posted to a channel after since_id.
func (s *Switchboard) HandleGetMessages(cmd Command) Result {
	channel := cmd.Channel
	if channel == "" {
		channel = "broadcast"
	}
	sinceID := cmd.SinceID

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SwitchboardMessage
	for _, m := range s.messages[channel] {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}

	return Result{Success: true, Messages: out}
}
