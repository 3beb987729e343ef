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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// receivePollInterval bounds how often ReceiveMessagesWait re-checks a
// mailbox while waiting for it to fill.
const receivePollInterval = 20 * time.Millisecond

// forbiddenTokens is the fixed injection-filter list of spec §4.4.
var forbiddenTokens = []string{"ignore", "override", "sudo", "admin", "forget", "disregard", "system prompt"}

// SendMessage delivers message from fromHead to toHead through the
// forbidden-token scan of spec §4.4, writing a DENY decision entry on
// rejection or an ACTION entry on delivery.
func (c *Coordinator) SendMessage(fromHead, toHead string, message map[string]interface{}) Result {
	raw, err := json.Marshal(message)
	if err != nil {
		raw = []byte("{}")
	}
	low := strings.ToLower(string(raw))

	for _, tok := range forbiddenTokens {
		if strings.Contains(low, tok) {
			c.ledger.Write(LedgerEntry{
				EntryType: string(EntryDecision),
				Action:    "ai_message",
				Target:    fmt.Sprintf("%s->%s", fromHead, toHead),
				Payload:   map[string]interface{}{"blocked_pattern": tok},
				Decision:  string(DecisionDeny),
			})
			return Result{
				Success:  false,
				Decision: string(DecisionDeny),
				Reason:   fmt.Sprintf("Message contains blocked pattern: %s", tok),
			}
		}
	}

	if _, ok := c.registry.Head(toHead); !ok {
		return Result{Success: false, Error: fmt.Sprintf("Head %s not found", toHead)}
	}

	envelope := map[string]interface{}{
		"from":      fromHead,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	c.registry.Enqueue(toHead, envelope)

	c.ledger.Write(LedgerEntry{
		EntryType: string(EntryAction),
		Action:    "ai_message",
		Target:    fmt.Sprintf("%s->%s", fromHead, toHead),
		Payload:   message,
		Decision:  string(DecisionAllow),
	})

	return Result{Success: true, Delivered: true}
}

// ReceiveMessages drains toHead's mailbox without waiting, matching
// hydra/spine.py's queue.get_nowait() loop.
func (c *Coordinator) ReceiveMessages(headID string) []map[string]interface{} {
	return c.registry.Drain(headID)
}

// ReceiveMessagesWait drains headID's mailbox, blocking up to timeout for at
// least one message to arrive if the mailbox is empty on entry (spec §4.4's
// ReceiveMessages(head_id, timeout)). A non-positive timeout behaves like
// ReceiveMessages and returns immediately.
func (c *Coordinator) ReceiveMessagesWait(ctx context.Context, headID string, timeout time.Duration) []map[string]interface{} {
	if msgs := c.registry.Drain(headID); len(msgs) > 0 || timeout <= 0 {
		return msgs
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if msgs := c.registry.Drain(headID); len(msgs) > 0 {
				return msgs
			}
		}
	}
}
