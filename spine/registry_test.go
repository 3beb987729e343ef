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
	"testing"

	"github.com/stretchr/testify/require"

	"hydra/spine/limb"
)

func TestRegistryConnectAndDisconnectHead(t *testing.T) {
	reg := NewRegistry(newTestLedger(t), 0)

	h := &Head{HeadID: "head-1", AIType: "claude", Model: "sonnet", Roles: []string{"Planner"}}
	require.NoError(t, reg.ConnectHead(h))

	got, ok := reg.Head("head-1")
	require.True(t, ok)
	require.Equal(t, HeadConnected, got.Status)
	require.Contains(t, reg.HeadsByRole("planner"), "head-1")

	require.NoError(t, reg.DisconnectHead("head-1"))
	_, ok = reg.Head("head-1")
	require.False(t, ok)
}

func TestRegistryLimbLifecycle(t *testing.T) {
	reg := NewRegistry(newTestLedger(t), 0)
	stub := limb.NewStub("limb-1", limb.Browser)

	require.NoError(t, reg.ConnectLimb(stub, "tab-1"))
	found, ok := reg.FindLimbByType(limb.Browser)
	require.True(t, ok)
	require.Equal(t, "limb-1", found.LimbID())

	require.NoError(t, reg.DisconnectLimb("limb-1"))
	_, ok = reg.Limb("limb-1")
	require.False(t, ok)
}

func TestRegistryMailboxDropsOldestOnOverflow(t *testing.T) {
	reg := NewRegistry(newTestLedger(t), 2)

	require.NoError(t, reg.Enqueue("head-1", map[string]interface{}{"n": 1}))
	require.NoError(t, reg.Enqueue("head-1", map[string]interface{}{"n": 2}))
	require.NoError(t, reg.Enqueue("head-1", map[string]interface{}{"n": 3}))

	require.Equal(t, 2, reg.MailboxLen("head-1"))
	msgs := reg.Drain("head-1")
	require.Len(t, msgs, 2)
	require.Equal(t, 2, msgs[0]["n"])
	require.Equal(t, 3, msgs[1]["n"])
	require.Equal(t, 0, reg.MailboxLen("head-1"))
}

func TestParseRosterAndApplyPreRegistersRoles(t *testing.T) {
	data := []byte(`
apiVersion: hydra.io/v1
kind: Roster
heads:
  - head_id: head-1
    ai_type: claude
    model: sonnet
    roles:
      - Navigator
limbs:
  - limb_id: limb-1
    limb_type: browser
`)
	roster, err := ParseRoster(data)
	require.NoError(t, err)
	require.Len(t, roster.Heads, 1)
	require.Equal(t, "head-1", roster.Heads[0].HeadID)

	reg := NewRegistry(newTestLedger(t), 0)
	reg.ApplyRoster(roster)
	require.Contains(t, reg.HeadsByRole("navigator"), "head-1")
}

func TestLoadRosterMissingFileErrors(t *testing.T) {
	_, err := LoadRoster("/nonexistent/roster.yaml")
	require.Error(t, err)
}
