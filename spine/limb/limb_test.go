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

package limb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubLifecycle(t *testing.T) {
	s := NewStub("limb-1", Browser)
	require.False(t, s.Active())

	require.NoError(t, s.Activate(context.Background()))
	assert.True(t, s.Active())

	require.NoError(t, s.Deactivate(context.Background()))
	assert.False(t, s.Active())
}

func TestStubExecuteRecordsCallsAndSucceeds(t *testing.T) {
	s := NewStub("limb-1", API)
	result, err := s.Execute(context.Background(), "navigate", "https://example.com", map[string]interface{}{"foo": "bar"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ALLOW", result.Decision)

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "navigate", calls[0].Verb)
	assert.Equal(t, "https://example.com", calls[0].Target)
}

func TestStubExecuteHonorsFailWith(t *testing.T) {
	s := NewStub("limb-1", Terminal)
	s.FailWith = "boom"

	result, err := s.Execute(context.Background(), "run", "echo hi", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

func TestStubExecuteHonorsContextCancellation(t *testing.T) {
	s := NewStub("limb-1", Browser)
	s.Delay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	result, err := s.Execute(ctx, "click", "https://example.com", nil)
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "QUARANTINE", result.Decision)
}
