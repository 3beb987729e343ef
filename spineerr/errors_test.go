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

package spineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsWithoutCause(t *testing.T) {
	err := New(ValidationErr, "dispatcher", "Execute", "missing action")
	assert.Equal(t, "dispatcher.Execute: missing action", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapFormatsWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageError, "ledger", "Write", "failed to append entry", cause)
	assert.Equal(t, "ledger.Write: failed to append entry (cause: disk full)", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	cause := New(Timeout, "http_tongue", "Evaluate", "context deadline exceeded")
	wrapped := fmt.Errorf("calling evaluator: %w", cause)

	assert.Equal(t, Timeout, KindOf(wrapped))
}

func TestKindOfDefaultsToInternalForUnknownErrors(t *testing.T) {
	assert.Equal(t, InternalError, KindOf(errors.New("plain error")))
}

func TestKindOfNilIsEmpty(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorsAsRecoversSpineError(t *testing.T) {
	original := New(PolicyDenied, "evaluator", "Authorize", "blocked domain")
	wrapped := fmt.Errorf("dispatch failed: %w", original)

	var se *SpineError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, PolicyDenied, se.Kind)
}
