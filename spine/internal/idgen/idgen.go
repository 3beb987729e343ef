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

// Package idgen centralizes the short, prefixed ids used across the
// coordinator (action-xxxxxxxx, workflow-xxxxxxxx, session-...), mirroring
// hydra/spine.py's f"{prefix}-{uuid.uuid4().hex[:8]}" convention.
package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Short returns prefix-xxxxxxxx using the first 8 hex chars of a new UUID4.
func Short(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// SessionID mints a session id of the form session-20060102-150405-xxxxxxxx.
func SessionID() string {
	return fmt.Sprintf("session-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}
