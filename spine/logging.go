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

import "hydra/shared/logger"

// splog is the package-wide structured logger, grounded on shared/logger's
// component-keyed JSON logging (carried forward unchanged from the
// teacher's ambient stack rather than replaced with a third-party library).
// clientID/requestID arguments below map onto Spine's head_id/action_id.
var splog = logger.New("spine")
