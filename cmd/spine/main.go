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

// Command spine runs the Hydra coordinator's terminal interface: the
// interactive/status/stats/execute/workflow/remember/recall/search
// subcommands described in hydra/spine's CLI surface.
package main

import (
	"os"

	"hydra/spine"
)

func main() {
	os.Exit(spine.Run(os.Args[1:]))
}
