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
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	code := Run(append([]string{"--no-banner", "--json"}, args...))

	w.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), code
}

func TestRunWithNoArgsReturnsUsageError(t *testing.T) {
	code := Run(nil)
	require.Equal(t, 1, code)
}

func TestRunUnknownSubcommandReturnsError(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	_, code := runCLI(t, "bogus")
	require.Equal(t, 1, code)
}

func TestRunStatusSubcommand(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	out, code := runCLI(t, "status")
	require.Equal(t, 0, code)
	require.Contains(t, out, "HYDRA STATUS")
}

func TestRunRememberThenRecallRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("HYDRA_DB_PATH", dbPath)
	t.Setenv("HYDRA_SESSION_ID", "cli-test-session")

	_, code := runCLI(t, "remember", "greeting", "hello world")
	require.Equal(t, 0, code)

	out, code := runCLI(t, "recall", "greeting")
	require.Equal(t, 0, code)
	require.Contains(t, out, "hello world")
}

func TestRunRecallMissingKeyReturnsRuntimeError(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	_, code := runCLI(t, "recall", "does-not-exist")
	require.Equal(t, 2, code)
}

func TestRunExecuteSubcommandWithInlineJSON(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	out, code := runCLI(t, "execute", `{"action":"recall","key":"nothing","head_id":"head-cli"}`)
	require.Equal(t, 0, code)
	require.Contains(t, out, `"success":true`)
}

func TestRunWorkflowUnknownSubcommandErrors(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	_, code := runCLI(t, "workflow", "bogus")
	require.Equal(t, 1, code)
}

func TestRunWorkflowRunMissingIDErrors(t *testing.T) {
	t.Setenv("HYDRA_DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	_, code := runCLI(t, "workflow", "run", "does-not-exist")
	require.Equal(t, 2, code)
}
