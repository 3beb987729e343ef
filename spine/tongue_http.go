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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTongue delegates part of the trust computation to an external
// governance service (SCBE_URL), resolving Open Question (a): the external
// path is modeled as just another Tongue implementation, not a parallel
// code path through the Dispatcher.
type HTTPTongue struct {
	url    string
	client *http.Client
}

// NewHTTPTongue builds a tongue that POSTs the action descriptor to url and
// expects back {"factor": float64}.
func NewHTTPTongue(url string) *HTTPTongue {
	return &HTTPTongue{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPTongue) ID() string { return "scbe_http" }

func (h *HTTPTongue) Evaluate(cmd Command) (float64, bool, map[string]interface{}) {
	if h.url == "" {
		return 1.0, false, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"action": cmd.Action,
		"target": cmd.Target,
		"params": cmd.Params,
	})
	if err != nil {
		return 1.0, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return 1.0, false, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		// External evaluator unreachable: this tongue abstains rather than
		// failing the whole Governance call (spec §9(a): it is a tongue
		// implementation detail, not a hard dependency).
		return 1.0, false, map[string]interface{}{"error": fmt.Sprintf("scbe unreachable: %v", err)}
	}
	defer resp.Body.Close()

	var out struct {
		Factor float64 `json:"factor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 1.0, false, map[string]interface{}{"error": fmt.Sprintf("scbe decode: %v", err)}
	}

	return clamp01(out.Factor), true, map[string]interface{}{"factor": out.Factor}
}
