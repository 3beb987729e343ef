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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, jwtSecret string) (*Server, *Coordinator) {
	t.Helper()
	coord := newTestCoordinator(t)
	hub := NewHub(coord, time.Minute, 0, []string{"*"})
	return &Server{coord: coord, hub: hub, jwtSecret: []byte(jwtSecret), cacheTTL: time.Minute}, coord
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestHandleExecuteWithoutAuthWhenSecretUnset(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body, _ := json.Marshal(Command{Action: "recall", Key: "missing", HeadID: "head-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Success)
}

func TestHandleExecuteRejectsMissingBearerTokenWhenSecretSet(t *testing.T) {
	srv, _ := newTestServer(t, "s3cret")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleExecuteAcceptsValidBearerToken(t *testing.T) {
	secret := "s3cret"
	srv, _ := newTestServer(t, secret)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"head_id": "head-jwt"})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)

	body, _ := json.Marshal(Command{Action: "recall", Key: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleExecuteRejectsInvalidBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, "s3cret")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer garbage.token.here")
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleListHeadsAndLimbs(t *testing.T) {
	srv, coord := newTestServer(t, "")
	require.NoError(t, coord.Registry().ConnectHead(&Head{HeadID: "head-1", AIType: "claude", Model: "sonnet"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/heads", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "head-1")
}

func TestHandleRememberAndRecall(t *testing.T) {
	srv, _ := newTestServer(t, "")
	router := srv.Router(nil, []string{"*"})

	body, _ := json.Marshal(map[string]interface{}{"key": "k1", "value": "v1", "category": "general", "importance": 0.5})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory/remember", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memory/recall/k1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "v1")
}

func TestHandleRecallMissingKeyReturns404(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memory/recall/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetWorkflowMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil, []string{"*"}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSendAndReceiveMessages(t *testing.T) {
	srv, coord := newTestServer(t, "")
	require.NoError(t, coord.Registry().ConnectHead(&Head{HeadID: "head-b", AIType: "claude", Model: "sonnet"}))
	router := srv.Router(nil, []string{"*"})

	body, _ := json.Marshal(map[string]interface{}{"from_head": "head-a", "message": map[string]interface{}{"text": "hi"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/heads/head-b/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/heads/head-b/messages", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hi")
}

func TestHandleReceiveMessagesWithTimeoutWaitsForDelivery(t *testing.T) {
	srv, coord := newTestServer(t, "")
	require.NoError(t, coord.Registry().ConnectHead(&Head{HeadID: "head-b", AIType: "claude", Model: "sonnet"}))
	router := srv.Router(nil, []string{"*"})

	go func() {
		time.Sleep(30 * time.Millisecond)
		coord.SendMessage("head-a", "head-b", map[string]interface{}{"text": "delayed"})
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/heads/head-b/messages?timeout_ms=1000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "delayed")
}
