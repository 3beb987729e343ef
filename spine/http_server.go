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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// HeadClaims is what a head's bearer token asserts about itself, extracted
// from JWT claims the way agent/run.go's validateUserToken pulls tenant_id,
// role and permissions out of jwt.MapClaims.
type HeadClaims struct {
	HeadID string   `json:"head_id"`
	AIType string   `json:"ai_type"`
	Roles  []string `json:"roles"`
}

// Server is the HTTP front door onto a Coordinator: REST endpoints for
// every verb Execute accepts, the WebSocket hub, health and Prometheus
// metrics, grounded on orchestrator/run.go's router/CORS/handler wiring.
type Server struct {
	coord *Coordinator
	hub   *Hub

	jwtSecret   []byte
	claimsCache *redis.Client // optional; nil when HYDRA_REDIS_URL is unset
	cacheTTL    time.Duration
}

// NewServer builds a Server bound to coord and hub. When cfg.RedisURL is
// set, validated JWT claims are cached there keyed by a hash of the token,
// grounded on agent/redis_rate_limit.go's initRedis dial-and-ping pattern
// but used as a claims cache rather than a rate-limit counter (rate
// limiting is already handled in-process by Coordinator's token buckets).
func NewServer(coord *Coordinator, hub *Hub, cfg Config) *Server {
	s := &Server{
		coord:     coord,
		hub:       hub,
		jwtSecret: []byte(cfg.JWTSecret),
		cacheTTL:  5 * time.Minute,
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			splog.Warn("", "", "invalid HYDRA_REDIS_URL, claims cache disabled", map[string]interface{}{"error": err.Error()})
			return s
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			splog.Warn("", "", "redis unreachable, claims cache disabled", map[string]interface{}{"error": err.Error()})
			return s
		}
		s.claimsCache = client
	}

	return s
}

// Router builds the mux.Router wrapped in CORS middleware, ready to pass to
// http.ListenAndServe.
func (s *Server) Router(reg *prometheus.Registry, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	} else {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeHTTP)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/execute", s.handleExecute).Methods("POST")
	api.HandleFunc("/heads", s.handleListHeads).Methods("GET")
	api.HandleFunc("/heads/{head_id}/messages", s.handleReceiveMessages).Methods("GET")
	api.HandleFunc("/heads/{head_id}/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/limbs", s.handleListLimbs).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/workflows", s.handleDispatchWorkflow).Methods("POST")
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/{workflow_id}", s.handleGetWorkflow).Methods("GET")
	api.HandleFunc("/memory/remember", s.handleRemember).Methods("POST")
	api.HandleFunc("/memory/recall/{key}", s.handleRecall).Methods("GET")
	api.HandleFunc("/memory/search", s.handleSearchMemory).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// ListenAndServe starts the HTTP server on cfg.HTTPPort.
func (s *Server) ListenAndServe(cfg Config, reg *prometheus.Registry) error {
	handler := s.Router(reg, cfg.AllowedOrigins)
	splog.Info("", "", "hydra spine listening", map[string]interface{}{"port": cfg.HTTPPort})
	return http.ListenAndServe(":"+cfg.HTTPPort, handler)
}

// authMiddleware validates the bearer token on every /api/v1 call and
// stashes the resulting HeadClaims.HeadID into the decoded Command when the
// request body doesn't already name one. Open when no JWT secret is
// configured, matching the teacher's dev-mode posture of trusting the
// network boundary instead of refusing to start.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), headClaimsKey{}, claims))
		next.ServeHTTP(w, r)
	})
}

type headClaimsKey struct{}

func claimsFromContext(ctx context.Context) (*HeadClaims, bool) {
	c, ok := ctx.Value(headClaimsKey{}).(*HeadClaims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// authenticate checks the Redis claims cache before falling back to a real
// jwt.Parse, grounded on agent/run.go's jwt.Parse(tokenString, ...) +
// token.Claims.(jwt.MapClaims) pattern.
func (s *Server) authenticate(ctx context.Context, token string) (*HeadClaims, error) {
	cacheKey := tokenCacheKey(token)

	if s.claimsCache != nil {
		if raw, err := s.claimsCache.Get(ctx, cacheKey).Result(); err == nil {
			var claims HeadClaims
			if jsonErr := json.Unmarshal([]byte(raw), &claims); jsonErr == nil {
				return &claims, nil
			}
		}
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &HeadClaims{
		HeadID: getStringClaim(mapClaims, "head_id"),
		AIType: getStringClaim(mapClaims, "ai_type"),
		Roles:  getStringArrayClaim(mapClaims, "roles"),
	}
	if claims.HeadID == "" {
		return nil, fmt.Errorf("token missing head_id claim")
	}

	if s.claimsCache != nil {
		if raw, err := json.Marshal(claims); err == nil {
			s.claimsCache.Set(ctx, cacheKey, raw, s.cacheTTL)
		}
	}

	return claims, nil
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "hydra:jwt:" + hex.EncodeToString(sum[:])
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	v, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return v
}

func getStringArrayClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ---- handlers ---------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if claims, ok := claimsFromContext(r.Context()); ok && cmd.HeadID == "" {
		cmd.HeadID = claims.HeadID
	}
	result := s.coord.Execute(r.Context(), cmd)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListHeads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Registry().Heads())
}

func (s *Server) handleListLimbs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Registry().Limbs())
}

func (s *Server) handleReceiveMessages(w http.ResponseWriter, r *http.Request) {
	headID := mux.Vars(r)["head_id"]

	timeoutMS, err := strconv.Atoi(r.URL.Query().Get("timeout_ms"))
	if err != nil || timeoutMS <= 0 {
		writeJSON(w, http.StatusOK, s.coord.ReceiveMessages(headID))
		return
	}

	msgs := s.coord.ReceiveMessagesWait(r.Context(), headID, time.Duration(timeoutMS)*time.Millisecond)
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	toHead := mux.Vars(r)["head_id"]
	var body struct {
		FromHead string                 `json:"from_head"`
		Message  map[string]interface{} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.SendMessage(body.FromHead, toHead, body.Message))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.Librarian().Stats()
	if err != nil {
		splog.ErrorWithCode("", "", "librarian stats failed", http.StatusInternalServerError, err, nil)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDispatchWorkflow(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Workflows().Dispatch(r.Context(), cmd))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Workflows().List())
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["workflow_id"]
	wf, ok := s.coord.Workflows().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key        string      `json:"key"`
		Value      interface{} `json:"value"`
		Category   string      `json:"category"`
		Importance float64     `json:"importance"`
		Keywords   []string    `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coord.Librarian().Remember(body.Key, body.Value, body.Category, body.Importance, body.Keywords); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := s.coord.Librarian().Recall(key)
	if !ok {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (s *Server) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	var q MemoryQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Librarian().Search(q))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
