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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is environment-driven startup configuration, read once at process
// start the way the teacher's orchestrator reads DATABASE_URL and friends
// via os.Getenv.
type Config struct {
	DBPath              string
	SessionID           string
	SCBEURL             string
	WSHeartbeatInterval time.Duration
	WSMaxClients        int
	QueueCapacity       int
	AmbientDeadline     time.Duration
	RateLimitPerSecond  float64
	RateLimitBurst      int
	RosterPath          string
	HTTPPort            string
	JWTSecret           string
	RedisURL            string
	AllowedOrigins      []string
}

// LoadConfig reads HYDRA_* and SCBE_URL environment variables, applying the
// spec's defaults for anything unset.
func LoadConfig() Config {
	cfg := Config{
		DBPath:              os.Getenv("HYDRA_DB_PATH"),
		SessionID:           os.Getenv("HYDRA_SESSION_ID"),
		SCBEURL:             os.Getenv("SCBE_URL"),
		RosterPath:          os.Getenv("HYDRA_ROSTER_PATH"),
		WSHeartbeatInterval: 30 * time.Second,
		WSMaxClients:        100,
		QueueCapacity:       1024,
		AmbientDeadline:     30 * time.Second,
		RateLimitPerSecond:  20,
		RateLimitBurst:      40,
		HTTPPort:            "8090",
		JWTSecret:           os.Getenv("HYDRA_JWT_SECRET"),
		RedisURL:            os.Getenv("HYDRA_REDIS_URL"),
		AllowedOrigins:      []string{"*"},
	}

	if v := os.Getenv("HYDRA_HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("HYDRA_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir := filepath.Join(home, ".hydra")
		_ = os.MkdirAll(dir, 0o755)
		cfg.DBPath = filepath.Join(dir, "ledger.db")
	}

	if v := os.Getenv("HYDRA_WS_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSHeartbeatInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HYDRA_WS_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSMaxClients = n
		}
	}
	if v := os.Getenv("HYDRA_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("HYDRA_RATE_LIMIT_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitPerSecond = f
		}
	}
	if v := os.Getenv("HYDRA_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}

	return cfg
}
