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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the coordinator's counters/gauges/histograms to a
// Prometheus registry, grounded on orchestrator/metrics_collector.go's
// request/policy/system metric groupings but expressed with real
// prometheus client types instead of hand-rolled structs — this is the
// one place in the tree where the teacher's own exporter was abandoned in
// favor of the actual client library the go.mod already depends on.
type Metrics struct {
	ActionsTotal      *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec
	TrustScore        prometheus.Histogram
	VectorNorm        prometheus.Histogram
	AntibodyLoad      *prometheus.GaugeVec
	DispatchDuration  *prometheus.HistogramVec
	MailboxDepth      *prometheus.GaugeVec
	SwitchboardDepth  *prometheus.GaugeVec
	WSClientsActive   prometheus.Gauge
	HoneypotDeploys   prometheus.Counter
}

// NewMetrics builds and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "actions_total",
			Help: "Total Action Commands dispatched, by action verb.",
		}, []string{"action"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "decisions_total",
			Help: "Total Governance decisions, by decision category.",
		}, []string{"decision"}),
		TrustScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "trust_score",
			Help:    "Distribution of computed trust scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		VectorNorm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "vector_norm",
			Help:    "Distribution of governance vector norms.",
			Buckets: prometheus.DefBuckets,
		}),
		AntibodyLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "antibody_load",
			Help: "Current per-head antibody load.",
		}, []string{"head_id"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "dispatch_duration_seconds",
			Help:    "Time from Dispatcher.Execute entry to turnstile resolution, by action verb.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "mailbox_depth",
			Help: "Pending inter-head messages, by head id.",
		}, []string{"head_id"}),
		SwitchboardDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "switchboard_queue_depth",
			Help: "Pending switchboard tasks, by role.",
		}, []string{"role"}),
		WSClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "ws_clients_active",
			Help: "Currently connected WebSocket clients.",
		}),
		HoneypotDeploys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "spine", Name: "honeypot_deploys_total",
			Help: "Total times the Turnstile redirected an action to a honeypot.",
		}),
	}

	reg.MustRegister(
		m.ActionsTotal, m.DecisionsTotal, m.TrustScore, m.VectorNorm,
		m.AntibodyLoad, m.DispatchDuration, m.MailboxDepth, m.SwitchboardDepth,
		m.WSClientsActive, m.HoneypotDeploys,
	)
	return m
}

// Observe records one completed Execute call's governance/turnstile outputs.
func (m *Metrics) Observe(cmd Command, gov GovernanceResult, outcome TurnstileOutcome, elapsed float64) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(cmd.Action).Inc()
	m.DecisionsTotal.WithLabelValues(string(gov.Decision)).Inc()
	m.TrustScore.Observe(gov.TrustScore)
	m.VectorNorm.Observe(gov.VectorNorm)
	m.DispatchDuration.WithLabelValues(cmd.Action).Observe(elapsed)

	headID := cmd.HeadID
	if headID == "" {
		headID = "_default"
	}
	m.AntibodyLoad.WithLabelValues(headID).Set(outcome.AntibodyLoad)

	if outcome.DeployHoneypot {
		m.HoneypotDeploys.Inc()
	}
}
