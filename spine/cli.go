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
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const banner = `
╔═══════════════════════════════════════════════════════════════╗
║                    SCBE HYDRA SYSTEM                           ║
║                "Many Heads, One Governed Body"                 ║
╠═══════════════════════════════════════════════════════════════╣
║  Session: %-50s ║
║  Ledger:  %-50s ║
╚═══════════════════════════════════════════════════════════════╝
`

// cliOptions holds the --json/--no-banner/--scbe-url flags shared by every
// subcommand, grounded on hydra/spine.py's HydraSpine constructor flags.
type cliOptions struct {
	jsonOut  bool
	noBanner bool
	scbeURL  string
}

// Run is cmd/spine's sole entry point: parses the subcommand named in
// os.Args[1:] and executes it against a freshly-opened Coordinator. It
// returns the process exit code (spec §6: 0 success, 1 argument error,
// 2 runtime error) rather than calling os.Exit itself, so tests can drive
// it without killing the test binary.
func Run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: spine <serve|interactive|status|stats|execute|workflow|remember|recall|search> [args...]")
		return 1
	}

	fs := flag.NewFlagSet("spine", flag.ContinueOnError)
	opts := cliOptions{}
	fs.BoolVar(&opts.jsonOut, "json", false, "structured JSON output")
	fs.BoolVar(&opts.noBanner, "no-banner", false, "suppress the startup banner")
	fs.StringVar(&opts.scbeURL, "scbe-url", "", "external governance endpoint override")
	// Global flags precede the subcommand name (spec §6), so parse them off
	// the front and take the first remaining positional token as the
	// subcommand.
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: spine <serve|interactive|status|stats|execute|workflow|remember|recall|search> [args...]")
		return 1
	}
	subcommand, subArgs := rest[0], rest[1:]

	cfg := LoadConfig()
	if opts.scbeURL != "" {
		cfg.SCBEURL = opts.scbeURL
	}

	ledger, err := OpenLedger(cfg.DBPath, cfg.SessionID)
	if err != nil {
		splog.ErrorWithCode("", "", "failed to open ledger", 2, err, map[string]interface{}{"db_path": cfg.DBPath})
		fmt.Fprintln(os.Stderr, "spine: failed to open ledger:", err)
		return 2
	}
	defer ledger.Close()

	gov := DefaultGovernanceConfig()
	if cfg.SCBEURL != "" {
		gov.Tongues = append(gov.Tongues, NewHTTPTongue(cfg.SCBEURL))
	}
	coord := NewCoordinator(ledger, gov, cfg)
	coord.SetMetrics(NewMetrics(prometheus.NewRegistry()))

	if cfg.RosterPath != "" {
		if roster, err := LoadRoster(cfg.RosterPath); err == nil {
			coord.Registry().ApplyRoster(roster)
		} else {
			splog.Warn("", "", "failed to load roster", map[string]interface{}{"roster_path": cfg.RosterPath, "error": err.Error()})
			fmt.Fprintln(os.Stderr, "spine: failed to load roster:", err)
		}
	}

	if !opts.noBanner {
		fmt.Printf(banner, truncate(ledger.SessionID(), 50), truncate(ledger.DBPath(), 50))
	}

	switch subcommand {
	case "serve":
		return runServe(coord, cfg)
	case "interactive":
		runInteractive(coord, opts)
		return 0
	case "status":
		printStatus(coord)
		return 0
	case "stats":
		return printStats(coord, opts)
	case "execute":
		return runExecute(coord, subArgs, opts)
	case "workflow":
		return runWorkflow(coord, subArgs, opts)
	case "remember":
		return runRemember(coord, subArgs, opts)
	case "recall":
		return runRecall(coord, subArgs, opts)
	case "search":
		return runSearch(coord, subArgs, opts)
	default:
		fmt.Fprintln(os.Stderr, "spine: unknown subcommand:", subcommand)
		return 1
	}
}

// runServe starts the WebSocket hub and HTTP server, the out-of-band
// transport alongside the CLI's stdin pipe (spec §6's WebSocket interface).
func runServe(coord *Coordinator, cfg Config) int {
	hub := NewHub(coord, cfg.WSHeartbeatInterval, cfg.WSMaxClients, cfg.AllowedOrigins)
	server := NewServer(coord, hub, cfg)
	if err := server.ListenAndServe(cfg, nil); err != nil {
		splog.ErrorWithCode("", "", "http server failed", 2, err, map[string]interface{}{"port": cfg.HTTPPort})
		fmt.Fprintln(os.Stderr, "spine: http server failed:", err)
		return 2
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// runInteractive reads JSON commands (or "exit"/"status"/"stats") from
// stdin one line at a time, grounded on hydra/spine.py's
// _run_terminal_mode pipe loop.
func runInteractive(coord *Coordinator, opts cliOptions) {
	fmt.Println("[SPINE] Terminal mode active. Pipe JSON commands or type 'exit' to quit.")
	fmt.Println(`[SPINE] Example: echo '{"action": "navigate", "target": "https://example.com"}' | spine interactive`)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	isTerminal := false
	if fi, err := os.Stdin.Stat(); err == nil {
		isTerminal = (fi.Mode() & os.ModeCharDevice) != 0
	}

	for {
		if isTerminal {
			fmt.Print("hydra> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit":
			fmt.Println("[SPINE] Shutting down...")
			return
		case "status":
			printStatus(coord)
			continue
		case "stats":
			printStats(coord, opts)
			continue
		}

		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			fmt.Println(`{"success":false,"error":"invalid JSON command"}`)
			continue
		}
		result := coord.Execute(context.Background(), cmd)
		emitResult(result, opts)
	}
}

func printStatus(coord *Coordinator) {
	heads := coord.Registry().Heads()
	limbs := coord.Registry().Limbs()
	workflows := coord.Workflows().List()

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("HYDRA STATUS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Session: %s\n", coord.Ledger().SessionID())
	fmt.Printf("Active Heads: %d\n", len(heads))
	for _, h := range heads {
		fmt.Printf("  - %s: %s/%s\n", h.HeadID, h.AIType, h.Model)
	}
	fmt.Printf("Active Limbs: %d\n", len(limbs))
	for _, l := range limbs {
		fmt.Printf("  - %s: %s\n", l.LimbID(), l.LimbType())
	}
	fmt.Printf("Active Workflows: %d\n", len(workflows))
	fmt.Println(strings.Repeat("=", 50))
}

func printStats(coord *Coordinator, opts cliOptions) int {
	stats, err := coord.Librarian().Stats()
	if err != nil {
		fmt.Fprintln(os.Stderr, "spine: stats failed:", err)
		return 2
	}
	emitJSON(stats, opts)
	return 0
}

func runExecute(coord *Coordinator, args []string, opts cliOptions) int {
	var raw string
	if len(args) > 0 {
		raw = strings.Join(args, " ")
	} else {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spine: failed to read command from stdin:", err)
			return 1
		}
		raw = string(b)
	}

	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		fmt.Fprintln(os.Stderr, "spine: invalid command JSON:", err)
		return 1
	}

	result := coord.Execute(context.Background(), cmd)
	emitResult(result, opts)
	if !result.Success {
		return 2
	}
	return 0
}

func runWorkflow(coord *Coordinator, args []string, opts cliOptions) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: spine workflow {list|run|show|save} [args...]")
		return 1
	}

	switch args[0] {
	case "list":
		emitJSON(coord.Workflows().List(), opts)
		return 0
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: spine workflow run <workflow_id>")
			return 1
		}
		result := coord.Workflows().Execute(context.Background(), args[1])
		emitResult(result, opts)
		if !result.Success {
			return 2
		}
		return 0
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: spine workflow show <workflow_id>")
			return 1
		}
		wf, ok := coord.Workflows().Get(args[1])
		if !ok {
			fmt.Fprintln(os.Stderr, "spine: workflow not found:", args[1])
			return 2
		}
		emitJSON(wf, opts)
		return 0
	case "save":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: spine workflow save <name> < phases.json")
			return 1
		}
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, "spine: failed to read phases from stdin:", err)
			return 1
		}
		var phases []Command
		if err := json.Unmarshal(raw, &phases); err != nil {
			fmt.Fprintln(os.Stderr, "spine: invalid phases JSON:", err)
			return 1
		}
		key := coord.Librarian().SaveWorkflowTemplate(args[1], "", phases, nil)
		emitJSON(map[string]string{"key": key}, opts)
		return 0
	default:
		fmt.Fprintln(os.Stderr, "spine: unknown workflow subcommand:", args[0])
		return 1
	}
}

func runRemember(coord *Coordinator, args []string, opts cliOptions) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: spine remember <key> <value>")
		return 1
	}
	key := args[0]
	value := strings.Join(args[1:], " ")

	var decoded interface{} = value
	var probe interface{}
	if err := json.Unmarshal([]byte(value), &probe); err == nil {
		decoded = probe
	}

	if err := coord.Librarian().Remember(key, decoded, "general", 0.5, nil); err != nil {
		fmt.Fprintln(os.Stderr, "spine: remember failed:", err)
		return 2
	}
	emitJSON(map[string]interface{}{"success": true, "key": key}, opts)
	return 0
}

func runRecall(coord *Coordinator, args []string, opts cliOptions) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: spine recall <key>")
		return 1
	}
	value, ok := coord.Librarian().Recall(args[0])
	if !ok {
		fmt.Fprintln(os.Stderr, "spine: no such key:", args[0])
		return 2
	}
	emitJSON(map[string]interface{}{"key": args[0], "value": value}, opts)
	return 0
}

func runSearch(coord *Coordinator, args []string, opts cliOptions) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: spine search <terms...>")
		return 1
	}
	results := coord.Librarian().Search(MemoryQuery{Keywords: args})
	emitJSON(results, opts)
	return 0
}

func emitResult(result Result, opts cliOptions) {
	emitJSON(result, opts)
}

func emitJSON(v interface{}, opts cliOptions) {
	var b []byte
	var err error
	if opts.jsonOut {
		b, err = json.Marshal(v)
	} else {
		b, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "spine: failed to encode output:", err)
		return
	}
	fmt.Println(string(b))
}
