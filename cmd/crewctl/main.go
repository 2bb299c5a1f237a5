package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

type ctlResponse struct {
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	ID     string          `json:"id,omitempty"`
	TaskID string          `json:"task_id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Final  json.RawMessage `json:"final,omitempty"`
	Agents []agentInfo     `json:"agents,omitempty"`

	Orchestrator json.RawMessage `json:"orchestrator,omitempty"`
	Registry     json.RawMessage `json:"registry,omitempty"`
	Health       json.RawMessage `json:"health,omitempty"`
	Schedules    []scheduleInfo  `json:"schedules,omitempty"`
}

type agentInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
	Load         int      `json:"load"`
}

type scheduleInfo struct {
	ID         string `json:"id"`
	AgentName  string `json:"agent_name"`
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	TaskType   string `json:"task_type"`
	Status     string `json:"status"`
	LastStatus string `json:"last_status,omitempty"`
}

func sendCtl(natsURL, topic string, payload any) (*ctlResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(topic, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control request: %w", err)
	}

	var resp ctlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid --params JSON: %w", err)
	}
	return params, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  crewctl run --agent "..." --type "..." [--params '{"k":"v"}']`)
	fmt.Fprintln(os.Stderr, `  crewctl queue --agent "..." --type "..." [--params '{"k":"v"}']`)
	fmt.Fprintln(os.Stderr, `  crewctl workflow --steps '[{"agent":"...","type":"..."},...]'`)
	fmt.Fprintln(os.Stderr, "  crewctl agents")
	fmt.Fprintln(os.Stderr, "  crewctl stats")
	fmt.Fprintln(os.Stderr, "  crewctl health")
	fmt.Fprintln(os.Stderr, `  crewctl schedule create --agent "..." --name "..." --schedule "..." --type "..."`)
	fmt.Fprintln(os.Stderr, "  crewctl schedule list")
	fmt.Fprintln(os.Stderr, `  crewctl schedule delete --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl schedule pause --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl schedule resume --id "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(raw json.RawMessage) {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err == nil {
		pretty, _ := json.MarshalIndent(buf, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	fmt.Println(string(raw))
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "run", "queue":
		args := parseArgs(rest)
		if args["agent"] == "" || args["type"] == "" {
			fatal("--agent and --type are required")
		}
		params, err := parseParams(args["params"])
		if err != nil {
			fatal("%v", err)
		}

		topic := "ctl.execute_task"
		if command == "queue" {
			topic = "ctl.queue_task"
		}
		resp, err := sendCtl(natsURL, topic, map[string]any{
			"agent":  args["agent"],
			"type":   args["type"],
			"params": params,
		})
		if err != nil {
			fatal("%v", err)
		}
		if command == "queue" {
			fmt.Printf("Task queued: %s\n", resp.TaskID)
		} else {
			fmt.Printf("Task %s completed:\n", resp.TaskID)
			printJSON(resp.Result)
		}

	case "workflow":
		args := parseArgs(rest)
		if args["steps"] == "" {
			fatal("--steps is required")
		}
		var steps []map[string]any
		if err := json.Unmarshal([]byte(args["steps"]), &steps); err != nil {
			fatal("invalid --steps JSON: %v", err)
		}
		resp, err := sendCtl(natsURL, "ctl.run_workflow", map[string]any{"steps": steps})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println("Workflow completed:")
		printJSON(resp.Final)

	case "agents":
		resp, err := sendCtl(natsURL, "ctl.list_agents", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		if len(resp.Agents) == 0 {
			fmt.Println("No agents registered.")
			return
		}
		for _, a := range resp.Agents {
			fmt.Printf("  %-20s %-12s %-8s load=%d %v\n", a.Name, a.Type, a.Status, a.Load, a.Capabilities)
		}

	case "stats":
		resp, err := sendCtl(natsURL, "ctl.stats", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println("Orchestrator:")
		printJSON(resp.Orchestrator)
		fmt.Println("Registry:")
		printJSON(resp.Registry)

	case "health":
		resp, err := sendCtl(natsURL, "ctl.health", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		printJSON(resp.Health)

	case "schedule":
		if len(rest) < 1 {
			usage()
		}
		runSchedule(natsURL, rest[0], parseArgs(rest[1:]))

	default:
		fatal("unknown command: %s", command)
	}
}

func runSchedule(natsURL, op string, args map[string]string) {
	req := map[string]any{"op": op}

	switch op {
	case "create":
		if args["agent"] == "" || args["name"] == "" || args["schedule"] == "" || args["type"] == "" {
			fatal("--agent, --name, --schedule, and --type are required")
		}
		params, err := parseParams(args["params"])
		if err != nil {
			fatal("%v", err)
		}
		req["agent"] = args["agent"]
		req["name"] = args["name"]
		req["schedule"] = args["schedule"]
		req["task_type"] = args["type"]
		if params != nil {
			req["params"] = params
		}
	case "list":
	case "delete", "pause", "resume":
		if args["id"] == "" {
			fatal("--id is required")
		}
		req["id"] = args["id"]
	default:
		fatal("unknown schedule op: %s", op)
	}

	resp, err := sendCtl(natsURL, "ctl.schedules", req)
	if err != nil {
		fatal("%v", err)
	}

	switch op {
	case "create":
		fmt.Printf("Schedule created: %s\n", resp.ID)
	case "list":
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, s := range resp.Schedules {
			fmt.Printf("  %s  %-8s %-20s %s -> %s [%s]\n", s.ID, s.Status, s.Name, s.Schedule, s.AgentName, s.TaskType)
		}
	default:
		fmt.Println("OK.")
	}
}
