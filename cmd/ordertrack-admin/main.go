// ABOUTME: Admin CLI for inspecting a running ordertrack server
// ABOUTME: Talks to the HTTP API with JWT authentication from env or token file

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/ordertrack/internal/model"
)

const banner = `
               _           _                  _
  ___  _ __ __| | ___ _ __| |_ _ __ __ _  ___| | __
 / _ \| '__/ _' |/ _ \ '__| __| '__/ _' |/ __| |/ /
| (_) | | | (_| |  __/ |  | |_| | | (_| | (__|   <
 \___/|_|  \__,_|\___|_|   \__|_|  \__,_|\___|_|\_\  admin
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("ORDERTRACK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := getToken()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL, token)
	case "orders":
		err = cmdOrders(baseURL, token, args)
	case "processes":
		err = cmdProcesses(baseURL, token)
	case "stats":
		err = cmdStats(baseURL, token)
	case "state":
		err = cmdState(baseURL, token)
	case "history":
		err = cmdHistory(baseURL, token)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: ordertrack-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Check server health and auth")
	fmt.Println("  orders                  List all orders")
	fmt.Println("  orders <id>             Show one order")
	fmt.Println("  processes               List all processes")
	fmt.Println("  stats                   Show cross-module stats")
	fmt.Println("  state                   Dump the full state record (admin only)")
	fmt.Println("  history                 Show recent mutation history (admin only)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  ORDERTRACK_URL          Server URL (default: http://localhost:8080)")
	fmt.Println("  ORDERTRACK_TOKEN        JWT authentication token")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export ORDERTRACK_TOKEN=\"eyJhbG...\"")
	fmt.Println("  ordertrack-admin stats")
	fmt.Println("  ordertrack-admin orders")
	fmt.Println()
}

// apiGet performs an authenticated GET and decodes the JSON response into out.
func apiGet(baseURL, token, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError turns a non-200 response into a readable error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload map[string]string
	if json.Unmarshal(bytes.TrimSpace(body), &payload) == nil && payload["error"] != "" {
		return fmt.Errorf("%s (status %d)", payload["error"], resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func cmdStatus(baseURL, token string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	var health map[string]string
	if err := apiGet(baseURL, "", "/health", &health); err != nil {
		yellow.Printf("  Server:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Server:  ")
	fmt.Printf("connected to %s\n", baseURL)

	if token == "" {
		yellow.Printf("  Auth:    ")
		fmt.Println("(no token - set ORDERTRACK_TOKEN)")
		fmt.Println()
		return nil
	}

	var stats map[string]any
	if err := apiGet(baseURL, token, "/api/stats", &stats); err != nil {
		yellow.Printf("  Auth:    ")
		color.Red("failed (%v)\n", err)
	} else {
		green.Printf("  Auth:    ")
		fmt.Println("token accepted")
	}

	fmt.Println()
	return nil
}

func cmdOrders(baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("ORDERTRACK_TOKEN environment variable is required")
	}

	if len(args) > 0 {
		return cmdOrderShow(baseURL, token, args[0])
	}

	var resp struct {
		Orders []model.Order `json:"orders"`
	}
	if err := apiGet(baseURL, token, "/api/orders", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Orders")
	cyan.Println("  ------")

	if len(resp.Orders) == 0 {
		fmt.Println("  (no orders)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tCUSTOMER\tSTATUS\tCREATED")
	fmt.Fprintln(w, "  --\t--------\t------\t-------")
	for _, o := range resp.Orders {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			truncate(o.ID, 12), truncate(o.Customer, 24), o.Status, o.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdOrderShow(baseURL, token, id string) error {
	var order model.Order
	if err := apiGet(baseURL, token, "/api/orders/"+id, &order); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Order")
	cyan.Println("  -----")
	fmt.Printf("  ID:       %s\n", order.ID)
	fmt.Printf("  Customer: %s\n", order.Customer)
	fmt.Printf("  Status:   %s\n", order.Status)
	if order.ProcessID != "" {
		fmt.Printf("  Process:  %s\n", order.ProcessID)
	}
	if order.Notes != "" {
		fmt.Printf("  Notes:    %s\n", order.Notes)
	}
	fmt.Printf("  Created:  %s\n", order.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Updated:  %s\n", order.UpdatedAt.Format(time.RFC3339))
	fmt.Println()

	return nil
}

func cmdProcesses(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("ORDERTRACK_TOKEN environment variable is required")
	}

	var resp struct {
		Processes []model.Process `json:"processes"`
	}
	if err := apiGet(baseURL, token, "/api/processes", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Processes")
	cyan.Println("  ---------")

	if len(resp.Processes) == 0 {
		fmt.Println("  (no processes)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSTEP\tSTATE")
	fmt.Fprintln(w, "  --\t----\t----\t-----")
	for _, p := range resp.Processes {
		state := fmt.Sprintf("%d/%d", p.Step, len(p.Steps))
		label := "in progress"
		if p.Complete() {
			label = "complete"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(p.ID, 12), truncate(p.Name, 24), state, label)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdStats(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("ORDERTRACK_TOKEN environment variable is required")
	}

	var stats struct {
		Orders             int            `json:"orders"`
		OrdersByStatus     map[string]int `json:"orders_by_status"`
		Users              int            `json:"users"`
		Processes          int            `json:"processes"`
		CompletedProcesses int            `json:"completed_processes"`
	}
	if err := apiGet(baseURL, token, "/api/stats", &stats); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Stats")
	cyan.Println("  -----")
	fmt.Printf("  Orders:              %d\n", stats.Orders)
	for status, count := range stats.OrdersByStatus {
		fmt.Printf("    %-18s %d\n", status+":", count)
	}
	fmt.Printf("  Users:               %d\n", stats.Users)
	fmt.Printf("  Processes:           %d\n", stats.Processes)
	fmt.Printf("  Completed processes: %d\n", stats.CompletedProcesses)
	fmt.Println()

	return nil
}

func cmdState(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("ORDERTRACK_TOKEN environment variable is required")
	}

	var resp struct {
		State map[string]json.RawMessage `json:"state"`
	}
	if err := apiGet(baseURL, token, "/api/state", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  State Record")
	cyan.Println("  ------------")

	keys := make([]string, 0, len(resp.State))
	for key := range resp.State {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		pretty, err := json.MarshalIndent(resp.State[key], "  ", "  ")
		if err != nil {
			pretty = resp.State[key]
		}
		color.New(color.FgYellow).Printf("  %s:\n", key)
		fmt.Printf("  %s\n", pretty)
	}
	fmt.Println()

	return nil
}

func cmdHistory(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("ORDERTRACK_TOKEN environment variable is required")
	}

	var resp struct {
		History []struct {
			Name      string    `json:"name"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"history"`
	}
	if err := apiGet(baseURL, token, "/api/history", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Mutation History")
	cyan.Println("  ----------------")

	if len(resp.History) == 0 {
		fmt.Println("  (empty)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tMUTATION")
	fmt.Fprintln(w, "  ----\t--------")
	for _, e := range resp.History {
		fmt.Fprintf(w, "  %s\t%s\n", e.Timestamp.Format("Jan 02 15:04:05"), e.Name)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// getToken returns the JWT token from ORDERTRACK_TOKEN env var or the
// ~/.config/ordertrack/token file written by bootstrap.
func getToken() string {
	if token := os.Getenv("ORDERTRACK_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "ordertrack", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
