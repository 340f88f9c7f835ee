package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiBaseURL string
	image      string
	cpus       float64
	memory     string
	startupTO  int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage sandboxes against a running control plane",
}

func doRequest(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, apiBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Boxed-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

var sandboxStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new sandbox",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			SandboxID string `json:"sandbox_id"`
		}
		body := map[string]any{"image": image, "cpus": cpus, "memory": memory, "startup_timeout": startupTO}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/start", body, &resp); err != nil {
			fail(err)
		}
		fmt.Println(resp.SandboxID)
	},
}

var sandboxStopCmd = &cobra.Command{
	Use:   "stop [sandbox-id]",
	Short: "Stop a sandbox",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]any{"sandbox_id": args[0]}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/stop", body, nil); err != nil {
			fail(err)
		}
		fmt.Println("stopped")
	},
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status [sandbox-id]",
	Short: "Show a sandbox's bring-up status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var out map[string]any
		if err := doRequest(http.MethodGet, "/apis/envs/sandbox/v1/sandbox/status?sandbox_id="+args[0], nil, &out); err != nil {
			fail(err)
		}
		fmt.Printf("%+v\n", out)
	},
}

var execSessionName string

var sandboxExecCmd = &cobra.Command{
	Use:   "exec [sandbox-id] [command...]",
	Short: "Run a command in a sandbox, optionally inside a named session",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		command := args[1:]

		if execSessionName != "" {
			var obs struct {
				Output   string `json:"output"`
				ExitCode int    `json:"exit_code"`
			}
			body := map[string]any{"sandbox_id": id, "session": execSessionName, "command": joinArgs(command)}
			if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/run_in_session", body, &obs); err != nil {
				fail(err)
			}
			fmt.Print(obs.Output)
			os.Exit(obs.ExitCode)
		}

		var resp struct {
			Stdout   string `json:"stdout"`
			ExitCode int    `json:"exit_code"`
		}
		body := map[string]any{"sandbox_id": id, "command": command}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/execute", body, &resp); err != nil {
			fail(err)
		}
		fmt.Print(resp.Stdout)
		os.Exit(resp.ExitCode)
	},
}

var sandboxSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create a named session in a sandbox",
}

var sandboxSessionCreateCmd = &cobra.Command{
	Use:   "create [sandbox-id] [session-name]",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]any{"sandbox_id": args[0], "session": args[1]}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/create_session", body, nil); err != nil {
			fail(err)
		}
		fmt.Println("session created")
	},
}

var sandboxSessionCloseCmd = &cobra.Command{
	Use:   "close [sandbox-id] [session-name]",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]any{"sandbox_id": args[0], "session": args[1]}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/close_session", body, nil); err != nil {
			fail(err)
		}
		fmt.Println("session closed")
	},
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	sandboxCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "http://localhost:8080", "control plane base URL")

	sandboxStartCmd.Flags().StringVar(&image, "image", "python:3.10-slim", "container image")
	sandboxStartCmd.Flags().Float64Var(&cpus, "cpus", 1.0, "CPU cores")
	sandboxStartCmd.Flags().StringVar(&memory, "memory", "512m", "memory (e.g. 512m, 2g)")
	sandboxStartCmd.Flags().IntVar(&startupTO, "startup-timeout", 60, "startup timeout in seconds")

	sandboxExecCmd.Flags().StringVar(&execSessionName, "session", "", "run inside this named session instead of a one-shot command")

	sandboxSessionCmd.AddCommand(sandboxSessionCreateCmd, sandboxSessionCloseCmd)
	sandboxCmd.AddCommand(sandboxStartCmd, sandboxStopCmd, sandboxStatusCmd, sandboxExecCmd, sandboxSessionCmd)
	RootCmd.AddCommand(sandboxCmd)
}
