package cli

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "fs",
	Short: "Move files into and out of a sandbox",
}

var putCmd = &cobra.Command{
	Use:   "cp [local-path] [sandbox-id]:[remote-path]",
	Short: "Upload a local file into a sandbox",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		localPath := args[0]
		parts := splitRemote(args[1])
		if parts == nil {
			fail(fmt.Errorf("invalid remote format, use ID:/path/to/dest"))
		}
		id, remotePath := parts[0], parts[1]

		file, err := os.Open(localPath)
		if err != nil {
			fail(err)
		}
		defer file.Close()

		r, w := io.Pipe()
		m := multipart.NewWriter(w)
		go func() {
			defer w.Close()
			defer m.Close()
			m.WriteField("sandbox_id", id)
			m.WriteField("target_path", remotePath)
			part, err := m.CreateFormFile("file", filepath.Base(localPath))
			if err != nil {
				return
			}
			io.Copy(part, file)
		}()

		req, err := http.NewRequest(http.MethodPost, apiBaseURL+"/apis/envs/sandbox/v1/sandbox/upload", r)
		if err != nil {
			fail(err)
		}
		req.Header.Set("Content-Type", m.FormDataContentType())
		if apiKey != "" {
			req.Header.Set("X-Boxed-API-Key", apiKey)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fail(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			fail(fmt.Errorf("upload failed: %s: %s", resp.Status, body))
		}
		fmt.Printf("uploaded to %s:%s\n", id, remotePath)
	},
}

var getCmd = &cobra.Command{
	Use:   "cat [sandbox-id] [path]",
	Short: "Print a sandbox file's contents",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		path := ""
		if parts := splitRemote(id); parts != nil {
			id, path = parts[0], parts[1]
		} else if len(args) > 1 {
			path = args[1]
		}
		if path == "" {
			fail(fmt.Errorf("path is required, use ID:path or pass path as second argument"))
		}

		var out struct {
			Content string `json:"content"`
		}
		body := map[string]any{"sandbox_id": id, "path": path}
		if err := doRequest(http.MethodPost, "/apis/envs/sandbox/v1/sandbox/read_file", body, &out); err != nil {
			fail(err)
		}
		fmt.Print(out.Content)
	},
}

func init() {
	filesCmd.AddCommand(putCmd)
	filesCmd.AddCommand(getCmd)
	RootCmd.AddCommand(filesCmd)
}

func splitRemote(s string) []string {
	for i, c := range s {
		if c == ':' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}
