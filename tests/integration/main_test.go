// Package integration drives the control plane end to end over HTTP,
// using internal/driver/fakedriver so the suite never depends on a real
// Docker daemon being reachable in CI.
package integration

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/akshayaggarwal99/boxed/internal/api"
	"github.com/akshayaggarwal99/boxed/internal/driver/fakedriver"
	"github.com/akshayaggarwal99/boxed/internal/registry"
	"github.com/labstack/echo/v4"
)

var (
	testServer *httptest.Server
	testReg    *registry.Registry
)

func TestMain(m *testing.M) {
	drv := fakedriver.New()
	drv.SetExecFunc(func(id string, cmd []string) (string, int, error) {
		if len(cmd) > 0 && cmd[0] == "echo" {
			return strings.Join(cmd[1:], " ") + "\n", 0, nil
		}
		script := strings.Join(cmd, " ")
		if idx := strings.Index(script, "echo "); idx >= 0 {
			rest := script[idx+len("echo "):]
			rest = strings.SplitN(rest, "&&", 2)[0]
			return strings.TrimSpace(rest) + "\n", 0, nil
		}
		return "", 0, nil
	})
	testReg = registry.New(nil)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := api.NewHandler(api.RoleWrite, drv, testReg, os.TempDir(), "")
	h.RegisterRoutes(e)

	testServer = httptest.NewServer(e)
	defer testServer.Close()

	code := m.Run()
	os.Exit(code)
}

func apiURL(path string) string {
	return testServer.URL + path
}
