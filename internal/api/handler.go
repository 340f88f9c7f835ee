// Package api implements the control plane's HTTP surface (C5): request
// routing, auth, access logging, and error mapping around the sandbox
// registry and actors. One Handler serves both the write and read roles;
// Role only gates which routes are registered.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/actor"
	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/format"
	"github.com/akshayaggarwal99/boxed/internal/proto"
	"github.com/akshayaggarwal99/boxed/internal/registry"
	"github.com/akshayaggarwal99/boxed/internal/reqctx"
	"github.com/akshayaggarwal99/boxed/internal/status"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Role gates which route group a Handler registers.
type Role string

const (
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

// Handler wires the registry, driver, and status directory into echo
// routes. It follows the teacher's NewHandler(d, apiKey) constructor
// shape, generalized with a Role and a Registry.
type Handler struct {
	role      Role
	drv       driver.Driver
	reg       *registry.Registry
	statusDir string
	apiKey    string
}

func NewHandler(role Role, d driver.Driver, reg *registry.Registry, statusDir, apiKey string) *Handler {
	return &Handler{role: role, drv: d, reg: reg, statusDir: statusDir, apiKey: apiKey}
}

// RegisterRoutes mounts the control plane's HTTP surface under the two
// path prefixes spec.md §6 names.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))
	e.Use(h.accessLog)

	sandboxGroup := e.Group("/apis/envs/sandbox/v1")
	if h.apiKey != "" {
		sandboxGroup.Use(h.authMiddleware)
	}

	sandboxGroup.POST("/sandbox/status", h.sandboxStatus) // accept POST too for convenience
	sandboxGroup.GET("/sandbox/status", h.sandboxStatus)
	sandboxGroup.GET("/sandbox/statistics", h.statistics)

	if h.role == RoleWrite {
		sandboxGroup.POST("/sandbox/start", h.sandboxStart)
		sandboxGroup.POST("/sandbox/stop", h.sandboxStop)
		sandboxGroup.POST("/sandbox/create_session", h.createSession)
		sandboxGroup.POST("/sandbox/close_session", h.closeSession)
		sandboxGroup.POST("/sandbox/run_in_session", h.runInSession)
		sandboxGroup.POST("/sandbox/execute", h.execute)
		sandboxGroup.POST("/sandbox/read_file", h.readFile)
		sandboxGroup.POST("/sandbox/write_file", h.writeFile)
		sandboxGroup.POST("/sandbox/upload", h.upload)
		sandboxGroup.POST("/sandbox/arun", h.arun)

		envGroup := e.Group("/apis/v1/envs/gem")
		if h.apiKey != "" {
			envGroup.Use(h.authMiddleware)
		}
		envGroup.POST("/env/make", h.envPassthrough("env.make"))
		envGroup.POST("/env/step", h.envPassthrough("env.step"))
		envGroup.POST("/env/reset", h.envPassthrough("env.reset"))
		envGroup.POST("/env/close", h.envPassthrough("env.close"))
		envGroup.POST("/env/list", h.envPassthrough("env.list"))

		sandboxGroup.GET("/warmup/status", h.warmupStatus)
		sandboxGroup.POST("/warmup/fill", h.warmupFill)
	}
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-Boxed-API-Key")
		if key == "" {
			key = c.QueryParam("api_key")
		}
		if h.apiKey != "" && key != h.apiKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

// accessLog logs one structured line per request and stashes the
// request's sandbox_id (read from the body by each handler) into context
// via internal/reqctx so downstream calls never need a global.
func (h *Handler) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		sid := reqctx.SandboxID(c.Request().Context())
		evt := log.Info()
		if err != nil {
			evt = log.Warn()
		}
		evt.Str("method", c.Request().Method).
			Str("url", c.Request().URL.String()).
			Str("sandbox_id", sid).
			Str("trace", c.Request().Header.Get("X-Trace-Id")).
			Dur("duration", time.Since(start)).
			Msg("request")
		return err
	}
}

// writeError maps an error to the control plane's HTTP error contract,
// including the 511 transfer envelope.
func writeError(c echo.Context, err error) error {
	var te *apierr.TransferError
	if errors.As(err, &te) {
		return c.JSON(511, map[string]any{"rockletexception": te})
	}
	kind := apierr.ClassifyErr(err)
	return c.JSON(apierr.HTTPStatus(kind), map[string]string{"detail": err.Error()})
}

func withSandboxID(c echo.Context, id string) {
	ctx := reqctx.WithSandboxID(c.Request().Context(), id)
	c.SetRequest(c.Request().WithContext(ctx))
}

type startRequest struct {
	Image          string            `json:"image"`
	CPUs           float64           `json:"cpus"`
	Memory         string            `json:"memory"`
	Env            map[string]string `json:"env"`
	StartupTimeout int               `json:"startup_timeout"`
}

type startResponse struct {
	SandboxID string  `json:"sandbox_id"`
	HostName  string  `json:"host_name"`
	HostIP    string  `json:"host_ip"`
	CPUs      float64 `json:"cpus"`
	Memory    string  `json:"memory"`
}

func (h *Handler) sandboxStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}

	memBytes, err := format.ParseMemorySize(req.Memory)
	if err != nil {
		return writeError(c, errorsWrap(apierr.ErrInvalidArgument, err))
	}

	spec := driver.SandboxSpec{
		Image:                 req.Image,
		CPUs:                  req.CPUs,
		MemoryBytes:           memBytes,
		Env:                   req.Env,
		StartupTimeoutSeconds: req.StartupTimeout,
	}

	id, err := h.drv.Create(c.Request().Context(), spec)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.drv.Start(c.Request().Context(), id); err != nil {
		h.drv.Stop(c.Request().Context(), id)
		return writeError(c, err)
	}

	act := actor.New(id, h.drv, "")
	h.reg.Register(c.Request().Context(), act)

	timeout := time.Duration(req.StartupTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if err := act.WaitUntilAlive(c.Request().Context(), timeout, 250*time.Millisecond); err != nil {
		return writeError(c, err)
	}

	withSandboxID(c, id)
	return c.JSON(http.StatusOK, startResponse{
		SandboxID: id,
		Memory:    req.Memory,
		CPUs:      req.CPUs,
	})
}

func (h *Handler) sandboxStop(c echo.Context) error {
	var req struct {
		SandboxID string `json:"sandbox_id"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	unlock := h.reg.Lock(req.SandboxID)
	defer unlock()

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	if err := act.Close(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	h.reg.Remove(c.Request().Context(), req.SandboxID)
	status.New(h.statusDir, req.SandboxID).Remove()
	return c.JSON(http.StatusOK, map[string]any{})
}

func (h *Handler) sandboxStatus(c echo.Context) error {
	id := c.QueryParam("sandbox_id")
	if id == "" {
		id = c.FormValue("sandbox_id")
	}
	withSandboxID(c, id)

	doc, err := status.Load(h.statusDir, id)
	if err != nil {
		return writeError(c, errorsWrap(apierr.ErrNotFound, err))
	}

	isAlive := false
	if act, err := h.reg.Get(id); err == nil {
		isAlive = act.IsAlive(c.Request().Context()).IsAlive
	}

	return c.JSON(http.StatusOK, map[string]any{
		"sandbox_id":   id,
		"phases":       doc.Phases,
		"port_mapping": doc.PortMapping,
		"is_alive":     isAlive,
	})
}

// statistics answers get_statistics, a no-lock diagnostic read per
// spec.md §4.3.
func (h *Handler) statistics(c echo.Context) error {
	id := c.QueryParam("sandbox_id")
	withSandboxID(c, id)

	act, err := h.reg.Get(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, act.GetStatistics(c.Request().Context()))
}

func (h *Handler) createSession(c echo.Context) error {
	var req proto.CreateSessionRequest
	var wrapper struct {
		SandboxID string `json:"sandbox_id"`
		proto.CreateSessionRequest
	}
	if err := c.Bind(&wrapper); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, wrapper.SandboxID)
	req = wrapper.CreateSessionRequest

	unlock := h.reg.Lock(wrapper.SandboxID)
	defer unlock()

	act, err := h.reg.Get(wrapper.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	if err := act.CreateSession(c.Request().Context(), req.Session, req.Env, req.WorkingDir); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, proto.CreateSessionResponse{})
}

func (h *Handler) closeSession(c echo.Context) error {
	var wrapper struct {
		SandboxID string `json:"sandbox_id"`
		proto.CloseSessionRequest
	}
	if err := c.Bind(&wrapper); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, wrapper.SandboxID)

	unlock := h.reg.Lock(wrapper.SandboxID)
	defer unlock()

	act, err := h.reg.Get(wrapper.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	if err := act.CloseSession(c.Request().Context(), wrapper.Session); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, proto.CloseSessionResponse{})
}

func (h *Handler) runInSession(c echo.Context) error {
	var req struct {
		SandboxID string `json:"sandbox_id"`
		Session   string `json:"session"`
		Command   string `json:"command"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	obs, err := act.RunInSession(c.Request().Context(), req.Session, req.Command)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, obs)
}

func (h *Handler) execute(c echo.Context) error {
	var req struct {
		SandboxID string   `json:"sandbox_id"`
		Command   []string `json:"command"`
		Shell     string   `json:"shell"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	cmd := req.Command
	if req.Shell != "" {
		cmd = []string{req.Shell, "-c", req.Shell}
	}
	resp, err := act.Execute(c.Request().Context(), cmd)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) arun(c echo.Context) error {
	var req struct {
		SandboxID            string `json:"sandbox_id"`
		Command              string `json:"command"`
		OutputMode           string `json:"output_mode"`
		TimeoutSeconds       int    `json:"timeout_seconds"`
		ResponseLimitedBytes int    `json:"response_limited_bytes_in_nohup"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	mode := proto.NohupOutputMode(req.OutputMode)
	if mode == "" {
		mode = proto.NohupOutputFull
	}
	res, err := act.Arun(c.Request().Context(), req.Command, mode, req.ResponseLimitedBytes, timeout)
	if err != nil && res == nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, proto.CommandResponse{Stdout: res.Output, ExitCode: res.ExitCode})
}

func (h *Handler) readFile(c echo.Context) error {
	var req struct {
		SandboxID string `json:"sandbox_id"`
		Path      string `json:"path"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	content, err := act.ReadFile(c.Request().Context(), req.Path)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, proto.ReadFileResponse{Content: content})
}

func (h *Handler) writeFile(c echo.Context) error {
	var req struct {
		SandboxID string `json:"sandbox_id"`
		Path      string `json:"path"`
		Content   string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	withSandboxID(c, req.SandboxID)

	unlock := h.reg.Lock(req.SandboxID)
	defer unlock()

	act, err := h.reg.Get(req.SandboxID)
	if err != nil {
		return writeError(c, err)
	}
	if err := act.WriteFile(c.Request().Context(), req.Path, req.Content); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, proto.WriteFileResponse{Success: true})
}

func (h *Handler) upload(c echo.Context) error {
	sandboxID := c.FormValue("sandbox_id")
	targetPath := c.FormValue("target_path")
	unzip := c.FormValue("unzip") == "true"
	withSandboxID(c, sandboxID)

	unlock := h.reg.Lock(sandboxID)
	defer unlock()

	file, err := c.FormFile("file")
	if err != nil {
		return writeError(c, errorsWrap(apierr.ErrInvalidArgument, err))
	}
	src, err := file.Open()
	if err != nil {
		return writeError(c, err)
	}
	defer src.Close()

	act, err := h.reg.Get(sandboxID)
	if err != nil {
		return writeError(c, err)
	}

	if !unzip {
		if err := h.drv.PutFile(c.Request().Context(), act.ID(), targetPath, src); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	}

	zipTarget := targetPath + ".zip"
	if err := h.drv.PutFile(c.Request().Context(), act.ID(), zipTarget, src); err != nil {
		return writeError(c, err)
	}
	unzipCmd := fmt.Sprintf("mkdir -p %q && unzip -o -q %q -d %q && rm -f %q", targetPath, zipTarget, targetPath, zipTarget)
	if _, code, err := h.drv.Exec(c.Request().Context(), act.ID(), []string{"sh", "-c", unzipCmd}); err != nil {
		return writeError(c, err)
	} else if code != 0 {
		return writeError(c, errorsWrap(apierr.ErrInternal, fmt.Errorf("unzip exited %d", code)))
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// envPassthrough binds the env routes to a registered sandbox. It does not
// forward the request body or the method name to the in-sandbox agent: it
// checks that sandbox_id names a registered actor, runs a `true` probe
// through Execute, and returns that CommandResponse. method is unused.
func (h *Handler) envPassthrough(method string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			SandboxID string `json:"sandbox_id"`
		}
		if err := c.Bind(&req); err != nil {
			return writeError(c, err)
		}
		withSandboxID(c, req.SandboxID)
		act, err := h.reg.Get(req.SandboxID)
		if err != nil {
			return writeError(c, err)
		}
		resp, err := act.Execute(c.Request().Context(), []string{"true"})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func (h *Handler) warmupStatus(c echo.Context) error {
	pooled, ok := h.drv.(driver.PooledDriver)
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"status": "pooling not enabled"})
	}
	var req startRequest
	c.Bind(&req)
	memBytes, _ := format.ParseMemorySize(req.Memory)
	spec := driver.SandboxSpec{Image: req.Image, CPUs: req.CPUs, MemoryBytes: memBytes}
	stats, err := pooled.PoolStatus(c.Request().Context(), spec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) warmupFill(c echo.Context) error {
	pooled, ok := h.drv.(driver.PooledDriver)
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"status": "pooling not enabled"})
	}
	var req struct {
		startRequest
		Count int `json:"count"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, err)
	}
	memBytes, err := format.ParseMemorySize(req.Memory)
	if err != nil {
		return writeError(c, errorsWrap(apierr.ErrInvalidArgument, err))
	}
	spec := driver.SandboxSpec{Image: req.Image, CPUs: req.CPUs, MemoryBytes: memBytes}
	ids, err := pooled.WarmUp(c.Request().Context(), spec, req.Count)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sandbox_ids": ids})
}

func errorsWrap(kind error, err error) error {
	return &wrappedErr{kind: kind, inner: err}
}

type wrappedErr struct {
	kind  error
	inner error
}

func (w *wrappedErr) Error() string { return w.inner.Error() }
func (w *wrappedErr) Unwrap() error { return w.kind }
