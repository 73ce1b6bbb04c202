package api

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"stash/internal/server/auth"
	"stash/internal/server/database"
	"stash/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the stash API.
type Handler struct {
	accounts *service.AccountService
	files    *service.FileService
	db       *database.DB
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(accounts *service.AccountService, files *service.FileService, db *database.DB) *Handler {
	return &Handler{accounts: accounts, files: files, db: db}
}

// --- Sessions ---

// HandleLogin handles POST /api/login.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	token, err := h.accounts.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token":    token,
		"username": req.Username,
	})
}

// HandleLogout handles POST /api/logout. Revokes the caller's session.
func (h *Handler) HandleLogout(c echo.Context) error {
	h.accounts.Logout(callerToken(c))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// HandleChangePassword handles POST /api/password.
// Changes the caller's own password unless an admin names another user.
func (h *Handler) HandleChangePassword(c echo.Context) error {
	var req struct {
		Username    string `json:"username"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	caller := callerIdentity(c)
	username := req.Username
	if username == "" {
		username = caller.Username
	}

	if err := h.accounts.ChangePassword(c.Request().Context(), username, req.NewPassword, caller); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed, all sessions revoked"})
}

// --- Files ---

// HandleListFiles handles GET /api/files. Supports an optional ?owner=
// filter; only files visible to the caller are returned.
func (h *Handler) HandleListFiles(c echo.Context) error {
	files, err := h.files.List(c.Request().Context(), c.QueryParam("owner"), callerIdentity(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with a "file" field and optional "overwrite" flag.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	overwrite := c.FormValue("overwrite") == "true"

	record, err := h.files.Upload(
		c.Request().Context(),
		fileHeader.Filename,
		src,
		fileHeader.Size,
		callerIdentity(c),
		overwrite,
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, toFileResponse(record))
}

// HandleDownload handles GET /files/:name.
// Serves the file as an attachment and counts the download.
func (h *Handler) HandleDownload(c echo.Context) error {
	return h.serve(c, h.files.Download, "attachment")
}

// HandleView handles GET /files/raw/:name.
// Serves the file inline for in-browser preview and counts the view.
func (h *Handler) HandleView(c echo.Context) error {
	return h.serve(c, h.files.View, "inline")
}

func (h *Handler) serve(c echo.Context, open func(ctx context.Context, name string, id auth.Identity) (*service.FileContent, error), disposition string) error {
	content, err := open(c.Request().Context(), c.Param("name"), callerIdentity(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer content.Data.Close()

	contentType := mime.TypeByExtension(filepath.Ext(content.Meta.Name))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`%s; filename=%q`, disposition, content.Meta.Name))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprintf("%d", content.Size))
	return c.Stream(http.StatusOK, contentType, content.Data)
}

// HandleDelete handles DELETE /api/files/:name.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.files.Delete(c.Request().Context(), c.Param("name"), callerIdentity(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file deleted"})
}

// HandleBulkDelete handles POST /api/files/bulk-delete.
// Always returns 200 with a per-name result; one failure never aborts the batch.
func (h *Handler) HandleBulkDelete(c echo.Context) error {
	var req struct {
		Files []string `json:"files"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result := h.files.BulkDelete(c.Request().Context(), req.Files, callerIdentity(c))
	return c.JSON(http.StatusOK, result)
}

// HandleBulkDownload handles POST /api/files/bulk-download.
// Streams a zip bundle; skipped files are reported in the bundle manifest.
func (h *Handler) HandleBulkDownload(c echo.Context) error {
	var req struct {
		Files []string `json:"files"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="files.zip"`)
	res.WriteHeader(http.StatusOK)

	return h.files.BulkDownload(c.Request().Context(), req.Files, callerIdentity(c), res)
}

// HandleSetShared handles POST /api/files/:name/share.
func (h *Handler) HandleSetShared(c echo.Context) error {
	var req struct {
		Shared bool `json:"shared"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.files.SetShared(c.Request().Context(), c.Param("name"), req.Shared, callerIdentity(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "share flag updated", "shared": req.Shared})
}

// --- Admin ---

// HandleListUsers handles GET /api/admin/users.
func (h *Handler) HandleListUsers(c echo.Context) error {
	users, err := h.accounts.Users(c.Request().Context(), callerIdentity(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{
			Username:  u.Username,
			Role:      u.Role,
			CreatedAt: u.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleCreateUser handles POST /api/admin/users.
func (h *Handler) HandleCreateUser(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Role == "" {
		req.Role = database.RoleUser
	}

	if err := h.accounts.CreateUser(c.Request().Context(), req.Username, req.Password, req.Role, callerIdentity(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "user created", "username": req.Username})
}

// HandleDeleteUser handles DELETE /api/admin/users/:username.
func (h *Handler) HandleDeleteUser(c echo.Context) error {
	if err := h.accounts.DeleteUser(c.Request().Context(), c.Param("username"), callerIdentity(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user deleted"})
}

// HandleAdminStats handles GET /api/admin/stats.
func (h *Handler) HandleAdminStats(c echo.Context) error {
	stats, err := h.files.Stats(c.Request().Context(), callerIdentity(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"total_views":        stats.TotalViews,
		"total_downloads":    stats.TotalDownloads,
		"total_users":        stats.TotalUsers,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// --- Response shapes ---

type fileResponse struct {
	Name          string    `json:"name"`
	SizeBytes     int64     `json:"size_bytes"`
	Extension     string    `json:"extension"`
	Owner         string    `json:"owner"`
	UploadedAt    time.Time `json:"uploaded_at"`
	ViewCount     int64     `json:"view_count"`
	DownloadCount int64     `json:"download_count"`
	Shared        bool      `json:"shared"`
}

func toFileResponse(f *database.StoredFile) fileResponse {
	return fileResponse{
		Name:          f.Name,
		SizeBytes:     f.SizeBytes,
		Extension:     f.Extension,
		Owner:         f.Owner,
		UploadedAt:    f.UploadedAt,
		ViewCount:     f.ViewCount,
		DownloadCount: f.DownloadCount,
		Shared:        f.Shared,
	}
}

type userResponse struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// mapServiceError translates service-layer errors into appropriate HTTP
// responses. Authentication failures (401) stay distinct from authorization
// failures (403).
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid username or password"})
	case errors.Is(err, auth.ErrInvalidSession):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired session"})
	case errors.Is(err, auth.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "operation not permitted"})
	case errors.Is(err, auth.ErrLastAdmin):
		return c.JSON(http.StatusConflict, echo.Map{"error": "cannot delete the last admin account"})
	case errors.Is(err, auth.ErrDuplicateUser):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
	case errors.Is(err, auth.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, service.ErrFileNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrExtensionNotAllowed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file extension not allowed"})
	case errors.Is(err, service.ErrDuplicateName):
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "a file with this name already exists (set overwrite to replace)",
		})
	case errors.Is(err, service.ErrInvalidName):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid file name"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
