package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/usecase"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_FAILED",
			Message: vErr.Error(),
			Details: map[string]any{"violations": vErr.Violations},
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrUnknownType):
		status, code = http.StatusBadRequest, "UNKNOWN_TYPE"
	case errors.Is(err, domain.ErrDuplicateType):
		status, code = http.StatusConflict, "DUPLICATE_TYPE"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		status, code = http.StatusConflict, "INVALID_STATE_TRANSITION"
	case errors.Is(err, domain.ErrIncompleteArtifact):
		status, code = http.StatusConflict, "INCOMPLETE_ARTIFACT"
	case errors.Is(err, domain.ErrQuotaExceeded):
		status, code = http.StatusRequestEntityTooLarge, "QUOTA_EXCEEDED"
	case errors.Is(err, domain.ErrSlotOccupied):
		status, code = http.StatusConflict, "SLOT_OCCUPIED"
	case errors.Is(err, domain.ErrChecksumMismatch):
		status, code = http.StatusBadRequest, "CHECKSUM_MISMATCH"
	case errors.Is(err, domain.ErrCircularDependency):
		status, code = http.StatusConflict, "CIRCULAR_DEPENDENCY"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStorageUnavailable):
		status, code = http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

// scope extracts the caller identity headers. Token validation is an
// upstream concern; the engine trusts the gateway-injected headers and
// still runs every request through the policy engine.
func (s *Server) scope(c *gin.Context) (domain.Scope, bool) {
	scope := domain.Scope{
		TenantID:  strings.TrimSpace(c.GetHeader("X-Tenant-ID")),
		Principal: strings.TrimSpace(c.GetHeader("X-Principal")),
	}
	if scope.TenantID == "" {
		writeErrorCode(c, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required")
		return scope, false
	}
	return scope, true
}

func (s *Server) handleListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": s.types.List()})
}

type createArtifactRequest struct {
	TypeName      string         `json:"type_name"`
	SchemaVersion int            `json:"schema_version"`
	Name          string         `json:"name"`
	Visibility    string         `json:"visibility"`
	SharedWith    []string       `json:"shared_with"`
	Description   string         `json:"description"`
	Version       string         `json:"version"`
	Metadata      map[string]any `json:"metadata"`
	Tags          []string       `json:"tags"`
}

func (s *Server) handleCreateArtifact(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var req createArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	artifact, version, err := s.artifacts.Create(c.Request.Context(), usecase.CreateArtifactRequest{
		TenantID:      scope.TenantID,
		Principal:     scope.Principal,
		TypeName:      req.TypeName,
		SchemaVersion: req.SchemaVersion,
		Name:          req.Name,
		Visibility:    domain.Visibility(req.Visibility),
		SharedWith:    req.SharedWith,
		Description:   req.Description,
		Version:       req.Version,
		Metadata:      req.Metadata,
		Tags:          req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"artifact": artifact, "version": version})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	artifact, versions, err := s.artifacts.Get(c.Request.Context(), scope, c.Param("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifact": artifact, "versions": versions})
}

// handleListArtifacts maps flat query parameters onto a filter. The
// structured filter body on POST /v1/search covers everything else.
func (s *Server) handleListArtifacts(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	f := domain.Filter{
		TypeName: c.Query("type_name"),
		SortBy:   c.Query("sort"),
		SortDesc: c.Query("dir") == "desc",
		Marker:   c.Query("marker"),
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			f.Limit = limit
		}
	}
	for _, status := range c.QueryArray("status") {
		f.Statuses = append(f.Statuses, domain.VersionStatus(status))
	}
	f.Tags = c.QueryArray("tag")
	versions, err := s.query.Evaluate(c.Request.Context(), f, scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (s *Server) handleSearchArtifacts(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var f domain.Filter
	if err := c.ShouldBindJSON(&f); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	versions, err := s.query.Evaluate(c.Request.Context(), f, scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

type newVersionRequest struct {
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata"`
	Tags     []string       `json:"tags"`
}

func (s *Server) handleNewVersion(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var req newVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	version, err := s.artifacts.NewVersion(c.Request.Context(), usecase.NewVersionRequest{
		TenantID:   scope.TenantID,
		Principal:  scope.Principal,
		ArtifactID: c.Param("artifact_id"),
		Version:    req.Version,
		Metadata:   req.Metadata,
		Tags:       req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"version": version})
}

type updateMetadataRequest struct {
	Metadata map[string]any `json:"metadata"`
	Tags     []string       `json:"tags"`
}

func (s *Server) handleUpdateMetadata(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var req updateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	version, err := s.artifacts.UpdateMetadata(c.Request.Context(), usecase.UpdateMetadataRequest{
		TenantID:   scope.TenantID,
		Principal:  scope.Principal,
		ArtifactID: c.Param("artifact_id"),
		Version:    c.Param("version"),
		Updates:    req.Metadata,
		Tags:       req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

var actionTargets = map[string]domain.VersionStatus{
	"queue":      domain.StatusQueued,
	"activate":   domain.StatusActive,
	"deactivate": domain.StatusDeactivated,
	"reactivate": domain.StatusActive,
	"delete":     domain.StatusDeleted,
}

func (s *Server) handleAction(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	target, ok := actionTargets[c.Param("action")]
	if !ok {
		writeErrorCode(c, http.StatusBadRequest, "UNKNOWN_ACTION", "unknown lifecycle action")
		return
	}
	version, err := s.lifecycle.Transition(c.Request.Context(), usecase.TransitionRequest{
		TenantID:   scope.TenantID,
		Principal:  scope.Principal,
		ArtifactID: c.Param("artifact_id"),
		Version:    c.Param("version"),
		Target:     target,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (s *Server) handleUploadBlob(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	ref, err := s.blobs.BeginUpload(c.Request.Context(), usecase.BeginUploadRequest{
		TenantID:    scope.TenantID,
		Principal:   scope.Principal,
		ArtifactID:  c.Param("artifact_id"),
		Version:     c.Param("version"),
		Slot:        c.Param("slot"),
		ContentType: c.ContentType(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	completed, err := s.blobs.Upload(c.Request.Context(), ref.ID, c.Request.Body, c.GetHeader("X-Content-Sha256"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"blob": completed})
}

type externalBlobRequest struct {
	URL         string `json:"url"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

func (s *Server) handleAddExternalBlob(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var req externalBlobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	ref, err := s.blobs.AddExternal(c.Request.Context(), usecase.AddExternalRequest{
		TenantID:    scope.TenantID,
		Principal:   scope.Principal,
		ArtifactID:  c.Param("artifact_id"),
		Version:     c.Param("version"),
		Slot:        c.Param("slot"),
		URL:         req.URL,
		Checksum:    req.Checksum,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"blob": ref})
}

func (s *Server) handleDownloadBlob(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	rc, ref, err := s.blobs.Download(c.Request.Context(), scope,
		c.Param("artifact_id"), c.Param("version"), c.Param("slot"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extra := map[string]string{}
	if ref.Checksum != "" {
		extra["X-Content-Sha256"] = ref.Checksum
	}
	c.DataFromReader(http.StatusOK, ref.Size, contentType, rc, extra)
}

func (s *Server) handleDeleteBlob(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	err := s.blobs.DeleteBlob(c.Request.Context(), usecase.BeginUploadRequest{
		TenantID:   scope.TenantID,
		Principal:  scope.Principal,
		ArtifactID: c.Param("artifact_id"),
		Version:    c.Param("version"),
		Slot:       c.Param("slot"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type linkRequest struct {
	ToVersionID string `json:"to_version_id"`
	Kind        string `json:"kind"`
}

// resolveVersionID finds the version row addressed by the path. The
// services re-check tenancy and policy on the resolved id.
func (s *Server) resolveVersionID(c *gin.Context) (string, bool) {
	ver, err := s.store.Versions().Get(c.Request.Context(), c.Param("artifact_id"), c.Param("version"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return ver.ID, true
}

func (s *Server) handleLinkDependency(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	fromID, ok := s.resolveVersionID(c)
	if !ok {
		return
	}
	link, err := s.dependencies.Link(c.Request.Context(), usecase.LinkRequest{
		TenantID:      scope.TenantID,
		Principal:     scope.Principal,
		FromVersionID: fromID,
		ToVersionID:   req.ToVersionID,
		Kind:          domain.LinkKind(req.Kind),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"link": link})
}

func (s *Server) handleUnlinkDependency(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	fromID, ok := s.resolveVersionID(c)
	if !ok {
		return
	}
	err := s.dependencies.Unlink(c.Request.Context(), usecase.LinkRequest{
		TenantID:      scope.TenantID,
		Principal:     scope.Principal,
		FromVersionID: fromID,
		ToVersionID:   c.Query("to_version_id"),
		Kind:          domain.LinkKind(c.Query("kind")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListDependencies(c *gin.Context) {
	if _, ok := s.scope(c); !ok {
		return
	}
	fromID, ok := s.resolveVersionID(c)
	if !ok {
		return
	}
	links, err := s.dependencies.Links(c.Request.Context(), fromID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links})
}

func (s *Server) handleGetQuota(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	ledger, err := s.quotas.Get(c.Request.Context(), scope.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" || c.GetHeader("X-Admin-Key") != s.adminAPIKey {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "admin key required")
		return false
	}
	return true
}

type createTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleAdminCreateTenant(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Name == "" {
		writeErrorCode(c, http.StatusBadRequest, "NAME_REQUIRED", "tenant name is required")
		return
	}
	tenant := domain.Tenant{
		ID:        req.ID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if err := s.store.Tenants().Create(c.Request.Context(), tenant); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

func (s *Server) handleAdminSetQuota(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var limits domain.QuotaLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.quotas.SetLimits(c.Request.Context(), c.Param("tenant_id"), limits); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
