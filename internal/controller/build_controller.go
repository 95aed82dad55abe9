package controller

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"buildforge/internal/model"
	"buildforge/internal/service"
	"buildforge/pkg/utils/response"

	"github.com/gin-gonic/gin"

	appErr "buildforge/pkg/errors"
)

// BuildController handles build submission endpoints.
type BuildController struct {
	buildService *service.BuildService
}

func NewBuildController(buildService *service.BuildService) *BuildController {
	return &BuildController{buildService: buildService}
}

// Build accepts a project bundle, runs the toolchain on it and answers with
// the raw artifact bytes. The content type gate runs before admission so an
// unusable request never occupies a build slot.
func (h *BuildController) Build(c *gin.Context) {
	src, err := buildSource(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.buildService.Execute(c.Request.Context(), src)
	if err != nil {
		if appErr.GetCode(err) == appErr.QueueFull {
			c.Header("Retry-After", strconv.Itoa(h.buildService.EstimateWaitSeconds()))
		}
		response.Error(c, err)
		return
	}

	c.Header("X-Job-Id", result.JobID)
	c.Header("X-Build-Log", base64.StdEncoding.EncodeToString(result.Log))
	c.Data(http.StatusOK, "application/octet-stream", result.Artifact)
}

// Ready reports admission controller state for readiness probes.
func (h *BuildController) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, h.buildService.Stats())
}

// buildSource dispatches on the request content type. The multipart body is
// not parsed here; the ingestor streams it after a slot is granted.
func buildSource(c *gin.Context) (service.BuildSource, error) {
	switch contentType := c.ContentType(); {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return service.BuildSource{Multipart: c.Request}, nil
	case contentType == "application/json":
		var req model.BuildRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return service.BuildSource{}, appErr.Wrapf(err, appErr.InvalidParams, "invalid request body")
		}
		if strings.TrimSpace(req.BundleURL) == "" {
			return service.BuildSource{}, appErr.New(appErr.BundleMissing).WithMessage("bundleUrl is required")
		}
		return service.BuildSource{URL: req.BundleURL, Overrides: &req}, nil
	default:
		return service.BuildSource{}, appErr.Newf(appErr.UnsupportedBundleType, "unsupported content type %q", contentType)
	}
}
