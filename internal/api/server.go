package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/scheduler"
	"github.com/reportforge/internal/service"
)

// Server is the HTTP surface over the service operations. It is a thin
// translation layer; all validation and state live in the service.
type Server struct {
	svc    *service.Service
	router *gin.Engine
}

func NewServer(svc *service.Service) *Server {
	server := &Server{
		svc:    svc,
		router: gin.Default(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	api.GET("/datasources", s.listDataSources)

	api.GET("/templates", s.listTemplates)
	api.POST("/templates", s.createTemplate)

	jobs := api.Group("/jobs")
	{
		jobs.GET("", s.listJobs)
		jobs.POST("", s.createJob)
		jobs.GET("/:id", s.getJob)
		jobs.PUT("/:id", s.updateJob)
		jobs.POST("/:id/run", s.runJob)
		jobs.POST("/:id/cancel", s.cancelJob)
	}

	reports := api.Group("/reports")
	{
		reports.GET("/generated", s.listGenerated)
		reports.GET("/generated/:id/download", s.downloadReport)
		reports.POST("/cleanup", s.cleanupReports)
	}
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router returns the underlying gin engine, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) listDataSources(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetDataSources())
}

func (s *Server) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetTemplates())
}

func (s *Server) createTemplate(c *gin.Context) {
	var spec service.TemplateSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.svc.CreateTemplate(spec)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) listJobs(c *gin.Context) {
	filter := scheduler.JobFilter{
		Status:     models.JobStatus(c.Query("status")),
		TemplateID: c.Query("template_id"),
		Tag:        c.Query("tag"),
	}
	c.JSON(http.StatusOK, s.svc.GetJobs(filter))
}

func (s *Server) createJob(c *gin.Context) {
	var spec service.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.svc.CreateJob(spec)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) getJob(c *gin.Context) {
	result := s.svc.GetJobDetails(c.Param("id"))
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) updateJob(c *gin.Context) {
	var update scheduler.JobUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.svc.UpdateJob(c.Param("id"), update)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) runJob(c *gin.Context) {
	result := s.svc.RunJob(c.Param("id"))
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) cancelJob(c *gin.Context) {
	result := s.svc.CancelJob(c.Param("id"))
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listGenerated(c *gin.Context) {
	filter := service.GeneratedFilter{
		JobID:      c.Query("job_id"),
		TemplateID: c.Query("template_id"),
		Status:     c.Query("status"),
	}
	c.JSON(http.StatusOK, s.svc.GetGeneratedReports(filter))
}

func (s *Server) downloadReport(c *gin.Context) {
	result := s.svc.DownloadReport(c.Param("id"), c.Query("format"))
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func (s *Server) cleanupReports(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.CleanupOldReports())
}
