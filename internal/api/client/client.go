package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/service"
)

// Client talks to a running reportforge server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client from the CLI configuration. The server address
// defaults to localhost on the standard port.
func NewClient() (*Client, error) {
	baseURL := viper.GetString("server.url")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *Client) doRequest(method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var envelope service.Result
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return nil, fmt.Errorf("server error: %s", envelope.Error)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return data, nil
}

func (c *Client) ListJobs(status, templateID, tag string) ([]*models.JobSummary, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if templateID != "" {
		query.Set("template_id", templateID)
	}
	if tag != "" {
		query.Set("tag", tag)
	}

	path := "/api/v1/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result service.JobListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

func (c *Client) GetJob(id string) (*models.Job, error) {
	data, err := c.doRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	var result service.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Job, nil
}

func (c *Client) CreateJob(spec service.JobSpec) (*models.Job, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/jobs", spec)
	if err != nil {
		return nil, err
	}
	var result service.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Job, nil
}

func (c *Client) RunJob(id string) (*models.Job, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/jobs/"+id+"/run", nil)
	if err != nil {
		return nil, err
	}
	var result service.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Job, nil
}

func (c *Client) CancelJob(id string) (*models.Job, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	var result service.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Job, nil
}

func (c *Client) ListTemplates() ([]*models.ReportTemplate, error) {
	data, err := c.doRequest(http.MethodGet, "/api/v1/templates", nil)
	if err != nil {
		return nil, err
	}
	var templates []*models.ReportTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (c *Client) CreateTemplate(spec service.TemplateSpec) (*models.ReportTemplate, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/templates", spec)
	if err != nil {
		return nil, err
	}
	var result service.TemplateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Template, nil
}

func (c *Client) ListGeneratedReports(jobID, templateID string) ([]*models.GeneratedReport, error) {
	query := url.Values{}
	if jobID != "" {
		query.Set("job_id", jobID)
	}
	if templateID != "" {
		query.Set("template_id", templateID)
	}

	path := "/api/v1/reports/generated"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result service.GeneratedListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result.Reports, nil
}

func (c *Client) DownloadReport(id, format string) ([]byte, error) {
	path := "/api/v1/reports/generated/" + id + "/download"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	return c.doRequest(http.MethodGet, path, nil)
}

func (c *Client) CleanupReports() (int, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/reports/cleanup", nil)
	if err != nil {
		return 0, err
	}
	var result service.CleanupResult
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
