package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/galeshell/gale/internal/api"
)

// --- Message types ---

type statusMsg api.StatusResponse

type jobsMsg api.JobsResponse

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchStatus queries GET /v1/status.
func fetchStatus(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var resp api.StatusResponse
		if err := getJSON(apiURL+"/v1/status", apiKey, &resp); err != nil {
			return errMsg(err)
		}
		return statusMsg(resp)
	}
}

// fetchJobs queries GET /v1/jobs.
func fetchJobs(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var resp api.JobsResponse
		if err := getJSON(apiURL+"/v1/jobs", apiKey, &resp); err != nil {
			return errMsg(err)
		}
		return jobsMsg(resp)
	}
}

func getJSON(url, apiKey string, v any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
