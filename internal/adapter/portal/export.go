package portal

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const statusPollInterval = 5 * time.Second

// exportJob tracks one server-side export until its payload is downloaded.
// The portal materializes the export as a new item (the File Geodatabase
// artifact that the cleanup pipeline later deletes).
type exportJob struct {
	client       *Client
	exportItemID string
	jobID        string
	title        string
}

func (j *exportJob) ItemID() string {
	return j.exportItemID
}

type statusResponse struct {
	Status        string    `json:"status"`
	StatusMessage string    `json:"statusMessage"`
	Error         *apiError `json:"error"`
}

// Download blocks until the export job completes, then streams the payload
// into dir. The returned path is whatever the portal delivered, normally a
// zip; the caller handles the unpacked-directory case.
func (j *exportJob) Download(ctx context.Context, dir string) (string, error) {
	if err := j.waitForCompletion(ctx); err != nil {
		return "", err
	}
	return j.downloadData(ctx, dir)
}

func (j *exportJob) waitForCompletion(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/content/users/%s/items/%s/status",
		j.client.restURL, j.client.username, j.exportItemID)

	params := url.Values{
		"jobId":   {j.jobID},
		"jobType": {"export"},
	}

	for {
		var resp statusResponse
		if err := j.client.getJSON(ctx, endpoint, cloneValues(params), &resp); err != nil {
			return fmt.Errorf("export status: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("export status: %w", resp.Error)
		}

		switch resp.Status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("export job failed: %s", resp.StatusMessage)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(statusPollInterval):
		}
	}
}

func (j *exportJob) downloadData(ctx context.Context, dir string) (string, error) {
	token, err := j.client.currentToken(ctx)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/content/items/%s/data?token=%s",
		j.client.restURL, j.exportItemID, url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Referer", j.client.referer)

	resp, err := j.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download export: unexpected status %d", resp.StatusCode)
	}

	destPath := filepath.Join(dir, j.downloadFilename(resp.Header.Get("Content-Disposition")))

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("write download: %w", err)
	}

	return destPath, nil
}

// downloadFilename prefers the portal's Content-Disposition name and falls
// back to the export title with a .zip extension.
func (j *exportJob) downloadFilename(disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := filepath.Base(params["filename"]); name != "" && name != "." {
				return name
			}
		}
	}
	if strings.HasSuffix(strings.ToLower(j.title), ".zip") {
		return j.title
	}
	return j.title + ".zip"
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
