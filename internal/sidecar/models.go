package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const modelRequestTimeout = 30 * time.Second

// Model is one entry from the server's model list.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Digest     string    `json:"digest"`
}

// PullProgress is one line of the streaming pull response. Completed and
// Total are zero outside download phases.
type PullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// ListModels fetches the installed models.
func (s *Supervisor) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, modelRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list models", resp)
	}

	var payload struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return payload.Models, nil
}

// HasModel reports whether name is installed. A name matches on the full
// tag or on an installed model's base name before the colon, so
// "llama3.2" finds "llama3.2:3b".
func (s *Supervisor) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := s.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name {
			return true, nil
		}
		if base, _, found := strings.Cut(m.Name, ":"); found && base == name {
			return true, nil
		}
	}
	return false, nil
}

// PullModel downloads a model, invoking progress for each status line the
// server streams. The call is bounded only by ctx; large models take a
// while.
func (s *Supervisor) PullModel(ctx context.Context, name string, progress func(PullProgress)) error {
	body, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("pull "+name, resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var line struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pull %s: decode stream: %w", name, err)
		}
		if line.Error != "" {
			return fmt.Errorf("pull %s: %s", name, line.Error)
		}
		if progress != nil {
			progress(line.PullProgress)
		}
	}
}

// DeleteModel removes an installed model by name.
func (s *Supervisor) DeleteModel(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, modelRequestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.cfg.BaseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("delete "+name, resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// apiError extracts the server's error message when it sent one.
func apiError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s (status %d)", op, payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}
