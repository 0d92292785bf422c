package worker_operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"nebula/pkg/api"
)

type HttpOperator struct {
	address string
	client  *http.Client
}

var _ Operator = (*HttpOperator)(nil)

func newHttpOperator(address string) (Operator, error) {
	return &HttpOperator{
		address: address,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (h *HttpOperator) url(path string) string {
	return fmt.Sprintf("http://%s%s", h.address, path)
}

func (h *HttpOperator) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(data))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (h *HttpOperator) RunJob(ctx context.Context, request *api.RunJobRequest) (*api.RunJobResponse, error) {
	ret := new(api.RunJobResponse)
	if err := h.postJSON(ctx, "/run-job", request, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (h *HttpOperator) KillJob(ctx context.Context, request *api.KillJobRequest) (*api.KillJobResponse, error) {
	ret := new(api.KillJobResponse)
	if err := h.postJSON(ctx, "/kill-job", request, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (h *HttpOperator) CheckStatus(ctx context.Context, timeout time.Duration) (*api.WorkerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url("/status"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	ret := new(api.WorkerStatus)
	if err := json.NewDecoder(resp.Body).Decode(ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (h *HttpOperator) Alive(ctx context.Context) bool {
	_, err := h.CheckStatus(ctx, 2*time.Second)
	return err == nil
}
