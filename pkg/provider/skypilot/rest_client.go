// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package skypilot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// restClient wraps the SkyPilot remote API control plane's async
// request-id protocol (spec §4.1.3 step 3): every slow endpoint returns a
// request id, which the client resolves via /api/get.
type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, token string) *restClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	return &restClient{http: c}
}

type requestIDResponse struct {
	RequestID string `json:"request_id"`
}

type apiGetEnvelope struct {
	Status  string      `json:"status"`
	Error   *apiError   `json:"error,omitempty"`
	Result  interface{} `json:"return_value,omitempty"`
	Message string      `json:"message,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// requestID extracts the request id SkyPilot's API server hands back for an
// async operation, reading the out-of-band header first and falling back
// to the JSON body (spec §4.1.3 step 2).
func requestID(resp *resty.Response, body requestIDResponse) string {
	if h := resp.Header().Get("X-Skypilot-Request-ID"); h != "" {
		return h
	}
	return body.RequestID
}

// poll resolves a request id via GET /api/get?request_id=<id>, retrying
// while the job is still in flight (spec §4.1.3 step 3: "on status 500
// with error payload, raise with decoded message; on cancellation, raise").
func (c *restClient) poll(ctx context.Context, requestID string) (interface{}, error) {
	const maxAttempts = 120
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var env apiGetEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("request_id", requestID).
			SetResult(&env).
			Get("/api/get")
		if err != nil {
			return nil, errors.Wrap(err, "skypilot /api/get")
		}

		switch resp.StatusCode() {
		case 200:
			return env.Result, nil
		case 500:
			if env.Error != nil {
				return nil, fmt.Errorf("skypilot request %s failed: %s", requestID, env.Error.Message)
			}
			return nil, fmt.Errorf("skypilot request %s failed: %s", requestID, env.Message)
		case 202, 204:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		default:
			return nil, fmt.Errorf("skypilot request %s: unexpected status %s", requestID, resp.Status())
		}
	}
	return nil, fmt.Errorf("skypilot request %s: timed out waiting for completion", requestID)
}

// launch POSTs the task DAG YAML plus launch options to /launch and
// resolves the async result (spec §4.1.3 step 2: "Always include
// down=true").
func (c *restClient) launch(ctx context.Context, clusterName, taskYAML string) (interface{}, error) {
	var out requestIDResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"cluster_name": clusterName,
			"task":         taskYAML,
			"down":         true,
		}).
		SetResult(&out).
		Post("/launch")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /launch")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /launch failed: %s", resp.Status())
	}
	return c.poll(ctx, requestID(resp, out))
}

func (c *restClient) down(ctx context.Context, clusterName string) error {
	var out requestIDResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"cluster_name": clusterName}).
		SetResult(&out).
		Post("/down")
	if err != nil {
		return errors.Wrap(err, "skypilot /down")
	}
	if resp.IsError() {
		return fmt.Errorf("skypilot /down failed: %s", resp.Status())
	}
	_, err = c.poll(ctx, requestID(resp, out))
	return err
}

// status calls /status for one or all clusters (spec §4.1.3 step 4).
func (c *restClient) status(ctx context.Context, clusterNames []string) ([]map[string]interface{}, error) {
	var out requestIDResponse
	body := map[string]interface{}{}
	if len(clusterNames) > 0 {
		body["cluster_names"] = clusterNames
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/status")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /status")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /status failed: %s", resp.Status())
	}
	result, err := c.poll(ctx, requestID(resp, out))
	if err != nil {
		return nil, err
	}
	return decodeClusterList(result)
}

func decodeClusterList(result interface{}) ([]map[string]interface{}, error) {
	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *restClient) exec(ctx context.Context, clusterName, command string) (interface{}, error) {
	var out requestIDResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"cluster_name": clusterName, "command": command}).
		SetResult(&out).
		Post("/exec")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /exec")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /exec failed: %s", resp.Status())
	}
	return c.poll(ctx, requestID(resp, out))
}

func (c *restClient) queue(ctx context.Context, clusterName string) ([]map[string]interface{}, error) {
	var out requestIDResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"cluster_name": clusterName}).
		SetResult(&out).
		Post("/queue")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /queue")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /queue failed: %s", resp.Status())
	}
	result, err := c.poll(ctx, requestID(resp, out))
	if err != nil {
		return nil, err
	}
	return decodeClusterList(result)
}

func (c *restClient) cancel(ctx context.Context, clusterName, jobID string) error {
	var out requestIDResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"cluster_name": clusterName, "job_ids": []string{jobID}}).
		SetResult(&out).
		Post("/cancel")
	if err != nil {
		return errors.Wrap(err, "skypilot /cancel")
	}
	if resp.IsError() {
		return fmt.Errorf("skypilot /cancel failed: %s", resp.Status())
	}
	_, err = c.poll(ctx, requestID(resp, out))
	return err
}

// logs POSTs /logs as a streaming response and returns the raw body; the
// provider splits it into lines for follow mode (spec §4.1.3 step 5).
func (c *restClient) logs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"cluster_name": clusterName, "job_id": jobID, "tail": tailLines}).
		Post("/logs")
	if err != nil {
		return "", errors.Wrap(err, "skypilot /logs")
	}
	if resp.IsError() {
		return "", fmt.Errorf("skypilot /logs failed: %s", resp.Status())
	}
	return string(resp.Body()), nil
}

func (c *restClient) sshNodePools(ctx context.Context) ([]map[string]interface{}, error) {
	var pools []map[string]interface{}
	resp, err := c.http.R().SetContext(ctx).SetResult(&pools).Get("/ssh_node_pools")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /ssh_node_pools")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /ssh_node_pools failed: %s", resp.Status())
	}
	return pools, nil
}

func (c *restClient) kubernetesNodeInfo(ctx context.Context, pool string) (map[string]interface{}, error) {
	var info map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("pool", pool).
		SetResult(&info).
		Get("/kubernetes_node_info")
	if err != nil {
		return nil, errors.Wrap(err, "skypilot /kubernetes_node_info")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("skypilot /kubernetes_node_info failed: %s", resp.Status())
	}
	return info, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// health calls GET /api/health (spec §4.1.3 step 7).
func (c *restClient) health(ctx context.Context) bool {
	var out healthResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/health")
	if err != nil || resp.IsError() {
		return false
	}
	return out.Status == "healthy"
}
