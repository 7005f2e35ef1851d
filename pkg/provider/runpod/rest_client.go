// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package runpod

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultBaseURL = "https://rest.runpod.io/v1"

// restClient is a thin authenticated wrapper over the Runpod REST API
// (spec §4.1.4).
type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, apiKey string) *restClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: c}
}

type pod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// DesiredStatus mirrors Runpod's pod status field. The live API uses
	// varying key names across versions; both are decoded defensively.
	DesiredStatus string `json:"desiredStatus"`
	Status        string `json:"status"`
}

func (p pod) state() string {
	if p.Status != "" {
		return p.Status
	}
	return p.DesiredStatus
}

func (c *restClient) createPod(ctx context.Context, payload map[string]interface{}) (*pod, error) {
	var out pod
	resp, err := c.http.R().SetContext(ctx).SetBody(payload).SetResult(&out).Post("/pods")
	if err != nil {
		return nil, errors.Wrap(err, "runpod create pod")
	}
	if resp.IsError() {
		return nil, errors.Errorf("runpod create pod failed: %s: %s", resp.Status(), resp.String())
	}
	return &out, nil
}

func (c *restClient) getPod(ctx context.Context, podID string) (*pod, error) {
	var out pod
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/pods/" + podID)
	if err != nil {
		return nil, errors.Wrap(err, "runpod get pod")
	}
	if resp.IsError() {
		return nil, errors.Errorf("runpod get pod %s failed: %s", podID, resp.Status())
	}
	return &out, nil
}

func (c *restClient) listPods(ctx context.Context) ([]pod, error) {
	var out []pod
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/pods")
	if err != nil {
		return nil, errors.Wrap(err, "runpod list pods")
	}
	if resp.IsError() {
		return nil, errors.Errorf("runpod list pods failed: %s", resp.Status())
	}
	return out, nil
}

func (c *restClient) deletePod(ctx context.Context, podID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/pods/" + podID)
	if err != nil {
		return errors.Wrap(err, "runpod delete pod")
	}
	if resp.IsError() {
		return errors.Errorf("runpod delete pod %s failed: %s", podID, resp.Status())
	}
	return nil
}

func (c *restClient) listGPUTypes(ctx context.Context) []gpuType {
	var out []gpuType
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/gpu-types")
	if err != nil || resp.IsError() {
		return nil
	}
	return out
}
