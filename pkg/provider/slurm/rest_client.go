// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// restClient talks to the SLURM REST API (`/slurm/v0.0.39/...`) (spec
// §4.1.2 REST mode).
type restClient struct {
	http  *resty.Client
	token string
}

func newRestClient(baseURL, token string) *restClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	return &restClient{http: client, token: token}
}

type submitJobRequest struct {
	Script string          `json:"script"`
	Job    submitJobDetail `json:"job"`
}

type submitJobDetail struct {
	Name string `json:"name"`
}

type submitJobResponse struct {
	JobID int `json:"job_id"`
}

// submitJob POSTs {script, job:{name}} to /slurm/v0.0.39/job/submit (spec
// §4.1.2).
func (c *restClient) submitJob(ctx context.Context, script, jobName string) (string, error) {
	var out submitJobResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-SLURM-USER-TOKEN", c.token).
		SetBody(submitJobRequest{Script: script, Job: submitJobDetail{Name: jobName}}).
		SetResult(&out).
		Post("/slurm/v0.0.39/job/submit")
	if err != nil {
		return "", errors.Wrap(err, "slurm rest submit")
	}
	if resp.IsError() {
		return "", fmt.Errorf("slurm rest submit failed: %s", resp.Status())
	}
	return fmt.Sprintf("%d", out.JobID), nil
}
