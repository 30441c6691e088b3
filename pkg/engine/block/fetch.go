// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package block

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// FetchRequest is what the fetch block hands its Fetcher collaborator.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	AuthType string
}

// FetchResponse is what a Fetcher returns.
type FetchResponse struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Fetcher performs one HTTP round trip. Implementations are expected to
// honour ctx cancellation between retries, per §5.
type Fetcher interface {
	Do(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// NewFetchHandler builds the fetch block's handler over fetcher.
func NewFetchHandler(fetcher Fetcher) HandlerFunc {
	return func(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
		return fetchHandle(ctx, b, rc, fetcher)
	}
}

func fetchHandle(ctx context.Context, b *model.Block, rc *resolve.Context, fetcher Fetcher) (Result, error) {
	url, ok := logicString(b, rc, "fetch_url")
	if !ok || url == "" {
		return nil, validationErr("fetch_url", "required")
	}
	method, ok := logicString(b, rc, "fetch_method")
	if !ok || method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	headers := map[string]string{}
	if raw, ok := logicAny(b, rc, "fetch_headers"); ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				headers[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	var body []byte
	if raw, ok := logicAny(b, rc, "fetch_body"); ok && raw != nil {
		if s, ok := raw.(string); ok {
			body = []byte(s)
		} else {
			encoded, err := json.Marshal(raw)
			if err == nil {
				body = encoded
				if _, has := headers["Content-Type"]; !has {
					headers["Content-Type"] = "application/json"
				}
			}
		}
	}

	timeoutMS := 30_000.0
	if v, ok := logicAny(b, rc, "fetch_timeout_ms"); ok {
		if f, ok := toFloatAny(v); ok {
			timeoutMS = f
		}
	}
	if timeoutMS > model.MaxFetchTimeoutMS {
		timeoutMS = model.MaxFetchTimeoutMS
	}

	maxRetries := 1
	if v, ok := logicAny(b, rc, "fetch_max_retries"); ok {
		if f, ok := toFloatAny(v); ok {
			maxRetries = int(f)
		}
	}

	retryDelayMS := 1000.0
	if v, ok := logicAny(b, rc, "fetch_retry_delay_ms"); ok {
		if f, ok := toFloatAny(v); ok {
			retryDelayMS = f
		}
	}

	backoffMultiplier := 2.0
	if v, ok := logicAny(b, rc, "fetch_backoff_multiplier"); ok {
		if f, ok := toFloatAny(v); ok {
			backoffMultiplier = f
		}
	}

	accepted := parseAcceptedStatusCodes(b, rc)
	authType, _ := logicString(b, rc, "fetch_auth_type")

	req := FetchRequest{Method: method, URL: url, Headers: headers, Body: body, AuthType: authType}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	var lastErr error
	delay := retryDelayMS
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(delay) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= backoffMultiplier
		}

		resp, err := fetcher.Do(reqCtx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if !statusAccepted(resp.Status, accepted) {
			lastErr = fmt.Errorf("fetch received non-accepted status %d", resp.Status)
			continue
		}

		return Completed{StateDelta: Bind(b, fetchResultValue(resp))}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("fetch failed with no response")
	}
	return nil, lastErr
}

func fetchResultValue(resp *FetchResponse) map[string]any {
	var parsedBody any = resp.Body
	if isJSONResponse(resp.Headers) {
		var decoded any
		if json.Unmarshal(resp.Body, &decoded) == nil {
			parsedBody = decoded
		}
	}
	return map[string]any{
		"status":  resp.Status,
		"headers": resp.Headers,
		"body":    parsedBody,
	}
}

func isJSONResponse(headers map[string][]string) bool {
	for k, vs := range headers {
		if strings.EqualFold(k, "Content-Type") {
			for _, v := range vs {
				if strings.Contains(strings.ToLower(v), "json") {
					return true
				}
			}
		}
	}
	return false
}

func parseAcceptedStatusCodes(b *model.Block, rc *resolve.Context) []string {
	raw, ok := logicAny(b, rc, "fetch_accepted_status_codes")
	if !ok {
		return []string{"2xx"}
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return []string{"2xx"}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.Itoa(int(v)))
		}
	}
	return out
}

func statusAccepted(status int, accepted []string) bool {
	for _, a := range accepted {
		if strings.HasSuffix(a, "xx") && len(a) == 3 {
			family := a[0]
			if int(family-'0') == status/100 {
				return true
			}
			continue
		}
		if n, err := strconv.Atoi(a); err == nil && n == status {
			return true
		}
	}
	return false
}
