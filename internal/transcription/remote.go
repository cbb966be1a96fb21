/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MPR2023/VoiceGuardian/internal/logging"
)

// RemoteBackend sends normalized WAV audio to a remote STT service over
// HTTP. The remote path returns no word timing.
type RemoteBackend struct {
	endpoint   string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// remoteResponse covers both response shapes the STT service is known to
// produce: a top-level text field or a nested transcription object.
type remoteResponse struct {
	Text          string `json:"text"`
	Transcription struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// NewRemoteBackend creates a remote STT backend. rps limits outbound
// transcription requests per second.
func NewRemoteBackend(endpoint, model string, rps float64) *RemoteBackend {
	if rps <= 0 {
		rps = 2.0
	}
	return &RemoteBackend{
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name implements the Backend interface
func (r *RemoteBackend) Name() string {
	return BackendRemote
}

// Transcribe implements the Backend interface
func (r *RemoteBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("empty audio payload")}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: err}
	}

	startTime := time.Now()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	audioWriter, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("failed to create form file: %w", err)}
	}
	if _, err := audioWriter.Write(req.Audio); err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("failed to write audio data: %w", err)}
	}

	contentType := writer.FormDataContentType()
	if err := writer.Close(); err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("failed to close multipart writer: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.requestURL(), &requestBody)
	if err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("transcription HTTP request failed: %w", err)}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.LogWarn("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{
			Backend: BackendRemote,
			Kind:    FailureNetwork,
			Err:     fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var remoteResp remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&remoteResp); err != nil {
		return nil, &BackendError{Backend: BackendRemote, Kind: FailureNetwork, Err: fmt.Errorf("failed to parse transcription response: %w", err)}
	}

	text := remoteResp.Transcription.Text
	if text == "" {
		text = remoteResp.Text
	}

	logging.LogTranscription(BackendRemote, "completed",
		zap.Int64("processing_time_ms", time.Since(startTime).Milliseconds()),
		zap.Int("audio_bytes", len(req.Audio)),
		zap.Int("text_length", len(text)),
	)

	// No word timing from this path
	return &Result{Text: text, Words: nil}, nil
}

// requestURL appends the model name as a query parameter
func (r *RemoteBackend) requestURL() string {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return r.endpoint
	}
	q := u.Query()
	q.Set("model", r.model)
	u.RawQuery = q.Encode()
	return u.String()
}
