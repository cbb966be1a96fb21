package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteBackendTranscribe(t *testing.T) {
	tests := []struct {
		name         string
		responseBody string
		statusCode   int
		expectedText string
		expectError  bool
	}{
		{
			name:         "top-level text field",
			responseBody: `{"text": "hello world"}`,
			statusCode:   http.StatusOK,
			expectedText: "hello world",
		},
		{
			name:         "nested transcription object",
			responseBody: `{"transcription": {"text": "nested hello"}}`,
			statusCode:   http.StatusOK,
			expectedText: "nested hello",
		},
		{
			name:         "nested text wins over top-level",
			responseBody: `{"text": "outer", "transcription": {"text": "inner"}}`,
			statusCode:   http.StatusOK,
			expectedText: "inner",
		},
		{
			name:         "server error",
			responseBody: `{"error": "model overloaded"}`,
			statusCode:   http.StatusInternalServerError,
			expectError:  true,
		},
		{
			name:         "malformed response",
			responseBody: `not json`,
			statusCode:   http.StatusOK,
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			backend := NewRemoteBackend(server.URL, "base", 100)
			result, err := backend.Transcribe(context.Background(), Request{Audio: []byte("fake wav data")})

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var be *BackendError
				if !errors.As(err, &be) {
					t.Fatalf("expected BackendError, got %T", err)
				}
				if be.Backend != BackendRemote {
					t.Errorf("expected backend %q, got %q", BackendRemote, be.Backend)
				}
				if be.Kind != FailureNetwork {
					t.Errorf("expected kind %q, got %q", FailureNetwork, be.Kind)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Text != tt.expectedText {
				t.Errorf("expected text %q, got %q", tt.expectedText, result.Text)
			}
			if result.Words != nil {
				t.Errorf("expected no word timing from remote path, got %d words", len(result.Words))
			}
		})
	}
}

func TestRemoteBackendRequestShape(t *testing.T) {
	var gotModel, gotField, gotFilename string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotModel = r.URL.Query().Get("model")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if files := r.MultipartForm.File["audio"]; len(files) > 0 {
			gotField = "audio"
			gotFilename = files[0].Filename
		}

		w.Write([]byte(`{"text": "ok"}`))
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL, "small", 100)
	if _, err := backend.Transcribe(context.Background(), Request{Audio: []byte("fake wav data")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotModel != "small" {
		t.Errorf("expected model query parameter %q, got %q", "small", gotModel)
	}
	if gotField != "audio" {
		t.Error("expected multipart form field named audio")
	}
	if gotFilename != "audio.wav" {
		t.Errorf("expected filename audio.wav, got %q", gotFilename)
	}
}

func TestRemoteBackendEmptyAudio(t *testing.T) {
	backend := NewRemoteBackend("http://stt:8000/transcribe", "base", 100)
	_, err := backend.Transcribe(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error for empty audio payload")
	}
}

func TestRemoteBackendContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL, "base", 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := backend.Transcribe(ctx, Request{Audio: []byte("fake wav data")}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
