package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
	}{
		{
			name:    "missing key",
			status:  http.StatusUnauthorized,
			code:    CodeMissingAPIKey,
			message: "Missing API key",
		},
		{
			name:    "invalid key",
			status:  http.StatusUnauthorized,
			code:    CodeInvalidAPIKey,
			message: "Invalid API key",
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			code:    CodeRateLimitExceeded,
			message: "Rate limit exceeded",
		},
		{
			name:    "insufficient balance",
			status:  http.StatusPaymentRequired,
			code:    CodeInsufficientBalance,
			message: "Insufficient credit balance",
		},
		{
			name:    "internal server error",
			status:  http.StatusInternalServerError,
			code:    CodeInternalError,
			message: "Something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.status)
			}

			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", contentType)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Error.Code != tt.code {
				t.Errorf("RespondWithError() code = %s, want %s", response.Error.Code, tt.code)
			}
			if response.Error.Message != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", response.Error.Message, tt.message)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("simple struct", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := struct {
			Name    string  `json:"name"`
			Balance float64 `json:"balance"`
		}{
			Name:    "acme",
			Balance: 25.0,
		}

		err := RespondWithJSON(w, http.StatusOK, payload)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusOK {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusOK)
		}

		contentType := w.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("RespondWithJSON() Content-Type = %s, want application/json", contentType)
		}

		var response struct {
			Name    string  `json:"name"`
			Balance float64 `json:"balance"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response.Name != payload.Name {
			t.Errorf("RespondWithJSON() name = %s, want %s", response.Name, payload.Name)
		}
		if response.Balance != payload.Balance {
			t.Errorf("RespondWithJSON() balance = %f, want %f", response.Balance, payload.Balance)
		}
	})

	t.Run("map payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := map[string]any{
			"success": true,
			"count":   42,
			"items":   []string{"a", "b", "c"},
		}

		err := RespondWithJSON(w, http.StatusCreated, payload)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusCreated {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusCreated)
		}

		var response map[string]any
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response["success"] != true {
			t.Errorf("RespondWithJSON() success = %v, want true", response["success"])
		}
		if int(response["count"].(float64)) != 42 {
			t.Errorf("RespondWithJSON() count = %v, want 42", response["count"])
		}
	})

	t.Run("nil payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := RespondWithJSON(w, http.StatusOK, nil)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		body := w.Body.String()
		if body != "null\n" {
			t.Logf("RespondWithJSON() with nil payload body = %q", body)
		}
	})
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := ErrorResponse{Error: ErrorBody{Code: CodeValidationError, Message: "name is required"}}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal ErrorResponse: %v", err)
	}

	var decoded ErrorResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal ErrorResponse: %v", err)
	}

	if decoded.Error.Code != resp.Error.Code {
		t.Errorf("Decoded code = %s, want %s", decoded.Error.Code, resp.Error.Code)
	}
	if decoded.Error.Message != resp.Error.Message {
		t.Errorf("Decoded message = %s, want %s", decoded.Error.Message, resp.Error.Message)
	}
}
