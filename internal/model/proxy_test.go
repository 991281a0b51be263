package model

import (
	"errors"
	"net/url"
	"testing"
)

func TestParsePreviewRequest(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    PreviewRequest
		wantErr error
	}{
		{
			name:  "defaults",
			query: "sessionId=abc",
			want:  PreviewRequest{SessionID: "abc", Port: 3000, Path: "/"},
		},
		{
			name:  "explicit port and encoded path",
			query: "sessionId=abc&port=5173&path=%2Fassets%2Fapp.js%3Fv%3D1",
			want:  PreviewRequest{SessionID: "abc", Port: 5173, Path: "/assets/app.js?v=1"},
		},
		{
			name:    "missing session",
			query:   "port=3000&path=%2F",
			wantErr: ErrMissingSessionID,
		},
		{
			name:    "empty session",
			query:   "sessionId=",
			wantErr: ErrMissingSessionID,
		},
		{
			name:    "port not a number",
			query:   "sessionId=abc&port=http",
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port zero",
			query:   "sessionId=abc&port=0",
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port too large",
			query:   "sessionId=abc&port=65536",
			wantErr: ErrInvalidPort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}
			got, err := ParsePreviewRequest(q)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePreviewRequest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePreviewRequest() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUpstreamResponse_OK(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 299: true, 304: false, 404: false, 502: false} {
		r := &UpstreamResponse{StatusCode: code}
		if got := r.OK(); got != want {
			t.Errorf("OK() for %d = %v, want %v", code, got, want)
		}
	}
}
