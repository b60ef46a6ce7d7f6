package analyzer

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{401, ErrorClassAuth},
		{403, ErrorClassAuth},
		{429, ErrorClassQuota},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{0, ErrorClassNetwork},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("analyze: %w", &RemoteError{
		Backend: "gemini",
		Class:   ErrorClassNetwork,
		Message: "connection reset",
		Err:     io.ErrUnexpectedEOF,
	})

	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatal("Expected errors.As to find a *RemoteError")
	}
	if re.Class != ErrorClassNetwork {
		t.Errorf("Expected class %q, got %q", ErrorClassNetwork, re.Class)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Expected wrapped error to be reachable with errors.Is")
	}
	if expected, actual := "gemini network error: connection reset", re.Error(); expected != actual {
		t.Errorf("Expected %q, got %q", expected, actual)
	}
}
