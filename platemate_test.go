package platemate

import "testing"

func TestInit(t *testing.T) {
	t.Run("no backend", func(t *testing.T) {
		if _, err := Init(InitOptions{}); err == nil {
			t.Error("Expected an error with no backend")
		}
	})

	t.Run("two backends", func(t *testing.T) {
		_, err := Init(InitOptions{GeminiAPIKey: "k", LlamaServer: "http://localhost:8080"})
		if err == nil {
			t.Error("Expected an error with two backends")
		}
	})

	t.Run("gemini", func(t *testing.T) {
		p, err := Init(InitOptions{GeminiAPIKey: "k"})
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := "gemini", p.Name(); expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}
		if expected, actual := "gemini-1.5-flash-latest", p.Model(); expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}
	})

	t.Run("llama", func(t *testing.T) {
		p, err := Init(InitOptions{LlamaServer: "http://localhost:8080"})
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := "llama", p.Name(); expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}
	})
}
