package registry

import "testing"

func TestBuildKnownKinds(t *testing.T) {
	for _, kind := range []string{"gemini", "google", "openai_compat", "openai"} {
		if _, err := Build(BuildOptions{Kind: kind, BaseURL: "https://example.com", APIKey: "k"}); err != nil {
			t.Fatalf("build %q: %v", kind, err)
		}
	}
}

func TestBuildUnknownKind(t *testing.T) {
	if _, err := Build(BuildOptions{Kind: "mystery"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
