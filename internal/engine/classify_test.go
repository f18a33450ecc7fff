package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/sector"
)

func TestKeywordClassifier(t *testing.T) {
	cases := []struct {
		text string
		want sector.Sector
	}{
		{"how to install and configure the nginx ingress", sector.Procedural},
		{"yesterday we shipped the billing migration", sector.Episodic},
		{"i want to learn rust next quarter", sector.Reflective},
		{"felt really frustrated during the outage", sector.Emotional},
		{"the capital of france is paris", sector.Semantic},
	}
	for _, c := range cases {
		got, err := (KeywordClassifier{}).Classify(context.Background(), c.text)
		if err != nil {
			t.Fatalf("Classify(%q): %v", c.text, err)
		}
		if got.Primary != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.text, got.Primary, c.want)
		}
	}
}

func TestKeywordClassifierAdditionalSectors(t *testing.T) {
	// Procedural cues dominate, an emotional cue lingers.
	got, err := (KeywordClassifier{}).Classify(context.Background(),
		"how to configure and deploy the alerting setup i felt was flaky")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Primary != sector.Procedural {
		t.Fatalf("primary = %q, want procedural", got.Primary)
	}
	found := false
	for _, a := range got.Additional {
		if a == sector.Emotional {
			found = true
		}
		if a == got.Primary {
			t.Error("additional sectors must not repeat the primary")
		}
	}
	if !found {
		t.Errorf("additional = %v, want to include emotional", got.Additional)
	}
}

func TestKeywordClassifierKeepsOutscoredSector(t *testing.T) {
	// Episodic cues appear first in the scan order but emotional cues
	// outscore them; the displaced sector must still land in Additional.
	got, err := (KeywordClassifier{}).Classify(context.Background(),
		"during the outage i felt frustrated and worried")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Primary != sector.Emotional {
		t.Fatalf("primary = %q, want emotional", got.Primary)
	}
	found := false
	for _, a := range got.Additional {
		if a == sector.Episodic {
			found = true
		}
	}
	if !found {
		t.Errorf("additional = %v, want to include episodic", got.Additional)
	}
}

func TestLLMClassifier(t *testing.T) {
	mock := &llm.MockClient{
		Response: &llm.Response{Content: `{"primary": "episodic", "additional": ["emotional"]}`},
	}
	c := &LLMClassifier{Client: mock}

	got, err := c.Classify(context.Background(), "we had a rough deploy last tuesday")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Primary != sector.Episodic {
		t.Errorf("primary = %q, want episodic", got.Primary)
	}
	if len(got.Additional) != 1 || got.Additional[0] != sector.Emotional {
		t.Errorf("additional = %v, want [emotional]", got.Additional)
	}
}

func TestLLMClassifierRejectsUnknownSector(t *testing.T) {
	mock := &llm.MockClient{
		Response: &llm.Response{Content: `{"primary": "nostalgic", "additional": []}`},
	}
	c := &LLMClassifier{Client: mock}

	_, err := c.Classify(context.Background(), "some text")
	if !errors.Is(err, llm.ErrParse) {
		t.Fatalf("err = %v, want ErrParse for out-of-enum sector", err)
	}
}

func TestLLMClassifierDropsInvalidAdditional(t *testing.T) {
	mock := &llm.MockClient{
		Response: &llm.Response{Content: `{"primary": "semantic", "additional": ["semantic", "bogus", "episodic"]}`},
	}
	c := &LLMClassifier{Client: mock}

	got, err := c.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.Additional) != 1 || got.Additional[0] != sector.Episodic {
		t.Errorf("additional = %v, want [episodic]", got.Additional)
	}
}

func TestLLMClassifierNilClient(t *testing.T) {
	c := &LLMClassifier{}
	if _, err := c.Classify(context.Background(), "text"); !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("err = %v, want ErrClassifierUnavailable", err)
	}
}
