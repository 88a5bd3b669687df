package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGuidesQueryAndHint(t *testing.T) {
	guides := NewGuides([]Snippet{
		{Title: "faucet", Content: "Only on test networks.", Tags: []string{"request_faucet_funds"}},
		{Title: "gasless", Content: "USDC transfers on mainnet are sponsored.", Keywords: []string{"usdc"}, Tags: []string{"transfer_asset"}},
		{Title: "unrelated", Content: "x", Keywords: []string{"nft"}},
	}, 2)

	if got := guides.Query("send some USDC", nil); len(got) != 1 || got[0].Title != "gasless" {
		t.Fatalf("unexpected keyword match %+v", got)
	}
	if got := guides.Query("anything", []string{"request_faucet_funds", "transfer_asset"}); len(got) != 2 {
		t.Fatalf("expected tag matches, got %+v", got)
	}
	if hint := guides.Hint("TRANSFER_ASSET"); hint != "USDC transfers on mainnet are sponsored." {
		t.Fatalf("unexpected hint %q", hint)
	}

	var empty *Guides
	if empty.Hint("get_balance") != "" || empty.Query("x", nil) != nil {
		t.Fatalf("nil guides must be empty")
	}
}

func TestLoadGuides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	if err := os.WriteFile(path, []byte(`[{"title":"t","content":"c","tags":["cast_vote"]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	guides, err := LoadGuides(path, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if guides.Hint("cast_vote") != "c" {
		t.Fatalf("hint not loaded")
	}
	if g, err := LoadGuides("", 0); g != nil || err != nil {
		t.Fatalf("empty path should yield nil guides")
	}
	if _, err := LoadGuides(filepath.Join(t.TempDir(), "missing.json"), 0); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
