package types

import (
	"encoding/json"
	"testing"
)

func TestParseTokenRoundTrip(t *testing.T) {
	cases := []string{
		"doge.near",
		"wrap.near",
		"meme-cooking.near:42",
		"meme-cooking.near:0",
	}
	for _, in := range cases {
		tok, err := ParseToken(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := tok.String(); got != in {
			t.Fatalf("round trip %q: got %q", in, got)
		}
	}
}

func TestParseTokenPreLaunch(t *testing.T) {
	tok, err := ParseToken("meme-cooking.near:17")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !tok.IsPreLaunch() {
		t.Fatalf("expected pre-launch token, got %q", tok.String())
	}
	id, ok := tok.AuctionID()
	if !ok || id != 17 {
		t.Fatalf("auction id: got %d, %v", id, ok)
	}
	if _, ok := tok.Account(); ok {
		t.Fatal("pre-launch token must not expose an account")
	}
}

func TestParseTokenErrors(t *testing.T) {
	if _, err := ParseToken(""); err == nil {
		t.Fatal("empty token id must fail")
	}
	if _, err := ParseToken("meme-cooking.near:not-a-number"); err == nil {
		t.Fatal("invalid auction id must fail")
	}
}

func TestTokenAsMapKey(t *testing.T) {
	m := map[Token]int{
		FT("doge.near"): 1,
		PreLaunch(5):    2,
		FT(NativeToken): 3,
	}
	if m[FT("doge.near")] != 1 || m[PreLaunch(5)] != 2 || m[FT("near")] != 3 {
		t.Fatalf("map lookups broken: %v", m)
	}
	// Same auction id, same key.
	m[PreLaunch(5)] = 20
	if len(m) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(m))
	}
}

func TestTokenJSONMapKey(t *testing.T) {
	in := map[Token]int{
		FT("doge.near"): 1,
		PreLaunch(9):    2,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[Token]int
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out[FT("doge.near")] != 1 || out[PreLaunch(9)] != 2 {
		t.Fatalf("unexpected decode result: %v", out)
	}
}

func TestNormalizeTokenID(t *testing.T) {
	cases := map[string]string{
		"wrap.near":    NativeToken,
		"wrap.testnet": NativeToken,
		"doge.near":    "doge.near",
		"near":         "near",
	}
	for in, want := range cases {
		if got := NormalizeTokenID(in); got != want {
			t.Fatalf("normalize %q: got %q, want %q", in, got, want)
		}
	}
}
