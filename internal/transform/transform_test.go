package transform

import (
	"testing"
)

func TestApply_ZeroRulesPassThrough(t *testing.T) {
	var r Rules
	got, ok := r.Apply("hello world", true)
	if !ok || got != "hello world" {
		t.Errorf("Apply = (%q, %v), want pass-through", got, ok)
	}
}

func TestApply_IncludeKeywords(t *testing.T) {
	r := Rules{IncludeKeywords: []string{"BTC", "eth"}}

	if _, ok := r.Apply("buy btc now", false); !ok {
		t.Error("message containing an include keyword must pass (case-insensitive)")
	}
	if _, ok := r.Apply("nothing relevant", false); ok {
		t.Error("message without any include keyword must be dropped")
	}
}

func TestApply_ExcludeKeywords(t *testing.T) {
	r := Rules{ExcludeKeywords: []string{"spam"}}

	if _, ok := r.Apply("this is SPAM", false); ok {
		t.Error("message containing an exclude keyword must be dropped")
	}
	if _, ok := r.Apply("legit message", false); !ok {
		t.Error("clean message must pass")
	}
}

func TestApply_ExcludeWinsOverInclude(t *testing.T) {
	r := Rules{
		IncludeKeywords: []string{"deal"},
		ExcludeKeywords: []string{"scam"},
	}
	if _, ok := r.Apply("great deal, not a scam", false); ok {
		t.Error("exclude must override include")
	}
}

func TestApply_Replacements(t *testing.T) {
	r := Rules{Replacements: map[string]string{"@oldchannel": "@newchannel"}}
	got, ok := r.Apply("join @oldchannel today", false)
	if !ok || got != "join @newchannel today" {
		t.Errorf("Apply = (%q, %v)", got, ok)
	}
}

func TestApply_PrefixSuffix(t *testing.T) {
	r := Rules{Prefix: "[fwd] ", Suffix: " — via relay"}
	got, ok := r.Apply("body", false)
	if !ok || got != "[fwd] body — via relay" {
		t.Errorf("Apply = (%q, %v)", got, ok)
	}
}

func TestApply_BlockMedia(t *testing.T) {
	r := Rules{BlockMedia: true}
	if _, ok := r.Apply("caption", true); ok {
		t.Error("media message must be dropped when BlockMedia is set")
	}
	if _, ok := r.Apply("plain text", false); !ok {
		t.Error("text message must pass when BlockMedia is set")
	}
}

func TestParseRules_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n"} {
		r, err := ParseRules(raw)
		if err != nil {
			t.Fatalf("ParseRules(%q): %v", raw, err)
		}
		if !r.isZero() {
			t.Errorf("ParseRules(%q) = %+v, want zero", raw, r)
		}
	}
}

func TestParseRules_Invalid(t *testing.T) {
	if _, err := ParseRules("{broken"); err == nil {
		t.Error("expected error for malformed rules JSON")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := Rules{
		ExcludeKeywords: []string{"spam"},
		Prefix:          ">> ",
		BlockMedia:      true,
	}
	raw, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := ParseRules(raw)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(got.ExcludeKeywords) != 1 || got.Prefix != ">> " || !got.BlockMedia {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMarshal_ZeroIsEmpty(t *testing.T) {
	raw, err := Rules{}.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if raw != "" {
		t.Errorf("zero rules marshal = %q, want empty string", raw)
	}
}
