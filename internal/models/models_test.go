package models

import (
	"strings"
	"testing"
)

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"granite-code":                  "granite-code:latest",
		"granite-code:8b":               "granite-code:8b",
		"nomic-embed-text:latest":       "nomic-embed-text:latest",
		"  phi3.5 ":                     "phi3.5:latest",
		"registry.local:5000/ns/model":  "registry.local:5000/ns/model:latest",
		"registry.local:5000/ns/m:v1.2": "registry.local:5000/ns/m:v1.2",
		"":                              "",
	}
	for in, want := range cases {
		if got := Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonical_Idempotent(t *testing.T) {
	for _, name := range []string{"m", "m:latest", "m:3b", "ns/m", "host:1/ns/m"} {
		once := Canonical(name)
		if twice := Canonical(once); twice != once {
			t.Errorf("Canonical(Canonical(%q)) = %q, want %q", name, twice, once)
		}
	}
	if Canonical("m") != Canonical("m:latest") {
		t.Error("Canonical(m) != Canonical(m:latest)")
	}
	if !Same("m", "m:latest") {
		t.Error("Same(m, m:latest) = false, want true")
	}
	if Same("m:3b", "m:8b") {
		t.Error("Same(m:3b, m:8b) = true, want false")
	}
}

func TestSplitTag(t *testing.T) {
	repo, tag := SplitTag("granite-code")
	if repo != "granite-code" || tag != "latest" {
		t.Errorf("SplitTag(granite-code) = %q, %q", repo, tag)
	}
	repo, tag = SplitTag("granite-code:20b")
	if repo != "granite-code" || tag != "20b" {
		t.Errorf("SplitTag(granite-code:20b) = %q, %q", repo, tag)
	}
}

func TestBundledInfo(t *testing.T) {
	info, ok := BundledInfo("nomic-embed-text")
	if !ok {
		t.Fatal("BundledInfo(nomic-embed-text) missing")
	}
	if info.Size != "274MB" {
		t.Errorf("Size = %q, want 274MB", info.Size)
	}
	if _, ok := BundledInfo("llama3"); ok {
		t.Error("BundledInfo(llama3) found, want miss")
	}
}

func TestProgressEvent_HasBytes(t *testing.T) {
	var n int64 = 10
	if (ProgressEvent{Status: "verifying"}).HasBytes() {
		t.Error("phase-only event reports bytes")
	}
	if !(ProgressEvent{Completed: &n, Total: &n}).HasBytes() {
		t.Error("byte event reports no bytes")
	}
}

func TestDigestMatches(t *testing.T) {
	full := "a5c9b3f7e8d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f0e9d8c7b6"
	if !DigestMatches(full, "a5c9b3f7e8d2") {
		t.Error("abbreviated catalog digest should match")
	}
	if !DigestMatches("sha256:"+full, strings.ToUpper(full[:12])) {
		t.Error("prefix and case differences should be ignored")
	}
	if DigestMatches(full, "ffffffffffff") {
		t.Error("different digests matched")
	}
	if DigestMatches(full, "") {
		t.Error("empty remote digest matched")
	}
}
