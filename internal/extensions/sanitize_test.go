package extensions

import "testing"

func TestSanitizeNameLowercasesAndDropsWhitespace(t *testing.T) {
	cases := map[string]string{
		"GitHub":          "github",
		"file system":     "filesystem",
		"My-Tool_v2":      "my-tool_v2",
		"  leading space": "leadingspace",
		"":                "",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeNameReplacesOtherCodePointsWithUnderscore(t *testing.T) {
	got := SanitizeName("Test Client 🚀")
	want := "testclient_"
	if got != want {
		t.Fatalf("SanitizeName(%q) = %q, want %q", "Test Client 🚀", got, want)
	}
}

func TestPrefixedToolNameRoundTrip(t *testing.T) {
	sanitised := SanitizeName("My Extension")
	prefixed := PrefixedToolName(sanitised, "do_thing")

	tool, ok := SplitPrefixedToolName(prefixed, sanitised)
	if !ok {
		t.Fatalf("SplitPrefixedToolName(%q, %q) failed", prefixed, sanitised)
	}
	if tool != "do_thing" {
		t.Fatalf("got tool name %q, want %q", tool, "do_thing")
	}
}

func TestSplitPrefixedToolNameRejectsWrongExtension(t *testing.T) {
	prefixed := PrefixedToolName("alpha", "do_thing")
	if _, ok := SplitPrefixedToolName(prefixed, "beta"); ok {
		t.Fatalf("split must fail when the prefix belongs to a different extension")
	}
}

func TestSplitPrefixedToolNameRejectsMissingSeparator(t *testing.T) {
	if _, ok := SplitPrefixedToolName("alphado_thing", "alpha"); ok {
		t.Fatalf("split must require the '__' separator, not just a matching prefix")
	}
}
