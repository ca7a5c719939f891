package langmeta

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "pt_br", want: "pt-BR"},
		{in: " EN-us ", want: "en-US"},
		{in: "ru", want: "ru"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		got := canonicalize(tc.in)
		if got != tc.want {
			t.Fatalf("canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		got := Resolve("en-GB")
		if got.English != "British English" || got.Native != "English (UK)" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("normalized match", func(t *testing.T) {
		got := Resolve("pt_br")
		if got.English != "Brazilian Portuguese" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("base fallback", func(t *testing.T) {
		got := Resolve("fr-LU")
		if got.English != "French" || got.Native != "Français" {
			t.Fatalf("unexpected fallback result: %#v", got)
		}
	})

	t.Run("names pass through capitalized", func(t *testing.T) {
		got := Resolve("english")
		if got.English != "English" || got.Native != "English" {
			t.Fatalf("unexpected name result: %#v", got)
		}
	})
}

func TestName(t *testing.T) {
	cases := map[string]string{
		"ja":        "Japanese",
		"zh_TW":     "Traditional Chinese",
		"SPANISH":   "Spanish",
		" klingon ": "Klingon",
		"":          "",
	}
	for in, want := range cases {
		if got := Name(in); got != want {
			t.Errorf("Name(%q) = %q, want %q", in, got, want)
		}
	}
}
