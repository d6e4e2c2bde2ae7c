package textutil

import "testing"

func TestTitleFromFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"morning_run.m3u8", "Morning Run"},
		{"weekly-news.update.m3u", "Weekly News Update"},
		{"  spaced  out .m3u8", "Spaced Out"},
		{".m3u8", "Untitled"},
		{"", "Untitled"},
	}
	for _, tc := range cases {
		if got := TitleFromFileName(tc.in); got != tc.want {
			t.Fatalf("TitleFromFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(`ep: one/two?`); got != "ep- one-two" {
		t.Fatalf("SanitizeFileName = %q", got)
	}
	if got := SanitizeFileName("   "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
