package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDetailSanitizer_Sanitize(t *testing.T) {
	s := NewDetailSanitizer()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "JSON本文はそのまま",
			raw:  `{"detail":"Not authenticated"}`,
			want: `{"detail":"Not authenticated"}`,
		},
		{
			name: "HTMLのエラーページはテキストのみ",
			raw:  "<html><body><h1>502 Bad Gateway</h1>\n<hr><center>nginx</center></body></html>",
			want: "502 Bad Gateway nginx",
		},
		{
			name: "scriptは除去される",
			raw:  `oops<script>alert("x")</script>`,
			want: "oops",
		},
		{
			name: "空白を詰める",
			raw:  "  Internal\n\n  Server   Error ",
			want: "Internal Server Error",
		},
		{
			name: "空文字列",
			raw:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.raw); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDetailSanitizer_Truncates(t *testing.T) {
	s := NewDetailSanitizer()

	got := s.Sanitize(strings.Repeat("あ", maxDetailLength+10))
	if n := utf8.RuneCountInString(got); n != maxDetailLength+3 {
		t.Errorf("文字数 = %d, want %d", n, maxDetailLength+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("切り詰め後に ... が付与されていない")
	}
}
