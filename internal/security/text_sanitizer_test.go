package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "山田太郎です", want: "山田太郎です"},
		{name: "空文字列", input: "", want: ""},
		{name: "タグを除去する", input: "<b>太字</b>の名前", want: "太字の名前"},
		{name: "scriptは中身ごと除去する", input: "hi<script>alert(1)</script>", want: "hi"},
		{name: "アンパサンドはエスケープしない", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "イベント属性付きimgを除去する", input: `<img src=x onerror="alert(1)">ok`, want: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_StableOnSanitizedText(t *testing.T) {
	s := NewTextSanitizer()
	input := `<p>自己紹介 &amp; <a href="https://example.com">リンク</a></p>`

	once := s.Sanitize(input)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize changed sanitized text: %q != %q", once, twice)
	}
}
