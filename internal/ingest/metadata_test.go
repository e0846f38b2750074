package ingest

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text unchanged",
			in:   "A quiet study of rivers.",
			want: "A quiet study of rivers.",
		},
		{
			name: "tags removed",
			in:   "<p>A <b>bold</b> tale.</p>",
			want: "A bold tale.",
		},
		{
			name: "script dropped",
			in:   "<div>Safe</div><script>alert(1)</script>",
			want: "Safe",
		},
		{
			name: "whitespace collapsed",
			in:   "<p>one</p>\n\n<p>two</p>",
			want: "one two",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSniffPDFRejectsGarbage(t *testing.T) {
	if _, err := SniffPDF("/nonexistent/file.pdf"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
