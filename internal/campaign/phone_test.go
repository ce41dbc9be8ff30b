package campaign

import "testing"

func TestSanitizePhone(t *testing.T) {
	cases := []struct {
		in     string
		digits string
		ok     bool
	}{
		{"5512345678", "5512345678", true},
		{" 55 1234-5678 ", "5512345678", true},
		{"(55) 12.34.56.78", "5512345678", true},
		{"+52 55 1234 5678", "525512345678", true},
		{"", "", false},
		{"   ", "", false},
		{"nan", "", false},
		{"NaN", "", false},
		{"cerrado", "", false},
		{"CERRADO", "", false},
		{"cierra pronto", "", false},
		{"123456", "", false}, // six digits
		{"1234567", "1234567", true},
		{"abc-def", "", false},
	}
	for _, c := range cases {
		digits, ok := SanitizePhone(c.in)
		if ok != c.ok || digits != c.digits {
			t.Errorf("SanitizePhone(%q) = %q, %v; want %q, %v", c.in, digits, ok, c.digits, c.ok)
		}
	}
}

func TestRecipientKey(t *testing.T) {
	cases := []struct {
		cc, digits, want string
	}{
		{"52", "5512345678", "525512345678"},
		{"52", "525512345678", "525512345678"}, // already prefixed
		{"52", "521234567", "521234567"},
		{"", "5512345678", "5512345678"},
		{"1", "15551234567", "15551234567"},
		{"1", "5551234567", "15551234567"},
	}
	for _, c := range cases {
		if got := RecipientKey(c.cc, c.digits); got != c.want {
			t.Errorf("RecipientKey(%q, %q) = %q, want %q", c.cc, c.digits, got, c.want)
		}
	}
}

func TestFormatE164(t *testing.T) {
	if got := FormatE164("52", "5512345678"); got != "+525512345678" {
		t.Fatalf("FormatE164 = %q", got)
	}
}
