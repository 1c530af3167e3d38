package transport

import "testing"

func TestParseCLIURL(t *testing.T) {
	cases := []struct {
		raw      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"8080", "localhost", 8080, false},
		{"example.com:9000", "example.com", 9000, false},
		{"http://example.com:9000", "example.com", 9000, false},
		{"tcp://0.0.0.0:1234", "0.0.0.0", 1234, false},
		{"notaport", "", 0, true},
		{"host:70000", "", 0, true},
		{"host:0", "", 0, true},
	}
	for _, tc := range cases {
		host, port, err := ParseCLIURL(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCLIURL(%q) expected error, got host=%q port=%d", tc.raw, host, port)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCLIURL(%q) unexpected error: %v", tc.raw, err)
			continue
		}
		if host != tc.wantHost || port != tc.wantPort {
			t.Errorf("ParseCLIURL(%q) = (%q, %d), want (%q, %d)", tc.raw, host, port, tc.wantHost, tc.wantPort)
		}
	}
}

func TestParsePortAnnouncement(t *testing.T) {
	port, ok := ParsePortAnnouncement("server listening on port 54321 now")
	if !ok || port != 54321 {
		t.Errorf("ParsePortAnnouncement() = (%d, %v), want (54321, true)", port, ok)
	}
	if _, ok := ParsePortAnnouncement("no port here"); ok {
		t.Error("ParsePortAnnouncement() expected no match")
	}
}
