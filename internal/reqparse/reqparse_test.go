package reqparse

import "testing"

func TestValidateMethod(t *testing.T) {
	cases := map[string]bool{
		"GET": true, "POST": true, "PATCH": false, "get": false, "": false,
	}
	for method, want := range cases {
		err := ValidateMethod(method)
		if (err == nil) != want {
			t.Errorf("ValidateMethod(%q): got err=%v, want valid=%v", method, err, want)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion("HTTP/1.1"); err != nil {
		t.Errorf("HTTP/1.1 should be valid: %v", err)
	}
	if err := ValidateVersion("HTTP/2.0"); err == nil {
		t.Error("HTTP/2.0 should be rejected")
	}
}

func TestValidateTarget(t *testing.T) {
	valid := []string{"/", "/foo/bar", "/foo?x=1&y=2", "/a.b-c_d~e!f$g*h()[]';:&%+="}
	for _, target := range valid {
		if err := ValidateTarget(target); err != nil {
			t.Errorf("%q should be valid: %v", target, err)
		}
	}
	invalid := []string{"foo", "http://example.com/", "/foo\r\n", "/foo bar"}
	for _, target := range invalid {
		if err := ValidateTarget(target); err == nil {
			t.Errorf("%q should be rejected", target)
		}
	}
}

func TestSplitTarget(t *testing.T) {
	path, query := SplitTarget("/a/b?c=1")
	if path != "/a/b" || query != "c=1" {
		t.Fatalf("got path=%q query=%q", path, query)
	}
	path, query = SplitTarget("/a/b")
	if path != "/a/b" || query != "" {
		t.Fatalf("got path=%q query=%q", path, query)
	}
}
