package nsp

import "testing"

func TestPackageURL(t *testing.T) {
	tt := []struct {
		In   string
		Want string
		Err  bool
	}{
		{In: "lodash", Want: "pkg:npm/lodash"},
		{In: "@angular/core", Want: "pkg:npm/%40angular/core"},
		{In: " uglify-js ", Want: "pkg:npm/uglify-js"},
		{In: "", Err: true},
		{In: "@scope", Err: true},
		{In: "@/name", Err: true},
	}
	for _, tc := range tt {
		p, err := PackageURL(tc.In)
		if (err != nil) != tc.Err {
			t.Errorf("%q: unexpected error state: %v", tc.In, err)
			continue
		}
		if err != nil {
			continue
		}
		if got := p.ToString(); got != tc.Want {
			t.Errorf("%q: got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}

func TestPackageURLType(t *testing.T) {
	p, err := PackageURL("left-pad")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.Type, "npm"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}
