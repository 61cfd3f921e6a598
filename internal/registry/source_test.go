package registry

import "testing"

func TestResolveGitHubURL(t *testing.T) {
	cases := []struct {
		location    string
		multiPlugin bool
		want        string
	}{
		{"acme/forgehook-plugins", true, "https://raw.githubusercontent.com/acme/forgehook-plugins/main/registry.json"},
		{"acme/forgehook-plugins", false, "https://raw.githubusercontent.com/acme/forgehook-plugins/main/forgehook.json"},
		{"https://github.com/acme/forgehook-plugins", true, "https://raw.githubusercontent.com/acme/forgehook-plugins/main/registry.json"},
		{"https://github.com/acme/forgehook-plugins/blob/v2/custom.json", false, "https://raw.githubusercontent.com/acme/forgehook-plugins/v2/custom.json"},
		{"https://raw.githubusercontent.com/acme/forgehook-plugins/main/registry.json", true, "https://raw.githubusercontent.com/acme/forgehook-plugins/main/registry.json"},
	}
	for _, c := range cases {
		got, err := resolveGitHubURL(c.location, c.multiPlugin)
		if err != nil {
			t.Fatalf("resolveGitHubURL(%q): %v", c.location, err)
		}
		if got != c.want {
			t.Errorf("resolveGitHubURL(%q) = %q, want %q", c.location, got, c.want)
		}
	}
}

func TestResolveGitHubURL_Invalid(t *testing.T) {
	if _, err := resolveGitHubURL("not a valid location!!", true); err == nil {
		t.Fatal("expected error for unrecognized location")
	}
}
