package validator

import "testing"

func TestAllowList(t *testing.T) {
	strict := AllowList{Domains: []string{"shop.example", "localhost"}}
	loose := AllowList{Domains: []string{"shop.example"}, Containment: true}

	tests := []struct {
		name string
		list AllowList
		host string
		want bool
	}{
		{name: "exact", list: strict, host: "shop.example", want: true},
		{name: "case and trailing dot", list: strict, host: "Shop.Example.", want: true},
		{name: "subdomain", list: strict, host: "www.shop.example", want: true},
		{name: "suffix without dot boundary", list: strict, host: "evilshop.example", want: false},
		{name: "contained look-alike rejected by default", list: strict, host: "shop.example.attacker.net", want: false},
		{name: "contained look-alike with containment", list: loose, host: "shop.example.attacker.net", want: true},
		{name: "empty host", list: strict, host: "", want: false},
		{name: "unrelated", list: loose, host: "clone.example", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.list.Allowed(tt.host); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestRedirectURL(t *testing.T) {
	tests := map[string]string{
		"shop.example":          "https://shop.example",
		"http://localhost:3000": "http://localhost:3000",
		"":                      "",
	}
	for in, want := range tests {
		if got := RedirectURL(in); got != want {
			t.Errorf("RedirectURL(%q) = %q, want %q", in, got, want)
		}
	}
}
