package domainlock

import "testing"

func TestIsLocalDev(t *testing.T) {
	tests := map[string]bool{
		"localhost":     true,
		"LOCALHOST.":    true,
		"127.0.0.1":     true,
		"192.168.0.12":  true,
		"172.16.4.1":    true,
		"169.254.10.10": true,
		"0.0.0.0":       true,
		"[fe80::1]":     true,
		"8.8.8.8":       false,
		"shop.example":  false,
		"localhost.com": false,
		"":              false,
	}
	for host, want := range tests {
		if got := IsLocalDev(host); got != want {
			t.Errorf("IsLocalDev(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestOriginOfRecordAuthorized(t *testing.T) {
	o := OriginOfRecord{Storage: NewMemoryStorage()}

	steps := []struct {
		host string
		want bool
	}{
		{"", false},
		{"Shop.Example", true},
		{"www.shop.example", true},
		{"shop.example", true},
		{"cdn.shop.example", false},
		{"clone.example", false},
	}
	for _, s := range steps {
		if got := o.Authorized(s.host); got != s.want {
			t.Errorf("Authorized(%q) = %v, want %v", s.host, got, s.want)
		}
	}
	if v, _ := o.Storage.Get(KeyOriginOfRecord); v != "shop.example" {
		t.Errorf("recorded %q", v)
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	if _, ok := s.Get("k"); ok {
		t.Error("empty storage returned a value")
	}
	s.Set("k", "v")
	if v, ok := s.Get("k"); !ok || v != "v" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Error("Delete() left the key")
	}
}
