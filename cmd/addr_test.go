package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":3600", wantErr: false},
		{name: "localhost", addr: "localhost:3600", wantErr: false},
		{name: "loopback", addr: "127.0.0.1:3600", wantErr: false},
		{name: "all interfaces", addr: "0.0.0.0:80", wantErr: false},
		{name: "ipv6 loopback", addr: "[::1]:3600", wantErr: false},
		{name: "port zero auto-assign", addr: ":0", wantErr: false},
		{name: "port max", addr: ":65535", wantErr: false},
		{name: "hostname", addr: "beacon.internal:9090", wantErr: false},

		{name: "no port", addr: "localhost", wantErr: true},
		{name: "bare port number", addr: "3600", wantErr: true},
		{name: "empty string", addr: "", wantErr: true},
		{name: "port non-numeric", addr: ":abc", wantErr: true},
		{name: "port negative", addr: ":-1", wantErr: true},
		{name: "port too high", addr: ":65536", wantErr: true},
		{name: "empty port after colon", addr: "localhost:", wantErr: true},
		{name: "host with space", addr: "my host:3600", wantErr: true},
		{name: "host with newline", addr: "my\nhost:3600", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateAddr(tt.addr)
			if tt.wantErr && err == nil {
				t.Errorf("validateAddr(%q) = nil, want error", tt.addr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validateAddr(%q) = %v, want nil", tt.addr, err)
			}
		})
	}
}

func FuzzValidateAddr(f *testing.F) {
	f.Add(":3600")
	f.Add("localhost:3600")
	f.Add("")
	f.Add("[::1]:0")
	f.Add(":99999")
	f.Add("host with space:80")

	f.Fuzz(func(t *testing.T, addr string) {
		_ = validateAddr(addr) // must not panic
	})
}
