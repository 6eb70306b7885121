package address

import "testing"

import "github.com/stretchr/testify/assert"

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantOK  bool
		wantUsr string
		wantDNS string
	}{
		{"valid", "@alice/example.com", true, "alice", "example.com"},
		{"missing at", "alice/example.com", false, "", ""},
		{"missing slash", "@alice", false, "", ""},
		{"empty dns", "@alice/", false, "", ""},
		{"whitespace padded", "  @bob/example.org  ", true, "bob", "example.org"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.raw)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantUsr, got.User)
				assert.Equal(t, tc.wantDNS, got.DNS)
			}
		})
	}
}

func TestUniqueDNS(t *testing.T) {
	addrs := []Address{
		{User: "alice", DNS: "example.com"},
		{User: "bob", DNS: "example.com"},
		{User: "carol", DNS: "other.example"},
	}
	assert.Equal(t, []string{"example.com", "other.example"}, UniqueDNS(addrs))
}
