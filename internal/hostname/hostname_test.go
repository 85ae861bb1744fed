package hostname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		host    string
		wantErr bool
		node    string
		site    string
	}{
		{
			name: "bare node and site",
			host: "mlab1.acc01.measurement-lab.org",
			node: "mlab1",
			site: "acc01",
		},
		{
			name: "experiment-prefixed hostname",
			host: "ndt.iupui.mlab2.nuq1t.measurement-lab.org",
			node: "mlab2",
			site: "nuq1t",
		},
		{
			name: "mlab node letter t site code",
			host: "mlab4.sea0t.measurement-lab.org",
			node: "mlab4",
			site: "sea0t",
		},
		{
			name:    "wrong domain",
			host:    "mlab1.acc01.example.org",
			wantErr: true,
		},
		{
			name:    "node out of range",
			host:    "mlab0.acc01.measurement-lab.org",
			wantErr: true,
		},
		{
			name:    "empty string",
			host:    "",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.host)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.node, id.Node)
			assert.Equal(t, tc.site, id.Site)
			assert.Equal(t, tc.host, id.Host)
		})
	}
}

func TestMustParsePanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustParse("not-a-valid-host")
	})
}
