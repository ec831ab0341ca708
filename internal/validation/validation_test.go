package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		size    int64
		wantErr bool
	}{
		{"report.pdf", 1024, false},
		{"report.pdf", 0, true},
		{"", 10, true},
		{"...", 10, true},
		{".hidden", 10, true},
		{"  spaced.pdf  ", 10, false},
	}

	for _, c := range cases {
		err := Validate(c.name, c.size)
		if c.wantErr {
			assert.Error(t, err, c.name)
		} else {
			assert.NoError(t, err, c.name)
		}
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("pdf", nil))
	assert.True(t, IsSupported(".PDF", nil))
	assert.True(t, IsSupported("ZIP", nil))
	assert.False(t, IsSupported("exe", nil))

	custom := map[string]bool{"exe": true}
	assert.True(t, IsSupported("exe", custom))
	assert.False(t, IsSupported("pdf", custom))
}

func TestValidateFully(t *testing.T) {
	err := ValidateFully("report.pdf", 1024, "pdf", nil)
	assert.NoError(t, err)

	err = ValidateFully("report.exe", 1024, "exe", nil)
	assert.Error(t, err)

	err = ValidateFully("report.pdf", 0, "pdf", nil)
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("report.PDF"))
	assert.Equal(t, "", Extension("noextension"))
	assert.Equal(t, "gz", Extension("archive.tar.gz"))
}
