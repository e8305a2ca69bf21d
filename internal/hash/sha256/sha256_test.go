package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty snapshot", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"minimal page", "<html></html>", "b633a587c652d02386c4f16f8c6f6aab7352d97f16367c3c40576214372dd628"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := New().Hash([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
