package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericStringToCents(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"49.00", 4900},
		{"0.99", 99},
		{"0", 0},
		{"120", 12000},
		{"5.5", 550},
		{"5.555", 556},
		{"99.994", 9999},
		{"99.995", 10000},
		{"  19.90 ", 1990},
		{"-10.50", -1050},
		{"-0.005", -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := numericStringToCents(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNumericStringToCents_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "$49.00", "10.5.5", "--1", "1e30"} {
		_, err := numericStringToCents(in)
		assert.Error(t, err, in)
	}
}

func TestCentsToNumericString(t *testing.T) {
	assert.Equal(t, "49.00", centsToNumericString(4900))
	assert.Equal(t, "0.01", centsToNumericString(1))
	assert.Equal(t, "-0.99", centsToNumericString(-99))
	assert.Equal(t, "9999999999.99", centsToNumericString(999999999999))

	for _, c := range []int64{0, 1, 4900, 12345, -1050} {
		back, err := numericStringToCents(centsToNumericString(c))
		require.NoError(t, err)
		assert.Equal(t, c, back)
	}
}
