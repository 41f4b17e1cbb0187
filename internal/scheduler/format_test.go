package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTime(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{125, "2:05"},
		{59, "0:59"},
		{0, "0:00"},
		{600, "10:00"},
		{1800, "30:00"},
		{-3, "0:00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTime(tt.seconds), "FormatTime(%d)", tt.seconds)
	}
}
