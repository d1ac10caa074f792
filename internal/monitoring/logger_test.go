package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLoggerCaptures(t *testing.T) {
	defer SetLogger(nil)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Logf("fit %d failed", 3)
	assert.Equal(t, []string{"fit 3 failed"}, got)
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped %s", "silently") })
}
