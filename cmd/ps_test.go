package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowSeparatesFullWidthContainerID(t *testing.T) {
	widths := []int{12, 14, 20, 12}
	id := shortID("0123456789abcdef0123456789abcdef")
	line := row(widths, "kafka-1", id, "cp-kafka:7.4.0", "running")

	assert.Len(t, id, 12)
	assert.Equal(t, []string{"kafka-1", id, "cp-kafka:7.4.0", "running"}, strings.Fields(line))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "-", shortID(""))
	assert.Equal(t, "ctr-7", shortID("ctr-7"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
}
