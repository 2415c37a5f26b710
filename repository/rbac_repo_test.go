package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"read", "write", "approve"}, splitCSV("read,write,approve"))
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"read"}, splitCSV("read"))
	assert.Equal(t, []string{"read", "write"}, splitCSV("read,,write,"))
}
