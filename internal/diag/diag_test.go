package diag_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobbiw/eightball/internal/diag"
)

func TestPrintfFormatsLevelPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := diag.New(&buf)
	log.Printf("INFO", "loaded %d lines", 3)
	assert.Equal(t, "INFO: loaded 3 lines\n", buf.String())
}

func TestErrorfSetsExitCode(t *testing.T) {
	var buf bytes.Buffer
	log := diag.New(&buf)
	assert.Equal(t, 0, log.ExitCode())
	log.Errorf("bad subscript")
	assert.Equal(t, "ERROR: bad subscript\n", buf.String())
	assert.Equal(t, 1, log.ExitCode())
}

func TestErrorIfPassesThroughNil(t *testing.T) {
	var buf bytes.Buffer
	log := diag.New(&buf)
	assert.NoError(t, diag.ErrorIf(log, nil))
	assert.Equal(t, 0, log.ExitCode())
}
