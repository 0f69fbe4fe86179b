package s3storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "experiments/e1/GO terms.input", StageInputKey("e1", "GO terms"))
	assert.Equal(t, "exports/e1/j1.tsv", ExportKey("e1", "j1"))
}

func TestPresignResultURL(t *testing.T) {
	cfg := config.Default()
	s, err := New(cfg)
	require.NoError(t, err)

	// Presigning is computed locally and needs no running server.
	link, err := s.PresignResultURL(context.Background(), ExportKey("e1", "j1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.Contains(link, cfg.ResultBucket+"/exports/e1/j1.tsv"))
	assert.Contains(t, link, "X-Amz-Signature=")
}
