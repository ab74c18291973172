package xmltext

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, driven.FormatXML, New().Format())
}

func TestText(t *testing.T) {
	input := `<?xml version="1.0" encoding="UTF-8"?>
<!-- manifesto -->
<programa version="2">
  <titulo lang="es">Plan de Gobierno</titulo>
  <punto id="1">Salud &amp; bienestar</punto>
  <punto id="2"><![CDATA[Educación <gratuita>]]></punto>
  <vacio/>
</programa>`

	got, err := Text(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "Plan de Gobierno\nSalud & bienestar\nEducación <gratuita>", got)
}

func TestText_HTMLEntities(t *testing.T) {
	got, err := Text(strings.NewReader("<p>educaci&oacute;n&nbsp;p&uacute;blica</p>"))
	require.NoError(t, err)
	assert.Equal(t, "educación pública", got)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := New().Extract(context.Background(), filepath.Join(t.TempDir(), "none.xml"), "application/xml")
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestExtract_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.xml")
	require.NoError(t, os.WriteFile(path, []byte("<a><b>uno</b><c>dos</c></a>"), 0o600))

	got, err := New().Extract(context.Background(), path, "application/xml")
	require.NoError(t, err)
	assert.Equal(t, "uno\ndos", got)
}
