// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/errors"
)

func TestConfigForm_Apply(t *testing.T) {
	cfg := &config.Config{}
	f := NewConfigForm(cfg)
	require.NotNil(t, f.Form)
	assert.Equal(t, "4040", f.port)

	cfg.Interface = "eth0"
	f.port = " 8080 "
	require.NoError(t, f.Apply())
	assert.Equal(t, 8080, cfg.Port)

	f.port = "http"
	err := f.Apply()
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Equal(t, 8080, cfg.Port)

	f.port = "0"
	assert.Error(t, f.Apply())

	cfg.Interface = ""
	f.port = "22"
	assert.Error(t, f.Apply(), "interface still required")
}

func TestValidatePortText(t *testing.T) {
	assert.NoError(t, validatePortText("1"))
	assert.NoError(t, validatePortText("65535"))
	assert.EqualError(t, validatePortText("65536"), "invalid port number: 65536")
	assert.EqualError(t, validatePortText("abc"), "invalid port number: abc")
}
