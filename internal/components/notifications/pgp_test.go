package notifications

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

func TestEncryptPGP(t *testing.T) {
	entity, err := openpgp.NewEntity("Tess", "", "tess@example.com", nil)
	require.NoError(t, err)

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	msg, err := encryptPGP("secret body", pub.String())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "-----BEGIN PGP MESSAGE-----"))

	block, err := armor.Decode(strings.NewReader(msg))
	require.NoError(t, err)
	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{entity}, nil, nil)
	require.NoError(t, err)
	plain, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	assert.Equal(t, "secret body", string(plain))
}

func TestEncryptPGP_BadKey(t *testing.T) {
	_, err := encryptPGP("x", "not a key")
	assert.Error(t, err)
}
