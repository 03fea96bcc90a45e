package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestakingABI_PacksIsOperatorAndJoinOperators(t *testing.T) {
	restakingABI := mustParseRestakingABI()

	data, err := restakingABI.Pack("isOperator", common.HexToAddress("0x1"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	data, err = restakingABI.Pack("joinOperators")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRegistryABI_PacksPreRegisterAndRegister(t *testing.T) {
	registryABI := mustParseRegistryABI()

	data, err := registryABI.Pack("preRegister", uint64(7))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	data, err = registryABI.Pack("register", uint64(7), []byte{0x02, 0x03}, "http://127.0.0.1:9000")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
